package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/session"
	"github.com/vovakirdan/taskchat/internal/store"
	"github.com/vovakirdan/taskchat/internal/store/sqlite"
)

// archivingStore keeps every message in the local database and copies the user's own
// sent messages to the server history when logged in.
type archivingStore struct {
	*sqlite.SQLiteStore
	api      *apiClient
	identity session.Identity
	log      *zerolog.Logger
}

var _ store.MessageStore = (*archivingStore)(nil)

func (s *archivingStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if err := s.SQLiteStore.SaveMessage(ctx, msg); err != nil {
		return err
	}
	if s.api == nil || s.api.token == "" || msg.SenderID != s.identity.CurrentUserID() {
		return nil
	}
	// the local copy is authoritative for this client
	if err := s.api.archive(ctx, msg); err != nil {
		s.log.Warn().Err(err).Int64("message_id", msg.ID).Msg("server history not updated")
	}
	return nil
}
