package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vovakirdan/taskchat/internal/store"
	api "github.com/vovakirdan/taskchat/internal/transport/http"
)

var errUnauthorized = errors.New("unauthorized")

// apiClient talks to the broker's REST endpoints.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// login exchanges credentials for a token and remembers it for later calls.
func (a *apiClient) login(ctx context.Context, username, password string) (*api.AuthResponse, error) {
	var resp api.AuthResponse
	if err := a.do(ctx, http.MethodPost, "/api/login", api.LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	a.token = resp.Token
	return &resp, nil
}

// ListAdmins implements chat.Directory.
func (a *apiClient) ListAdmins(ctx context.Context) ([]*store.User, error) {
	var admins []api.UserResponse
	if err := a.do(ctx, http.MethodGet, "/api/admins", nil, &admins); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	users := make([]*store.User, 0, len(admins))
	for _, u := range admins {
		users = append(users, &store.User{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin})
	}
	return users, nil
}

// archive copies a message the user sent to the server history.
func (a *apiClient) archive(ctx context.Context, msg *store.Message) error {
	req := api.ArchiveRequest{ReceiverID: msg.ReceiverID, Text: msg.Body, SentAt: msg.SentAt}
	if err := a.do(ctx, http.MethodPost, "/api/messages", req, nil); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}

func (a *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return errUnauthorized
	case resp.StatusCode >= 300:
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return errors.New(resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// wsURL maps http(s)://host to ws(s)://host/ws.
func wsURL(server string) string {
	server = strings.TrimRight(server, "/")
	switch {
	case strings.HasPrefix(server, "https://"):
		server = "wss://" + strings.TrimPrefix(server, "https://")
	case strings.HasPrefix(server, "http://"):
		server = "ws://" + strings.TrimPrefix(server, "http://")
	}
	return server + "/ws"
}
