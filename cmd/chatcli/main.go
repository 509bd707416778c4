package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/taskchat/internal/chat"
	"github.com/vovakirdan/taskchat/internal/client"
	logpkg "github.com/vovakirdan/taskchat/internal/log"
	"github.com/vovakirdan/taskchat/internal/session"
	"github.com/vovakirdan/taskchat/internal/store/sqlite"
)

type options struct {
	server   string
	username string
	password string
	userID   int64
	name     string
	admin    bool
	dbPath   string
	peer     int64
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chatcli:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "chatcli",
		Short:         "Line-based chat client for the taskchat broker",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:9876", "broker base URL")

	f := cmd.Flags()
	f.StringVar(&opts.username, "username", "", "account to log in with")
	f.StringVar(&opts.password, "password", "", "account password")
	f.Int64Var(&opts.userID, "user-id", 0, "connect without login using this id")
	f.StringVar(&opts.name, "name", "", "display name used with --user-id")
	f.BoolVar(&opts.admin, "admin", false, "claim the admin role when connecting without login")
	f.StringVar(&opts.dbPath, "db", "", "local message store (default chatcli-<id>.db)")
	f.Int64Var(&opts.peer, "peer", 0, "conversation to open on start")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	cmd.AddCommand(newSmokeCmd(&opts.server))
	return cmd
}

func run(parent context.Context, opts *options) error {
	logger := logpkg.NewWithWriter(os.Stderr, opts.logLevel)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := newAPIClient(opts.server)
	identity := session.NewStatic(opts.userID, opts.name, opts.admin)
	var directory chat.Directory

	switch {
	case opts.username != "":
		resp, err := api.login(ctx, opts.username, opts.password)
		if err != nil {
			return err
		}
		identity.Set(resp.UserID, resp.Username, resp.IsAdmin)
		directory = api
	case opts.userID > 0 && opts.name != "":
	default:
		return errors.New("either --username/--password or --user-id/--name is required")
	}

	dbPath := opts.dbPath
	if dbPath == "" {
		dbPath = fmt.Sprintf("chatcli-%d.db", identity.CurrentUserID())
	}
	messages, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer messages.Close()

	local := &archivingStore{SQLiteStore: messages, api: api, identity: identity, log: logger}

	c := client.New(client.Options{URL: wsURL(opts.server), Token: api.token}, logger)
	con := newConsole(os.Stdout, identity, c)

	inbox := chat.NewInbox(identity, local, con.handlers(), logger)
	c.AddMessageListener(inbox)
	con.messenger = chat.NewMessenger(chat.MessengerConfig{
		Identity:  identity,
		Messages:  local,
		Sender:    c,
		Directory: directory,
		Inbox:     inbox,
		Logger:    logger,
	})

	if !c.Connect(ctx, identity.CurrentUserID(), identity.CurrentUsername(), identity.IsAdmin()) {
		return errors.New("could not connect to broker")
	}
	defer c.Disconnect()

	con.printf("connected as %s (#%d), /help for commands", identity.CurrentUsername(), identity.CurrentUserID())
	if opts.peer > 0 {
		con.open(ctx, opts.peer)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || !con.exec(ctx, line) {
				return nil
			}
		}
	}
}
