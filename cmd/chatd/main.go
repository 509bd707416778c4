package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/taskchat/internal/app"
	"github.com/vovakirdan/taskchat/internal/auth"
	"github.com/vovakirdan/taskchat/internal/config"
	logpkg "github.com/vovakirdan/taskchat/internal/log"
	"github.com/vovakirdan/taskchat/internal/store/sqlite"
)

type rootState struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chatd:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	st := &rootState{}

	root := &cobra.Command{
		Use:           "chatd",
		Short:         "Direct message broker for user and admin chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			bootstrap := logpkg.New(st.logLevel)
			cfg, path, err := config.Load(bootstrap, st.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = st.logLevel
			}
			st.cfg = cfg
			st.logger = logpkg.New(cfg.LogLevel)
			st.logger.Debug().Str("config", path).Msg("configuration loaded")
			return nil
		},
	}
	root.PersistentFlags().StringVar(&st.configPath, "config", "", "path to config.yaml (default ./config.yaml)")
	root.PersistentFlags().StringVar(&st.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(newServeCmd(st), newUserCmd(st), newTokenCmd(st))
	return root
}

func newServeCmd(st *rootState) *cobra.Command {
	var addr, dbPath string
	var requireToken bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker and REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := st.cfg
			overrides := config.Overrides{Addr: addr, DatabasePath: dbPath}
			if cmd.Flags().Changed("require-token") {
				overrides.RequireToken = &requireToken
			}
			cfg.Apply(overrides)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg, st.logger)
			if err != nil {
				return err
			}

			st.logger.Info().Str("addr", cfg.Addr).Bool("require_token", cfg.RequireToken).Msg("starting taskchat broker")
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited: %w", err)
			}
			st.logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	cmd.Flags().BoolVar(&requireToken, "require-token", false, "reject CONNECT without a valid token (overrides config)")
	return cmd
}

func newUserCmd(st *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var password string
	var admin bool
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return errors.New("--password is required")
			}
			svc, closeStore, err := openAuth(st.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			user, err := svc.CreateUser(cmd.Context(), args[0], password, admin)
			if err != nil {
				return err
			}
			st.logger.Info().Int64("user_id", user.ID).Str("username", user.Username).Bool("is_admin", user.IsAdmin).Msg("user created")
			fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return nil
		},
	}
	add.Flags().StringVar(&password, "password", "", "account password")
	add.Flags().BoolVar(&admin, "admin", false, "grant the admin role")

	cmd.AddCommand(add)
	return cmd
}

func newTokenCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "token <username>",
		Short: "Print a signed token for an existing account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := openAuth(st.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			token, err := svc.TokenFor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func openAuth(cfg config.Config) (*auth.Service, func(), error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	svc := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})
	return svc, func() { _ = st.Close() }, nil
}
