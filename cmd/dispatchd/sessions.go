package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/dispatch-auth/internal/auth"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/config"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/database"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/logging"
)

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Maintain stored sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired sessions now",
		Long: `purge removes every session whose expiry has passed. Expired sessions
already fail refresh; purging only reclaims space. serve runs the same sweep
every security.sessions.purge_interval minutes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}

			manager := newManager(cfg, db, nil, log)
			n, err := manager.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired sessions\n", n)
			return err
		},
	})

	return cmd
}

// newManager wires the session manager over db. events may be nil.
func newManager(cfg *config.Config, db *database.DB, events auth.EventSink, log *logging.Logger) *auth.Manager {
	issuer := auth.NewIssuer(auth.IssuerConfig{
		Secret:    cfg.Security.JWT.Secret,
		AccessTTL: cfg.AccessTTL(),
		Issuer:    cfg.Security.JWT.Issuer,
	})

	return auth.NewManager(auth.ManagerDeps{
		Users:       auth.NewUserRepository(db.DB),
		Sessions:    auth.NewSessionRepository(db.DB),
		Preferences: auth.NewPreferencesRepository(db.DB),
		Issuer:      issuer,
		Tx:          database.NewTransactor(db.DB),
		Events:      events,
		Logger:      log.Logger,
	}, auth.ManagerConfig{
		RefreshTTL:          cfg.RefreshTTL(),
		RotateRefreshTokens: cfg.Security.Sessions.RotateRefreshTokens,
		ReuseGrace:          cfg.ReuseGrace(),
	})
}
