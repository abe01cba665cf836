package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"budget-tracker/backend/internal/config"
	"budget-tracker/backend/internal/db"
	sessionrepo "budget-tracker/backend/internal/session/repository"
	sessionservice "budget-tracker/backend/internal/session/service"
)

// sessionStore opens the configured database and returns a manager over it plus a close func.
type sessionStore func(ctx context.Context) (*sessionservice.Manager, func() error, error)

func postgresSessions(ctx context.Context) (*sessionservice.Manager, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	m := sessionservice.NewManager(sessionrepo.NewPostgresRepository(conn), nil, nil, nil, nil, sessionservice.Config{
		StoreTimeout: cfg.QueryTimeout(),
	})
	return m, conn.Close, nil
}

func newSessionsCommand() *cobra.Command {
	return newSessionsCommandWith(postgresSessions)
}

func newSessionsCommandWith(open sessionStore) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Refresh session maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Delete every expired refresh session now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			m, closeFn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := m.SweepExpired(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired sessions\n", n)
			return nil
		},
	})

	var userID string
	revokeAll := &cobra.Command{
		Use:   "revoke-all",
		Short: "Revoke every refresh session of one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			m, closeFn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := m.RevokeAll(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d sessions of user %s\n", n, userID)
			return nil
		},
	}
	revokeAll.Flags().StringVar(&userID, "user", "", "Internal user id")
	_ = revokeAll.MarkFlagRequired("user")
	cmd.AddCommand(revokeAll)
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
