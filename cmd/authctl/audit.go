package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	auditrepo "budget-tracker/backend/internal/audit/repository"
	"budget-tracker/backend/internal/config"
	"budget-tracker/backend/internal/db"
)

// auditStore opens the audit repository and returns it with a close func.
type auditStore func(ctx context.Context) (auditrepo.Repository, func() error, error)

func postgresAudit(ctx context.Context) (auditrepo.Repository, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return auditrepo.NewPostgresRepository(conn), conn.Close, nil
}

func newAuditCommand() *cobra.Command {
	return newAuditCommandWith(postgresAudit)
}

func newAuditCommandWith(open auditStore) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the auth audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		userID string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "Print the newest audit entries of one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			ctx := commandContext(cmd)
			repo, closeFn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			entries, err := repo.ListByUser(ctx, userID, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTION\tSESSION\tIP\tDETAIL\tCOUNT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					e.CreatedAt.Format(time.RFC3339), e.Action, e.SessionID, e.IP, e.Detail, e.Count)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&userID, "user", "", "Internal user id")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries")
	_ = list.MarkFlagRequired("user")
	cmd.AddCommand(list)
	return cmd
}
