// authctl is the operator CLI for signing keys and refresh sessions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Manage signing keys, refresh sessions and the audit trail of the auth backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newKeysCommand())
	cmd.AddCommand(newSessionsCommand())
	cmd.AddCommand(newAuditCommand())
	return cmd
}
