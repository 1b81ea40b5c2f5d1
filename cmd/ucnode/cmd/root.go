// Package cmd implements the ucnode CLI surface: one "run" subcommand that
// starts a consensus node against a hub (§6).
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// New constructs the root ucnode command.
func New() *cobra.Command {
	root := &cobra.Command{
		Use:           "ucnode",
		Short:         "Runs a uniform-consensus node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

// Execute runs the root command against ctx, the teacher's own
// cmd.New(...).Execute(ctx) entry point.
func Execute(ctx context.Context) error {
	return New().ExecuteContext(ctx)
}
