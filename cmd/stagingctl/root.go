package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var reviewerFlag string

	ctx := newCommandContext(&reviewerFlag)

	rootCmd := &cobra.Command{
		Use:           "stagingctl",
		Short:         "Operate the research metadata staging store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&reviewerFlag, "reviewer", "", "Email of the account recorded as reviewer")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newSchemasCommand(ctx))
	rootCmd.AddCommand(newPromoteCommand(ctx))
	rootCmd.AddCommand(newRejectCommand(ctx))
	rootCmd.AddCommand(newPurgeCommand(ctx))
	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newEnrichCommand(ctx))
	rootCmd.AddCommand(newOrcidSearchCommand(ctx))
	rootCmd.AddCommand(newOrcidImportCommand(ctx))
	rootCmd.AddCommand(newUserCommand(ctx))

	return rootCmd
}
