package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/research-staging-api/internal/app"
	"github.com/noah-isme/research-staging-api/internal/models"
)

func newPromoteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <staging-id>",
		Short: "Approve a staging entry and copy it to the permanent store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withContainer(cmd.Context(), func(c *app.Container) error {
				reviewer, err := ctx.reviewer(cmd.Context(), c)
				if err != nil {
					return err
				}
				entry, err := c.Promotion.Promote(cmd.Context(), args[0], reviewer)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "promoted %s as permanent entry %s\n", args[0], entry.ID)
				return nil
			})
		},
	}
}

func newRejectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <staging-id>",
		Short: "Reject a pending staging entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withContainer(cmd.Context(), func(c *app.Container) error {
				reviewer, err := ctx.reviewer(cmd.Context(), c)
				if err != nil {
					return err
				}
				if _, err := c.Staging.SetStatus(cmd.Context(), args[0], models.StagingStatusRejected, reviewer); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rejected %s\n", args[0])
				return nil
			})
		},
	}
}

type purgeFlags struct {
	batch     string
	status    string
	olderThan time.Duration
}

func (f purgeFlags) filter(now time.Time) (models.PurgeFilter, error) {
	filter := models.PurgeFilter{SourceBatchID: strings.TrimSpace(f.batch)}
	if f.status != "" {
		st := models.StagingStatus(strings.ToUpper(strings.TrimSpace(f.status)))
		if !st.Valid() {
			return filter, fmt.Errorf("unknown status %q", f.status)
		}
		filter.Status = &st
	}
	if f.olderThan > 0 {
		cutoff := now.Add(-f.olderThan).UTC()
		filter.OlderThan = &cutoff
	}
	if filter.Empty() {
		return filter, fmt.Errorf("purge needs --batch, --status or --older-than")
	}
	return filter, nil
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var flags purgeFlags
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete staging entries by batch, status or age",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter(time.Now())
			if err != nil {
				return err
			}
			return ctx.withContainer(cmd.Context(), func(c *app.Container) error {
				deleted, err := c.Staging.Purge(cmd.Context(), filter)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d staging entries\n", deleted)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&flags.batch, "batch", "", "Source batch id")
	cmd.Flags().StringVar(&flags.status, "status", "", "PENDING, APPROVED or REJECTED")
	cmd.Flags().DurationVar(&flags.olderThan, "older-than", 0, "Only entries created before now minus this duration")
	return cmd
}
