package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/research-staging-api/internal/app"
	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/service"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var (
		name        string
		institution string
		keywords    []string
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Match a researcher against approved ORCID records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withContainer(cmd.Context(), func(c *app.Container) error {
				res, err := c.Identity.Resolve(cmd.Context(), service.ResolveRequest{
					Name:        name,
					Institution: institution,
					Keywords:    keywords,
				})
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "outcome: %s\n", res.Outcome)
				if res.ORCID != "" {
					fmt.Fprintf(out, "orcid:   %s (score %.3f, recorded=%t)\n", res.ORCID, res.Score, res.Recorded)
				}
				for _, tied := range res.Tied {
					fmt.Fprintf(out, "tied:    %s %s (%.3f)\n", tied.Candidate.ORCID, tied.Candidate.Name, tied.Score)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Researcher name")
	cmd.Flags().StringVar(&institution, "institution", "", "Institution")
	cmd.Flags().StringSliceVar(&keywords, "keyword", nil, "Research keyword (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the full result as JSON")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newEnrichCommand(ctx *commandContext) *cobra.Command {
	var (
		orcid       string
		name        string
		institution string
		sources     []string
		maxResults  int
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Fetch a researcher's publications and stage them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orcid == "" && name == "" {
				return fmt.Errorf("enrich needs --orcid or --name")
			}
			return ctx.withContainer(cmd.Context(), func(c *app.Container) error {
				report, err := c.Enrichment.Enrich(cmd.Context(), service.EnrichRequest{
					Researcher: models.ResearcherIdentity{Name: name, ORCID: orcid, Institution: institution},
					Sources:    sources,
					MaxResults: maxResults,
				})
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, report)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "researcher %s: staged %d, duplicates %d\n", report.ResearcherKey, len(report.Staged), report.Duplicates)
				for _, f := range report.Failures {
					fmt.Fprintf(out, "  %s failed: %s\n", f.Source, f.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orcid, "orcid", "", "Researcher ORCID")
	cmd.Flags().StringVar(&name, "name", "", "Researcher name, used when no ORCID is given")
	cmd.Flags().StringVar(&institution, "institution", "", "Institution, used for the ORCID lookup")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "Source to query (repeatable, default from config)")
	cmd.Flags().IntVar(&maxResults, "max", 0, "Maximum records per source")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the full report as JSON")
	return cmd
}

func newOrcidSearchCommand(ctx *commandContext) *cobra.Command {
	var (
		name        string
		institution string
		keywords    []string
		rows        int
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "orcid-search",
		Short: "Search the ORCID registry for researchers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withContainer(cmd.Context(), func(c *app.Container) error {
				found, err := c.Identity.Search(cmd.Context(), service.SearchRequest{
					Name:        name,
					Institution: institution,
					Keywords:    keywords,
					Rows:        rows,
				})
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, found)
				}
				out := cmd.OutOrStdout()
				for _, r := range found {
					fmt.Fprintf(out, "%s  %s  %s\n", r.ORCID, r.Name, r.Institution)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Researcher name")
	cmd.Flags().StringVar(&institution, "institution", "", "Institution")
	cmd.Flags().StringSliceVar(&keywords, "keyword", nil, "Research keyword (repeatable)")
	cmd.Flags().IntVar(&rows, "rows", 0, "Maximum results (default from config)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the results as JSON")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newOrcidImportCommand(ctx *commandContext) *cobra.Command {
	var (
		batchID string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "orcid-import ORCID...",
		Short: "Stage researcher rows from public ORCID records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withContainer(cmd.Context(), func(c *app.Container) error {
				report, err := c.Profiles.Import(cmd.Context(), service.ImportProfilesRequest{ORCIDs: args, BatchID: batchID})
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, report)
				}
				printImportReport(cmd, report)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&batchID, "batch", "", "Source batch id (default orcid:<timestamp>)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the full report as JSON")
	return cmd
}

func printImportReport(cmd *cobra.Command, report *service.ProfileImportReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "batch %s: staged %d, failed %d\n", report.BatchID, len(report.Staged), len(report.Failures))
	for _, e := range report.Staged {
		state := "valid"
		if !e.Validated() {
			state = fmt.Sprintf("%d validation errors", len(e.ValidationErrors))
		}
		fmt.Fprintf(out, "  %s %s (%s)\n", e.ID, e.Raw["orcid"], state)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(out, "  %s failed: %s\n", f.ORCID, f.Error)
	}
}
