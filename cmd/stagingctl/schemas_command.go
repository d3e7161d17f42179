package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/research-staging-api/internal/schema"
)

func newSchemasCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "Print the schema registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			registry, err := schema.Load(cfg.Schemas.Dir)
			if err != nil {
				return err
			}
			return printRegistry(cmd, registry, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON instead of text")
	return cmd
}

func printRegistry(cmd *cobra.Command, registry *schema.Registry, jsonOut bool) error {
	if jsonOut {
		out := map[string][]schema.ColumnInfo{}
		for _, name := range registry.Names() {
			s, err := registry.Get(name)
			if err != nil {
				return err
			}
			out[name] = s.Columns()
		}
		return writeJSON(cmd, out)
	}

	w := cmd.OutOrStdout()
	for _, name := range registry.Names() {
		s, err := registry.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, name)
		for _, col := range s.Columns() {
			flags := []string{}
			if col.Required {
				flags = append(flags, "required")
			}
			if col.Unique {
				flags = append(flags, "unique")
			}
			fmt.Fprintf(w, "  %-20s %-6s %s\n", col.Name, col.Type, strings.Join(flags, ","))
		}
	}
	return nil
}
