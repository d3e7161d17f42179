package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/research-staging-api/internal/app"
	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/service"
)

func newUserCommand(ctx *commandContext) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage review API accounts",
	}
	userCmd.AddCommand(newUserAddCommand(ctx))
	return userCmd
}

func newUserAddCommand(ctx *commandContext) *cobra.Command {
	var (
		req  service.CreateUserRequest
		role string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a review API account",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Role = models.UserRole(strings.ToUpper(strings.TrimSpace(role)))
			return ctx.withContainer(cmd.Context(), func(c *app.Container) error {
				user, err := c.Auth.CreateUser(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) id=%s\n", user.Email, user.Role, user.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "Login email")
	cmd.Flags().StringVar(&req.FullName, "name", "", "Display name")
	cmd.Flags().StringVar(&role, "role", "REVIEWER", "ADMIN, REVIEWER or VIEWER")
	cmd.Flags().StringVar(&req.Password, "password", "", "Initial password (min 8 characters)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
