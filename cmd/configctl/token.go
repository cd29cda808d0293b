package main

import (
	"fmt"

	"github.com/constructa/erp/backend/internal/utils"
	"github.com/spf13/cobra"
)

// tokenCmd mints a bearer token signed with the configured secret, for
// services that read settings through pkg/configclient.
func (a *cli) tokenCmd() *cobra.Command {
	var (
		userID   uint
		username string
		role     string
		hours    int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a service account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours <= 0 {
				return fmt.Errorf("--hours must be positive")
			}
			token, err := utils.GenerateToken(userID, username, role, hours)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user-id", 0, "user id stored in the token")
	cmd.Flags().StringVar(&username, "username", "config-reader", "username stored in the token")
	cmd.Flags().StringVar(&role, "role", "SERVICE", "role stored in the token")
	cmd.Flags().IntVar(&hours, "hours", 24*30, "validity in hours")
	return cmd
}
