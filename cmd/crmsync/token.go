package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"crmsync/internal/authz"
	"crmsync/internal/middleware"
)

var (
	tokenRole int
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <owner-id>",
	Short: "Sign an API token for an owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := uuid.Parse(args[0])
		if err != nil || owner == uuid.Nil {
			return fmt.Errorf("owner id must be a non-nil uuid")
		}
		cfg, _, err := loadRuntime()
		if err != nil {
			return err
		}
		tok, err := middleware.IssueToken([]byte(cfg.Server.JWTSecret), owner, tokenRole, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().IntVar(&tokenRole, "role", authz.RoleBroker, "role id (10 broker, 30 audit, 40 manager, 50 admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
