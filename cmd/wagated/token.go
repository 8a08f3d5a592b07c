package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/wagate/internal/auth"
)

var (
	tokenCmdUser string
	tokenCmdRole string
	tokenCmdTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a tenant access token",
	Long: "Signs a token with JWT_SECRET for local development and testing.\n" +
		"Send it as `Authorization: Bearer {token}` or as the ?token= query parameter\n" +
		"when opening the /events stream.",
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenCmdUser, "user", "", "tenant user id (required)")
	tokenCmd.Flags().StringVar(&tokenCmdRole, "role", "user", "role claim")
	tokenCmd.Flags().DurationVar(&tokenCmdTTL, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenCmdUser == "" {
		return errors.New("--user is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}

	token, err := auth.NewVerifier(cfg.JWTSecret).Issue(tokenCmdUser, tokenCmdRole, tokenCmdTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
