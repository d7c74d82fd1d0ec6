package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	apphttp "batchfetch/internal/http"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP API",
	Long: `Token signs an API token with the configured auth.jwtsecret. The subject
becomes the user recorded with every batch submitted with the token.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwtsecret is not configured")
		}

		ttl := tokenTTL
		if !cmd.Flags().Changed("ttl") {
			ttl = time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
		}
		token, err := apphttp.IssueToken(cfg.Auth.JWTSecret, tokenSubject, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "", "user the token is issued to")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime (default auth.tokenttlminutes)")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}
