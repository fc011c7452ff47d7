package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/rosnode-go/internal/httpapi"
)

func newTokenCommand() *cobra.Command {
	var (
		secret   string
		clientID string
		admin    bool
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for a node's HTTP API",
		Long: `Mint a token signed with the same secret the node was started with.
The HTTP login endpoint only issues regular tokens; admin tokens, which allow
remote shutdown, are minted here.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv(secretEnvVar)
			}
			if secret == "" {
				return fmt.Errorf("a signing secret is required (--secret or %s)", secretEnvVar)
			}

			token, expiresAt, err := httpapi.NewJWTAuth(secret, ttl).GenerateToken(clientID, admin)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "JWT signing secret (defaults to "+secretEnvVar+")")
	cmd.Flags().StringVar(&clientID, "client-id", "rosnode-cli", "Token subject")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant admin privileges")
	cmd.Flags().DurationVar(&ttl, "ttl", httpapi.DefaultTokenTTL, "Token lifetime")

	return cmd
}
