package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/rosnode-go/pkg/httpclient"
)

type apiOptions struct {
	serverURL string
	clientID  string
	token     string
	timeout   time.Duration

	client *httpclient.Client
}

func newAPICommand() *cobra.Command {
	opts := &apiOptions{}

	cmd := &cobra.Command{
		Use:   "api",
		Short: "Query a node's HTTP introspection API",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			client, err := httpclient.NewClient(httpclient.Config{
				ServerURL: opts.serverURL,
				ClientID:  opts.clientID,
				Token:     opts.token,
				Timeout:   opts.timeout,
			})
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			opts.client = client
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:8081", "HTTP API URL")
	cmd.PersistentFlags().StringVar(&opts.clientID, "client-id", "rosnode-cli", "Client ID used to log in")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "JWT token (skips login)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	cmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check node health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := opts.client.GetHealth(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if health.Healthy {
				fmt.Fprintf(out, "✅ %s is healthy\n", health.Node)
			} else {
				fmt.Fprintf(out, "❌ %s is not healthy\n", health.Node)
			}
			fmt.Fprintf(out, "URI: %s\n", health.URI)
			fmt.Fprintf(out, "Subscriptions: %d\n", health.Subscriptions)
			fmt.Fprintf(out, "Publications: %d\n", health.Publications)
			if health.Message != "" {
				fmt.Fprintf(out, "Message: %s\n", health.Message)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "List the node's live connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.login(cmd.Context()); err != nil {
				return err
			}
			info, err := opts.client.GetInfo(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Node [%s] has %d connection(s)\n", info.Node, len(info.Connections))
			for _, c := range info.Connections {
				fmt.Fprintf(out, "  #%d %s %s %s peer=%s\n", c.ConnectionID, c.Topic, c.Direction, c.Transport, c.Peer)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show the node's per-connection counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.login(cmd.Context()); err != nil {
				return err
			}
			stats, err := opts.client.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Node [%s] received %d bytes\n", stats.Node, stats.ReceivedBytes)
			for _, s := range stats.Subscriptions {
				for _, c := range s.Connections {
					fmt.Fprintf(out, "  sub %s #%d bytes=%d messages=%d dropped=%d\n",
						s.Topic, c.ConnectionID, c.BytesReceived, c.MessagesReceived, c.DropEstimate)
				}
			}
			for _, p := range stats.Publications {
				for _, c := range p.Connections {
					fmt.Fprintf(out, "  pub %s #%d bytes=%d messages=%d\n",
						p.Topic, c.ConnectionID, c.BytesSent, c.MessagesSent)
				}
			}
			return nil
		},
	})

	var reason string
	shutdown := &cobra.Command{
		Use:   "shutdown",
		Short: "Shut the node down (admin token required)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.client.IsAuthenticated() {
				return fmt.Errorf("an admin --token is required; mint one with 'rosnode-cli token --admin'")
			}
			if err := opts.client.Shutdown(cmd.Context(), reason); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
			return nil
		},
	}
	shutdown.Flags().StringVar(&reason, "reason", "requested over HTTP", "Reason reported to the node")
	cmd.AddCommand(shutdown)

	return cmd
}

// login authenticates unless a token was given.
func (o *apiOptions) login(ctx context.Context) error {
	if o.client.IsAuthenticated() {
		return nil
	}
	return o.client.Authenticate(ctx)
}
