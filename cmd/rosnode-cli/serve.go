package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/rosnode-go/internal/httpapi"
	"github.com/rmacdonaldsmith/rosnode-go/internal/rosnode"
	"github.com/rmacdonaldsmith/rosnode-go/pkg/codec"
)

const secretEnvVar = "ROSNODE_JWT_SECRET"

func newServeCommand(opts *globalOptions) *cobra.Command {
	var (
		httpPort   string
		secret     string
		noAuth     bool
		subscribes []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node with an HTTP introspection API and Prometheus metrics",
		Long: `Run a node that exposes its connections, counters and the bus graph over HTTP.
Each --subscribe topic:type adds a subscription whose traffic shows up in the
stats and on /metrics. The node exits on SIGINT/SIGTERM, on an admin shutdown
request, or when another node calls shutdown on it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv(secretEnvVar)
			}
			subs, err := parseSubscribeFlags(subscribes)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			node, logger, err := opts.startNode("rosnode_cli_serve")
			if err != nil {
				return err
			}
			defer logger.Sync()

			return serve(ctx, node, httpapi.Config{
				Port:      httpPort,
				SecretKey: secret,
				NoAuth:    noAuth,
				Logger:    logger,
			}, subs, logger)
		},
	}

	cmd.Flags().StringVar(&httpPort, "http-port", "8081", "HTTP API port")
	cmd.Flags().StringVar(&secret, "secret", "", "JWT signing secret (defaults to "+secretEnvVar+")")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "Serve read endpoints without authentication")
	cmd.Flags().StringArrayVar(&subscribes, "subscribe", nil, "Subscribe to topic:type (repeatable)")

	return cmd
}

// serve runs node and its HTTP API until ctx is cancelled or the node shuts
// down. The node is always shut down on return.
func serve(ctx context.Context, node *rosnode.Node, config httpapi.Config, subs []rosnode.SubscribeOptions, logger *zap.Logger) error {
	defer node.Shutdown("serve finished")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		rosnode.NewCollector("rosnode", node),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	config.Registry = registry

	server, err := httpapi.NewServer(node, config)
	if err != nil {
		return fmt.Errorf("failed to create HTTP API: %w", err)
	}

	for _, opts := range subs {
		sub, err := node.Subscribe(opts)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", opts.Topic, err)
		}
		go func() {
			for range sub.Messages() {
			}
		}()
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start()
	}()

	logger.Info("serving node",
		zap.String("node", node.Name()),
		zap.String("uri", node.URI()),
		zap.String("http_port", config.Port))

	select {
	case <-ctx.Done():
	case <-node.Done():
		logger.Info("node shut down, stopping HTTP API")
	case err = <-errs:
		if err != nil {
			return fmt.Errorf("HTTP API failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("failed to stop HTTP API", zap.Error(err))
	}
	return nil
}

// parseSubscribeFlags turns "topic:type" values into subscribe options.
func parseSubscribeFlags(values []string) ([]rosnode.SubscribeOptions, error) {
	subs := make([]rosnode.SubscribeOptions, 0, len(values))
	for _, v := range values {
		topic, msgType, ok := strings.Cut(v, ":")
		if !ok || topic == "" || msgType == "" {
			return nil, fmt.Errorf("invalid --subscribe %q, want topic:type", v)
		}
		subs = append(subs, rosnode.SubscribeOptions{Topic: topic, Type: msgType, Codec: codec.Raw{}})
	}
	return subs, nil
}
