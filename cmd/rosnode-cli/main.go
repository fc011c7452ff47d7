package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rmacdonaldsmith/rosnode-go/internal/registrar"
	"github.com/rmacdonaldsmith/rosnode-go/internal/rosnode"
	grpcrpc "github.com/rmacdonaldsmith/rosnode-go/internal/rpc"
)

// Global flags
type globalOptions struct {
	masterURI string
	nodeName  string
	timeout   time.Duration
	logLevel  string
	dev       bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "rosnode-cli",
		Short: "Command line tools for a ROS-style message bus",
		Long: `rosnode-cli talks to a registrar and to the nodes registered with it.
It can echo and publish topics, inspect the graph, query or stop remote nodes,
and run a node with an HTTP introspection API.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.masterURI, "master", rosnode.MasterURIFromEnv(), "Registrar URI (defaults to ROS_MASTER_URI)")
	rootCmd.PersistentFlags().StringVar(&opts.nodeName, "name", "", "Node name (default: anonymous)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Timeout for registrar and peer calls")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.dev, "dev", false, "Use human-readable development logging")

	rootCmd.AddCommand(newEchoCommand(opts))
	rootCmd.AddCommand(newPubCommand(opts))
	rootCmd.AddCommand(newGraphCommand(opts))
	rootCmd.AddCommand(newTopicsCommand(opts))
	rootCmd.AddCommand(newNodeCommand(opts))
	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newAPICommand())

	return rootCmd
}

// anonymousName returns base with a random suffix, e.g. "/rosnode_cli_3f2a9c1b".
func anonymousName(base string) string {
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s_%s", base, id[:8])
}

func (o *globalOptions) name(base string) string {
	if o.nodeName != "" {
		return o.nodeName
	}
	return anonymousName(base)
}

func (o *globalOptions) logger() (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(o.logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", o.logLevel, err)
	}
	cfg := zap.NewProductionConfig()
	if o.dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// startNode creates and starts a node named after base.
func (o *globalOptions) startNode(base string) (*rosnode.Node, *zap.Logger, error) {
	logger, err := o.logger()
	if err != nil {
		return nil, nil, err
	}

	config := rosnode.NewConfig(o.name(base), o.masterURI)
	config.RPCTimeout = o.timeout
	config.Logger = logger
	if err := config.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid node configuration: %w", err)
	}

	node, err := rosnode.New(config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create node: %w", err)
	}
	if err := node.Start(); err != nil {
		node.Shutdown("start failed")
		return nil, nil, fmt.Errorf("failed to start node: %w", err)
	}
	return node, logger, nil
}

// registrarClient dials the registrar without starting a node.
func (o *globalOptions) registrarClient() (*registrar.Client, error) {
	rpcClient, err := grpcrpc.Dial(o.masterURI)
	if err != nil {
		return nil, fmt.Errorf("failed to dial registrar: %w", err)
	}
	return registrar.NewClient(rpcClient), nil
}
