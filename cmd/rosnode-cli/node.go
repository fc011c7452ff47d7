package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/rosnode-go/internal/peerapi"
	"github.com/rmacdonaldsmith/rosnode-go/internal/registrar"
	grpcrpc "github.com/rmacdonaldsmith/rosnode-go/internal/rpc"
)

func newNodeCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Inspect or stop nodes registered with the registrar",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List nodes that publish, subscribe or provide services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.registrarClient()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			graph, err := client.GetSystemState(ctx, opts.name("rosnode_cli"))
			if err != nil {
				return fmt.Errorf("failed to get system state: %w", err)
			}
			for _, name := range graphNodes(graph) {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info <node>",
		Short: "Show a node's pid, connections and per-connection counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			uri, peer, err := opts.dialNode(ctx, args[0])
			if err != nil {
				return err
			}
			defer peer.Close()

			return printNodeInfo(ctx, cmd.OutOrStdout(), opts.name("rosnode_cli"), args[0], uri, peer)
		},
	})

	var reason string
	kill := &cobra.Command{
		Use:   "kill <node>",
		Short: "Ask a node to shut down",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			_, peer, err := opts.dialNode(ctx, args[0])
			if err != nil {
				return err
			}
			defer peer.Close()

			if err := peer.Shutdown(ctx, opts.name("rosnode_cli"), reason); err != nil {
				return fmt.Errorf("failed to shut down %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "shutdown requested for %s\n", args[0])
			return nil
		},
	}
	kill.Flags().StringVar(&reason, "reason", "killed by rosnode-cli", "Reason reported to the node")
	cmd.AddCommand(kill)

	return cmd
}

// dialNode resolves name through the registrar and dials its negotiation API.
func (o *globalOptions) dialNode(ctx context.Context, name string) (string, *peerapi.Client, error) {
	reg, err := o.registrarClient()
	if err != nil {
		return "", nil, err
	}
	defer reg.Close()

	uri, err := reg.LookupNode(ctx, o.name("rosnode_cli"), name)
	if err != nil {
		return "", nil, fmt.Errorf("failed to look up %s: %w", name, err)
	}

	rpcClient, err := grpcrpc.Dial(uri)
	if err != nil {
		return "", nil, fmt.Errorf("failed to dial %s at %s: %w", name, uri, err)
	}
	return uri, peerapi.NewClient(rpcClient), nil
}

func printNodeInfo(ctx context.Context, w io.Writer, callerID, name, uri string, peer *peerapi.Client) error {
	var (
		pid   int
		conns []peerapi.ConnectionInfo
		stats *peerapi.BusStats
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if pid, err = peer.GetPid(ctx, callerID); err != nil {
			return fmt.Errorf("getPid failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		raw, err := peer.GetBusInfo(ctx, callerID)
		if err != nil {
			return fmt.Errorf("getBusInfo failed: %w", err)
		}
		conns, err = peerapi.ParseBusInfo(raw)
		return err
	})
	g.Go(func() error {
		raw, err := peer.GetBusStats(ctx, callerID)
		if err != nil {
			return fmt.Errorf("getBusStats failed: %w", err)
		}
		stats, err = peerapi.ParseBusStats(raw)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(w, "Node [%s]\n", name)
	fmt.Fprintf(w, "URI: %s\n", uri)
	fmt.Fprintf(w, "Pid: %d\n", pid)

	fmt.Fprintln(w, "\nConnections:")
	if len(conns) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, c := range conns {
		fmt.Fprintf(w, "  #%d %s %s %s peer=%s connected=%t\n",
			c.ConnectionID, c.Topic, c.Direction, c.Transport, c.Peer, c.Connected)
	}

	fmt.Fprintln(w, "\nSubscriptions:")
	for _, s := range stats.Subscriptions {
		fmt.Fprintf(w, "  %s\n", s.Topic)
		for _, c := range s.Connections {
			fmt.Fprintf(w, "    #%d bytes=%d messages=%d dropped=%d\n",
				c.ConnectionID, c.BytesReceived, c.MessagesReceived, c.DropEstimate)
		}
	}

	fmt.Fprintln(w, "\nPublications:")
	for _, p := range stats.Publications {
		fmt.Fprintf(w, "  %s bytes=%d\n", p.Topic, p.BytesSent)
		for _, c := range p.Connections {
			fmt.Fprintf(w, "    #%d bytes=%d messages=%d\n", c.ConnectionID, c.BytesSent, c.MessagesSent)
		}
	}
	return nil
}

// graphNodes returns every node name in graph, sorted.
func graphNodes(graph *registrar.Graph) []string {
	seen := make(map[string]struct{})
	for _, table := range []map[string]registrar.NodeSet{graph.Publishers, graph.Subscribers, graph.Services} {
		for _, nodes := range table {
			for name := range nodes {
				seen[name] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
