package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/rosnode-go/internal/registrar"
)

func newGraphCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Show publishers, subscribers and services known to the registrar",
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
			printGraph(cmd.OutOrStdout(), graph)
			return nil
		},
	}
}

func printGraph(w io.Writer, graph *registrar.Graph) {
	printTable(w, "Published topics", graph.Publishers)
	printTable(w, "Subscribed topics", graph.Subscribers)
	printTable(w, "Services", graph.Services)
}

func printTable(w io.Writer, title string, table map[string]registrar.NodeSet) {
	fmt.Fprintf(w, "%s:\n", title)
	if len(table) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s [%s]\n", name, strings.Join(table[name].Sorted(), ", "))
	}
}

func newTopicsCommand(opts *globalOptions) *cobra.Command {
	var subgraph string

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List published topics and their types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.registrarClient()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			topics, err := client.GetPublishedTopics(ctx, opts.name("rosnode_cli"), subgraph)
			if err != nil {
				return fmt.Errorf("failed to get published topics: %w", err)
			}

			sort.Slice(topics, func(i, j int) bool { return topics[i].Topic < topics[j].Topic })
			out := cmd.OutOrStdout()
			if len(topics) == 0 {
				fmt.Fprintln(out, "No published topics")
				return nil
			}
			for _, t := range topics {
				fmt.Fprintf(out, "%s\t%s\n", t.Topic, t.Type)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&subgraph, "subgraph", "", "Restrict to topics under this namespace")
	return cmd
}
