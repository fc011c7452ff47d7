package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/rosnode-go/internal/rosnode"
	"github.com/rmacdonaldsmith/rosnode-go/pkg/codec"
)

func newEchoCommand(opts *globalOptions) *cobra.Command {
	var (
		msgType string
		md5sum  string
		count   int
		asHex   bool
	)

	cmd := &cobra.Command{
		Use:   "echo <topic>",
		Short: "Print messages received on a topic",
		Long: `Subscribe to a topic and print every message received from its publishers.
Payloads that are valid UTF-8 are printed as text; anything else as hex.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			node, logger, err := opts.startNode("rosnode_cli_echo")
			if err != nil {
				return err
			}
			defer node.Shutdown("echo finished")
			defer logger.Sync()

			sub, err := node.Subscribe(rosnode.SubscribeOptions{
				Topic:  args[0],
				Type:   msgType,
				MD5Sum: md5sum,
				Codec:  codec.Raw{},
			})
			if err != nil {
				return fmt.Errorf("failed to subscribe: %w", err)
			}

			return echo(ctx, cmd.OutOrStdout(), sub, count, asHex)
		},
	}

	cmd.Flags().StringVar(&msgType, "type", "*", "Message type")
	cmd.Flags().StringVar(&md5sum, "md5", "*", "Message checksum")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many messages (0 = unlimited)")
	cmd.Flags().BoolVar(&asHex, "hex", false, "Always print payloads as hex")

	return cmd
}

// echo prints messages from sub until count messages were printed, ctx is
// cancelled, or the subscription closes.
func echo(ctx context.Context, w io.Writer, sub *rosnode.Subscription, count int, asHex bool) error {
	settled := sub.Settled()
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settled:
			settled = nil
			if err := sub.Err(); err != nil {
				return fmt.Errorf("subscription failed: %w", err)
			}
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			fmt.Fprintln(w, formatPayload(msg.Data, asHex))
			fmt.Fprintln(w, "---")
			printed++
			if count > 0 && printed >= count {
				return nil
			}
		}
	}
}

func formatPayload(data []byte, asHex bool) string {
	if !asHex && utf8.Valid(data) {
		return string(data)
	}
	return hex.EncodeToString(data)
}

func newPubCommand(opts *globalOptions) *cobra.Command {
	var (
		msgType string
		md5sum  string
		latch   bool
		rate    float64
		count   int
		linger  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "pub <topic> <payload>",
		Short: "Publish a payload on a topic",
		Long: `Advertise a topic and publish a payload to every subscriber.
Without --rate the payload is published once, latched, and the node stays up
for --linger so subscribers can connect.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			node, logger, err := opts.startNode("rosnode_cli_pub")
			if err != nil {
				return err
			}
			defer node.Shutdown("pub finished")
			defer logger.Sync()

			advCtx, cancel := context.WithTimeout(ctx, opts.timeout)
			pub, err := node.Advertise(advCtx, rosnode.AdvertiseOptions{
				Topic:    args[0],
				Type:     msgType,
				MD5Sum:   md5sum,
				Latching: latch || rate <= 0,
			})
			cancel()
			if err != nil {
				return fmt.Errorf("failed to advertise: %w", err)
			}

			payload := []byte(args[1])
			if rate <= 0 {
				if err := pub.Publish(payload); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published to %s, latching for %s\n", args[0], linger)
				select {
				case <-ctx.Done():
				case <-time.After(linger):
				}
				return nil
			}

			return publishAtRate(ctx, pub, payload, rate, count, logger)
		},
	}

	cmd.Flags().StringVar(&msgType, "type", "std_msgs/String", "Message type")
	cmd.Flags().StringVar(&md5sum, "md5", "*", "Message checksum")
	cmd.Flags().BoolVar(&latch, "latch", false, "Replay the last message to late subscribers")
	cmd.Flags().Float64VarP(&rate, "rate", "r", 0, "Publishing rate in Hz (0 = publish once)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Stop after this many messages at --rate (0 = unlimited)")
	cmd.Flags().DurationVar(&linger, "linger", 3*time.Second, "How long to stay up after a single publish")

	return cmd
}

func publishAtRate(ctx context.Context, pub *rosnode.Publication, payload []byte, rate float64, count int, logger *zap.Logger) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()

	sent := 0
	for {
		if err := pub.Publish(payload); err != nil {
			return err
		}
		sent++
		logger.Debug("published", zap.String("topic", pub.Topic()), zap.Int("subscribers", pub.NumSubscribers()))
		if count > 0 && sent >= count {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
