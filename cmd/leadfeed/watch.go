package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/client"
	"github.com/dgnsrekt/leadfeed/internal/wire"
)

func watchCmd() *cobra.Command {
	var (
		protocol string
		offline  bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the advisor availability feed",
		Long: `Connect to the advisor availability feed and print every status change.

The feed is only opened when the backend's advisorFeed flag is on. Gaps in
the sequence and reconnects trigger a resync over HTTP.

Examples:
  # Follow the local backend
  leadfeed watch

  # Use the compressed binary encoding
  leadfeed watch --protocol protobuf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p wire.Protocol
			switch protocol {
			case "json":
				p = wire.ProtocolJSON
			case "protobuf":
				p = wire.ProtocolProtobuf
			default:
				return fmt.Errorf("unknown protocol %q (valid: json, protobuf)", protocol)
			}
			return runWatch(cmd.Context(), p, !offline)
		},
	}

	cmd.Flags().StringVar(&protocol, "protocol", "json", "feed encoding: json or protobuf")
	cmd.Flags().BoolVar(&offline, "offline", false, "start in the offline state")
	return cmd
}

func runWatch(ctx context.Context, protocol wire.Protocol, online bool) error {
	api := newHTTPClient("")

	enabled := true
	rc, err := api.RuntimeConfig(ctx)
	if err != nil {
		logger.Warn("runtime config unavailable, assuming feed enabled", zap.Error(err))
	} else {
		enabled = rc.FeatureFlags.AdvisorFeed
		logger.Info("runtime config",
			zap.String("release", rc.Release),
			zap.Bool("advisorFeed", enabled),
		)
	}
	if !enabled {
		fmt.Println("advisor feed is disabled")
		return nil
	}

	codec, err := wire.NewCodec()
	if err != nil {
		return err
	}
	defer codec.Close()

	cc := cfg.Client
	dialer := client.NewWSDialer(client.FeedURL(api.BaseURL()), protocol, codec, logger)
	sub := client.NewSubscriber(dialer, api, client.SubscriberOptions{
		Backoff: client.Backoff{Base: cc.ReconnectBase, Max: cc.ReconnectMax, Jitter: cc.ReconnectJitter},
		OnState: printState,
	}, logger)

	err = sub.Run(ctx, enabled, online)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printState(st client.State) {
	var slots []string
	for _, a := range st.Advisors {
		slots = append(slots, fmt.Sprintf("%s=%d", a.ID, a.AvailableSlots))
	}
	line := fmt.Sprintf("%-12s seq=%-5d %s", st.Status, st.LastSeq, strings.Join(slots, " "))
	if st.ErrorMessage != "" {
		line += "  (" + st.ErrorMessage + ")"
	}
	fmt.Println(line)
}
