package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/availability"
	"github.com/dgnsrekt/leadfeed/internal/config"
	"github.com/dgnsrekt/leadfeed/internal/feed"
	"github.com/dgnsrekt/leadfeed/internal/idempotency"
	"github.com/dgnsrekt/leadfeed/internal/lead"
	"github.com/dgnsrekt/leadfeed/internal/metrics"
	"github.com/dgnsrekt/leadfeed/internal/notify"
	"github.com/dgnsrekt/leadfeed/internal/quote"
	"github.com/dgnsrekt/leadfeed/internal/server"
	"github.com/dgnsrekt/leadfeed/internal/wire"
)

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the availability feed and lead API",
		Long: `Run the HTTP API, the websocket and SSE availability feed, and the
broadcaster that mutates advisor availability on every tick.

Send SIGHUP to reload the chaos and feature-flag sections of the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func runServe(ctx context.Context) error {
	logger.Info("configuration loaded",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("release", cfg.Server.Release),
		zap.Duration("tickInterval", cfg.Feed.TickInterval),
		zap.Int("restartEvery", cfg.Feed.RestartEvery),
		zap.Int("advisors", len(cfg.Feed.Advisors)),
		zap.String("idempotencyBackend", cfg.Idempotency.Backend),
		zap.String("latencyProfile", cfg.Chaos.LatencyProfile),
		zap.String("failMode", cfg.Chaos.FailMode),
		zap.Bool("advisorFeed", cfg.Flags.AdvisorFeed),
	)

	m := metrics.New()

	store, err := idempotency.Open(ctx, cfg.Idempotency.Options())
	if err != nil {
		return fmt.Errorf("opening idempotency store: %w", err)
	}
	defer store.Close()

	notifier, err := notify.New(cfg.Notify, logger)
	if err != nil {
		return err
	}

	codec, err := wire.NewCodec()
	if err != nil {
		return err
	}
	defer codec.Close()

	eventLog := availability.NewEventLog(cfg.Feed.HistoryCapacity, cfg.Feed.Advisors)
	hub := feed.NewHub(eventLog, codec, m, logger)

	var rng feed.Rand
	if cfg.Feed.Seed != 0 {
		rng = rand.New(rand.NewPCG(cfg.Feed.Seed, cfg.Feed.Seed>>1))
	}
	broadcaster := feed.NewBroadcaster(eventLog, hub, feed.BroadcasterConfig{
		TickInterval:      cfg.Feed.TickInterval,
		HeartbeatInterval: cfg.Feed.HeartbeatInterval,
		RestartEvery:      uint64(cfg.Feed.RestartEvery),
	}, rng, m, logger)

	leads := lead.NewService(store, notifier, m, logger)
	runtime := server.NewRuntime(cfg, logger)

	srv := server.NewServer(server.Options{
		Log:     eventLog,
		Hub:     hub,
		Leads:   leads,
		Quotes:  quote.NewCalculator(cfg.Quote.LockDays, cfg.Quote.Timezone),
		Runtime: runtime,
		Chaos:   server.NewChaos(runtime, nil, m, logger),
		Events:  server.NewEventBuffer(cfg.Server.ClientEventBuffer),
		Metrics: m,
	}, logger)

	router, err := server.NewRouter(srv, logger)
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}

	// Feed components stop before the HTTP server so subscribers see a
	// going-away close rather than a dropped socket.
	feedCtx, cancelFeed := context.WithCancel(context.Background())
	defer cancelFeed()

	go hub.Run(feedCtx)
	go broadcaster.Run(feedCtx)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		// Requests held by the timeout fault end with the server.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var serveErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err, ok := <-errCh:
			if ok {
				serveErr = fmt.Errorf("server error: %w", err)
			}
			break loop
		case <-hup:
			if _, err := runtime.Reload(func() (*config.Config, error) { return config.Load(cfgFile) }); err != nil {
				logger.Error("reload failed", zap.Error(err))
			}
		}
	}

	logger.Info("shutting down server...")
	cancelFeed()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		if serveErr == nil {
			serveErr = err
		}
	}

	waitForNotifications(leads, cfg.Server.ShutdownTimeout)
	logger.Info("server stopped")
	return serveErr
}

// waitForNotifications gives in-flight accepted-lead announcements a bounded
// time to finish.
func waitForNotifications(leads *lead.Service, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		leads.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("notifications still pending at exit")
	}
}
