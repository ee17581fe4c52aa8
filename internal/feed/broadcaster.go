package feed

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/availability"
	"github.com/dgnsrekt/leadfeed/internal/metrics"
	"github.com/dgnsrekt/leadfeed/internal/wire"
)

// Rand is the random source the broadcaster draws advisor picks and deltas from.
type Rand interface {
	IntN(n int) int
}

// Publisher is the subset of Hub the broadcaster drives.
type Publisher interface {
	Broadcast(msg wire.Message) int
	Disconnect(code int, reason string) int
}

// BroadcasterConfig controls tick cadence and the restart simulation.
type BroadcasterConfig struct {
	TickInterval      time.Duration
	HeartbeatInterval time.Duration
	// RestartEvery closes every connection when seq is a multiple of it. Zero disables.
	RestartEvery uint64
}

// Broadcaster mutates availability on a fixed interval, appends each new
// record set to the event log and pushes it to all subscribers.
type Broadcaster struct {
	log     *availability.EventLog
	pub     Publisher
	rng     Rand
	cfg     BroadcasterConfig
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewBroadcaster creates a Broadcaster. A nil rng uses a seeded PCG source.
func NewBroadcaster(log *availability.EventLog, pub Publisher, cfg BroadcasterConfig, rng Rand, m *metrics.Metrics, logger *zap.Logger) *Broadcaster {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x1ead))
	}
	return &Broadcaster{
		log:     log,
		pub:     pub,
		rng:     rng,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
		metrics: m,
	}
}

// Run starts the tick and heartbeat loops. Returns when context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	b.logger.Info("broadcaster started",
		zap.Duration("interval", b.cfg.TickInterval),
		zap.Duration("heartbeat", b.cfg.HeartbeatInterval),
		zap.Uint64("restartEvery", b.cfg.RestartEvery),
	)

	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(b.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("broadcaster stopping", zap.Uint64("seq", b.log.Seq()))
			return
		case <-ticker.C:
			b.Tick()
		case <-heartbeat.C:
			b.Heartbeat()
		}
	}
}

// Tick applies one bounded random change, records it and broadcasts it.
// Every RestartEvery-th event also drops all live connections.
func (b *Broadcaster) Tick() availability.Event {
	ev := b.log.Mutate(func(records []availability.Record) []availability.Record {
		if len(records) == 0 {
			return records
		}
		i := b.rng.IntN(len(records))
		delta := b.rng.IntN(4) - 1 // [-1, 2]
		records[i].AvailableSlots = availability.Clamp(records[i].AvailableSlots + delta)
		return records
	})

	delivered := b.pub.Broadcast(wire.Availability(ev))
	b.metrics.Sequence(ev.Seq)

	b.logger.Debug("broadcast availability",
		zap.Uint64("seq", ev.Seq),
		zap.Int("delivered", delivered),
	)

	if b.cfg.RestartEvery > 0 && ev.Seq%b.cfg.RestartEvery == 0 {
		closed := b.pub.Disconnect(CloseServiceRestart, RestartReason)
		b.metrics.Restart()
		b.logger.Info("simulated service restart",
			zap.Uint64("seq", ev.Seq),
			zap.Int("closed", closed),
		)
	}
	return ev
}

// Heartbeat sends a liveness message with no state change.
func (b *Broadcaster) Heartbeat() {
	b.pub.Broadcast(wire.Heartbeat(b.now().UnixMilli()))
}
