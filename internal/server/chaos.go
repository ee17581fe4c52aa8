package server

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/config"
	"github.com/dgnsrekt/leadfeed/internal/metrics"
)

// Endpoint tags used to scope fail modes.
const (
	endpointQuote  = "quote"
	endpointSubmit = "submit"
)

// Resolved faults.
const (
	faultNone       = ""
	faultServer     = "server"
	faultTimeout    = "timeout"
	faultValidation = "validation"
)

// Rand is the random source used for simulated latency.
type Rand interface {
	IntN(n int) int
}

type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (r *lockedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

// Chaos injects simulated latency and failures into backend endpoints.
type Chaos struct {
	runtime *Runtime
	rng     Rand
	sleep   func(ctx context.Context, d time.Duration) error
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewChaos creates a Chaos reading its settings from rt. A nil rng uses a
// clock-seeded source.
func NewChaos(rt *Runtime, rng Rand, m *metrics.Metrics, logger *zap.Logger) *Chaos {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = &lockedRand{rng: rand.New(rand.NewPCG(seed, seed>>1))}
	}
	return &Chaos{
		runtime: rt,
		rng:     rng,
		sleep:   sleepContext,
		metrics: m,
		logger:  logger,
	}
}

// resolveFault picks the fault for endpoint from the request's ?fail= or the
// configured mode. Modes naming another endpoint resolve to none.
func resolveFault(requested, configured, endpoint string) string {
	mode := requested
	if mode == "" {
		mode = configured
	}
	switch mode {
	case config.FailAll, config.FailServer:
		return faultServer
	case config.FailTimeout:
		return faultTimeout
	case config.FailValidation:
		return faultValidation
	case endpoint:
		return faultServer
	}
	return faultNone
}

func (c *Chaos) between(lo, hi int) time.Duration {
	return time.Duration(lo+c.rng.IntN(hi-lo+1)) * time.Millisecond
}

// latency returns the simulated delay; a positive ?latencyMs= wins over the
// profile.
func (c *Chaos) latency(r *http.Request, profile string) time.Duration {
	if ms, err := strconv.Atoi(r.URL.Query().Get("latencyMs")); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	switch profile {
	case config.LatencyNone:
		return 0
	case config.LatencySlow:
		return c.between(2000, 3500)
	case config.LatencyJitter:
		return c.between(150, 1800)
	default:
		return c.between(80, 500)
	}
}

// Apply delays the request and injects the resolved fault. It returns
// handled=true when the response has been written or the client is gone;
// otherwise the caller continues and receives the fault (none or validation).
func (c *Chaos) Apply(w http.ResponseWriter, r *http.Request, endpoint, unavailable string) (fault string, handled bool) {
	settings := c.runtime.Chaos()
	fault = resolveFault(r.URL.Query().Get("fail"), settings.FailMode, endpoint)

	if err := c.sleep(r.Context(), c.latency(r, settings.LatencyProfile)); err != nil {
		return fault, true
	}

	if fault != faultNone {
		c.metrics.FaultInjected(endpoint, fault)
	}

	switch fault {
	case faultTimeout:
		c.logger.Debug("holding request", zap.String("endpoint", endpoint))
		<-r.Context().Done()
		return fault, true
	case faultServer:
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: unavailable})
		return fault, true
	}
	return fault, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
