package server

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/config"
)

// Runtime holds the settings that can change without a restart: chaos
// behaviour and feature flags.
type Runtime struct {
	logger *zap.Logger

	reloadMu sync.Mutex // prevents concurrent reloads

	mu       sync.RWMutex
	release  string
	chaos    config.ChaosConfig
	flags    config.FlagsConfig
	loadedAt time.Time
}

// NewRuntime creates a Runtime from the loaded configuration.
func NewRuntime(cfg *config.Config, logger *zap.Logger) *Runtime {
	return &Runtime{
		logger:   logger,
		release:  cfg.Server.Release,
		chaos:    cfg.Chaos,
		flags:    cfg.Flags,
		loadedAt: time.Now(),
	}
}

func (rt *Runtime) Release() string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.release
}

func (rt *Runtime) Chaos() config.ChaosConfig {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.chaos
}

func (rt *Runtime) Flags() config.FlagsConfig {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.flags
}

// LoadedAt returns when the current settings were applied.
func (rt *Runtime) LoadedAt() time.Time {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.loadedAt
}

// ReloadResult describes a successful reload.
type ReloadResult struct {
	PreviousChaos config.ChaosConfig
	Chaos         config.ChaosConfig
	Flags         config.FlagsConfig
	LoadedAt      time.Time
}

// Reload loads configuration again and swaps in its chaos and flag sections.
// On error the current settings stay in place.
func (rt *Runtime) Reload(load func() (*config.Config, error)) (*ReloadResult, error) {
	if !rt.reloadMu.TryLock() {
		return nil, fmt.Errorf("reload already in progress")
	}
	defer rt.reloadMu.Unlock()

	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("reloading config: %w", err)
	}

	rt.mu.Lock()
	previous := rt.chaos
	rt.chaos = cfg.Chaos
	rt.flags = cfg.Flags
	rt.release = cfg.Server.Release
	rt.loadedAt = time.Now()
	loadedAt := rt.loadedAt
	rt.mu.Unlock()

	rt.logger.Info("runtime settings reloaded",
		zap.String("previousLatencyProfile", previous.LatencyProfile),
		zap.String("latencyProfile", cfg.Chaos.LatencyProfile),
		zap.String("previousFailMode", previous.FailMode),
		zap.String("failMode", cfg.Chaos.FailMode),
		zap.Bool("uploads", cfg.Flags.Uploads),
		zap.Bool("advisorFeed", cfg.Flags.AdvisorFeed),
	)

	return &ReloadResult{
		PreviousChaos: previous,
		Chaos:         cfg.Chaos,
		Flags:         cfg.Flags,
		LoadedAt:      loadedAt,
	}, nil
}
