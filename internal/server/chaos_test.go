package server

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/config"
)

type fixedRand struct{ n int }

func (f fixedRand) IntN(n int) int {
	if f.n >= n {
		return n - 1
	}
	return f.n
}

func TestResolveFault(t *testing.T) {
	tests := []struct {
		requested, configured, endpoint string
		want                            string
	}{
		{"", "", endpointQuote, faultNone},
		{"all", "", endpointQuote, faultServer},
		{"", "server", endpointSubmit, faultServer},
		{"", "timeout", endpointQuote, faultTimeout},
		{"validation", "", endpointSubmit, faultValidation},
		{"quote", "", endpointQuote, faultServer},
		{"quote", "", endpointSubmit, faultNone},
		{"submit", "timeout", endpointSubmit, faultServer},
		{"upload", "", endpointSubmit, faultNone},
	}
	for _, tt := range tests {
		if got := resolveFault(tt.requested, tt.configured, tt.endpoint); got != tt.want {
			t.Errorf("resolveFault(%q, %q, %q) = %q, want %q", tt.requested, tt.configured, tt.endpoint, got, tt.want)
		}
	}
}

func TestLatencyProfiles(t *testing.T) {
	rt := NewRuntime(&config.Config{}, zap.NewNop())
	low := NewChaos(rt, fixedRand{0}, nil, zap.NewNop())
	high := NewChaos(rt, fixedRand{1 << 30}, nil, zap.NewNop())

	tests := []struct {
		profile  string
		min, max time.Duration
	}{
		{config.LatencyNone, 0, 0},
		{config.LatencyNormal, 80 * time.Millisecond, 500 * time.Millisecond},
		{config.LatencySlow, 2000 * time.Millisecond, 3500 * time.Millisecond},
		{config.LatencyJitter, 150 * time.Millisecond, 1800 * time.Millisecond},
	}
	req := httptest.NewRequest("GET", "/api/panels/rate-quote", nil)
	for _, tt := range tests {
		if got := low.latency(req, tt.profile); got != tt.min {
			t.Errorf("%s low: got %s, want %s", tt.profile, got, tt.min)
		}
		if got := high.latency(req, tt.profile); got != tt.max {
			t.Errorf("%s high: got %s, want %s", tt.profile, got, tt.max)
		}
	}

	override := httptest.NewRequest("GET", "/api/panels/rate-quote?latencyMs=42", nil)
	if got := low.latency(override, config.LatencySlow); got != 42*time.Millisecond {
		t.Errorf("latencyMs override: got %s", got)
	}
}

func TestRuntimeReload(t *testing.T) {
	rt := NewRuntime(&config.Config{
		Chaos: config.ChaosConfig{LatencyProfile: config.LatencyNormal},
		Flags: config.FlagsConfig{AdvisorFeed: true},
	}, zap.NewNop())

	result, err := rt.Reload(func() (*config.Config, error) {
		return &config.Config{
			Server: config.ServerConfig{Release: "v2"},
			Chaos:  config.ChaosConfig{LatencyProfile: config.LatencySlow, FailMode: config.FailQuote},
		}, nil
	})
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if result.PreviousChaos.LatencyProfile != config.LatencyNormal {
		t.Errorf("unexpected previous chaos %+v", result.PreviousChaos)
	}
	if rt.Chaos().FailMode != config.FailQuote || rt.Flags().AdvisorFeed || rt.Release() != "v2" {
		t.Errorf("settings not swapped: %+v %+v %s", rt.Chaos(), rt.Flags(), rt.Release())
	}

	_, err = rt.Reload(func() (*config.Config, error) { return nil, errors.New("bad file") })
	if err == nil {
		t.Fatal("expected reload error")
	}
	if rt.Chaos().FailMode != config.FailQuote {
		t.Errorf("failed reload should keep settings, got %+v", rt.Chaos())
	}
}

func TestEventBuffer(t *testing.T) {
	b := NewEventBuffer(2)
	b.Add([]byte(`1`))
	b.Add([]byte(`2`))
	b.Add([]byte(`3`))

	events := b.Events()
	if len(events) != 2 || string(events[0]) != "2" || string(events[1]) != "3" {
		t.Errorf("unexpected buffered events %q", events)
	}
}
