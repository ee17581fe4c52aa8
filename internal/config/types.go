package config

// Latency profiles for simulated backend delay.
const (
	LatencyNone   = "none"
	LatencyNormal = "normal"
	LatencySlow   = "slow"
	LatencyJitter = "jitter"
)

// Fail modes for simulated backend failures. The empty mode never fails.
const (
	FailNone       = ""
	FailAll        = "all"
	FailServer     = "server"
	FailTimeout    = "timeout"
	FailValidation = "validation"
	FailQuote      = "quote"
	FailSubmit     = "submit"
)

// ValidLatencyProfiles lists accepted chaos.latency_profile values.
var ValidLatencyProfiles = map[string]bool{
	LatencyNone:   true,
	LatencyNormal: true,
	LatencySlow:   true,
	LatencyJitter: true,
}

// ValidFailModes lists accepted chaos.fail_mode values.
var ValidFailModes = map[string]bool{
	FailNone:       true,
	FailAll:        true,
	FailServer:     true,
	FailTimeout:    true,
	FailValidation: true,
	FailQuote:      true,
	FailSubmit:     true,
}

// ValidBackends lists accepted idempotency.backend values.
var ValidBackends = map[string]bool{
	"memory": true,
	"redis":  true,
	"mysql":  true,
	"pebble": true,
}
