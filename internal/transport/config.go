package transport

import (
	"math/rand"
	"time"
)

// BackoffConfig defines client connect retry behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines server socket and loop defaults.
type Config struct {
	SocketPath string
	QueueSize  int
	// MaxFds bounds the descriptors accepted with one packet.
	MaxFds  int
	Backoff BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		SocketPath: "gammactl.sock",
		QueueSize:  256,
		MaxFds:     4,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.SocketPath == "" {
		c.SocketPath = def.SocketPath
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.MaxFds <= 0 {
		c.MaxFds = def.MaxFds
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// Delay returns the wait before connect attempt n (1-based). Growth stops at
// MaxDelay; with Jitter the result is drawn from [d/2, d), or d/2 when rng
// is nil.
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if b.MaxDelay > 0 && d >= float64(b.MaxDelay) {
			d = float64(b.MaxDelay)
			break
		}
	}
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64() / 2
		}
		d *= f
	}
	return time.Duration(d)
}
