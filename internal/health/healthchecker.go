// Package health provides component health checkers and a service-level
// aggregator. Handlers read cached flags; probing happens in the background
// so a slow dependency never stalls a health request.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Checker is implemented by component-level checkers (ledger, sink).
type Checker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// Pinger is the probe a component exposes; nil means healthy.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker adapts a Pinger into a Checker with a cached flag.
type PingChecker struct {
	name    string
	pinger  Pinger
	timeout time.Duration
	healthy atomic.Int32
	log     zerolog.Logger
}

// NewPingChecker builds a checker that probes p every interval with the
// given per-probe timeout.
func NewPingChecker(name string, p Pinger, timeout time.Duration, log zerolog.Logger) *PingChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &PingChecker{name: name, pinger: p, timeout: timeout, log: log}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) IsHealthy() bool { return c.healthy.Load() == 1 }

// Start probes until ctx is canceled. The first probe runs immediately.
func (c *PingChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if err := c.pinger.Ping(probeCtx); err != nil {
			if c.healthy.Swap(0) == 1 {
				c.log.Error().Err(err).Str("component", c.name).Msg("component health: DOWN")
			}
			return
		}
		if c.healthy.Swap(1) == 0 {
			c.log.Info().Str("component", c.name).Msg("component health: UP")
		}
	}

	probe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

// ServiceChecker aggregates component checkers into one service flag.
type ServiceChecker struct {
	healthy atomic.Int32
	deps    []Checker
	log     zerolog.Logger
}

func NewServiceChecker(log zerolog.Logger, deps ...Checker) *ServiceChecker {
	s := &ServiceChecker{deps: deps, log: log}
	s.healthy.Store(0)
	return s
}

// IsHealthy returns the cached service health.
func (s *ServiceChecker) IsHealthy() bool { return s.healthy.Load() == 1 }

// Components reports each dependency's cached state by name.
func (s *ServiceChecker) Components() map[string]bool {
	out := make(map[string]bool, len(s.deps))
	for _, c := range s.deps {
		out[c.Name()] = c.IsHealthy()
	}
	return out
}

// Start periodically folds dependency health into the service flag.
func (s *ServiceChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := int32(0)
	eval := func() {
		all := int32(1)
		for _, c := range s.deps {
			if !c.IsHealthy() {
				all = 0
			}
		}
		s.healthy.Store(all)
		if all != prev {
			if all == 1 {
				s.log.Info().Msg("service health: UP")
			} else {
				s.log.Error().Msg("service health: DOWN")
			}
			prev = all
		}
	}

	eval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eval()
		}
	}
}
