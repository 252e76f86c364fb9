// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/vidgate/vidgate/domain/ratelimit"
	"github.com/vidgate/vidgate/ports"
)

// LimiterService enforces the per-route and global fixed windows. Every
// admitted request consumes one unit from its route window AND the global
// window; a request must pass both.
type LimiterService struct {
	counters ports.CounterStore
	clock    ports.Clock

	// Hot-reloadable window definitions.
	cfg atomic.Pointer[LimiterConfig]
}

// LimiterConfig contains the window definitions and accounting policy.
type LimiterConfig struct {
	Download ratelimit.Window
	Info     ratelimit.Window
	Global   ratelimit.Window

	// CountRejected keeps provisional increments when a request is
	// rejected, so rejected traffic also burns quota.
	CountRejected bool
}

// NewLimiterService creates a limiter backed by the given counter store.
func NewLimiterService(counters ports.CounterStore, clock ports.Clock, cfg LimiterConfig) *LimiterService {
	s := &LimiterService{counters: counters, clock: clock}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig swaps the window definitions. Thread-safe; in-flight
// requests finish under the config they started with.
func (s *LimiterService) UpdateConfig(cfg LimiterConfig) {
	s.cfg.Store(&cfg)
}

// windowFor returns the route window for a route.
func (c *LimiterConfig) windowFor(route ratelimit.Route) (ratelimit.Window, bool) {
	switch route {
	case ratelimit.RouteDownload:
		return c.Download, true
	case ratelimit.RouteInfo:
		return c.Info, true
	default:
		return ratelimit.Window{}, false
	}
}

// Check admits or rejects one request for the given identity and route.
// Counters are incremented first and evaluated after; on rejection the
// provisional increments are rolled back unless rejected requests are
// configured to count.
func (s *LimiterService) Check(ctx context.Context, identity string, route ratelimit.Route) (ratelimit.Decision, error) {
	cfg := s.cfg.Load()
	now := s.clock.Now()

	routeWin, ok := cfg.windowFor(route)
	if !ok {
		return ratelimit.Decision{}, fmt.Errorf("unknown route %q", route)
	}

	windows := []ratelimit.Window{routeWin, cfg.Global}

	type charged struct {
		win   ratelimit.Window
		key   string
		count int
	}
	var charges []charged

	rollback := func() {
		for _, c := range charges {
			s.counters.Decr(ctx, c.key, c.win.Start(now))
		}
	}

	for _, win := range windows {
		key := ratelimit.CounterKey(identity, win.Route)
		count, err := s.counters.Incr(ctx, key, win.Start(now), win.Period)
		if err != nil {
			rollback()
			return ratelimit.Decision{}, fmt.Errorf("increment %s counter: %w", win.Route, err)
		}
		charges = append(charges, charged{win: win, key: key, count: count})
	}

	// Evaluate after all increments so a rejection can roll back every
	// window consistently.
	allowed := ratelimit.Decision{Allowed: true}
	for _, c := range charges {
		d := c.win.Evaluate(c.count, now)
		if !d.Allowed {
			if !cfg.CountRejected {
				rollback()
			}
			return d, nil
		}
		if c.win.Route == routeWin.Route {
			allowed = d
		}
	}
	return allowed, nil
}
