package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/vidgate/vidgate/adapters/clock"
	"github.com/vidgate/vidgate/adapters/memory"
	"github.com/vidgate/vidgate/app"
	"github.com/vidgate/vidgate/domain/ratelimit"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testLimiterConfig() app.LimiterConfig {
	return app.LimiterConfig{
		Download: ratelimit.Window{Route: ratelimit.RouteDownload, Limit: 10, Period: time.Minute},
		Info:     ratelimit.Window{Route: ratelimit.RouteInfo, Limit: 20, Period: time.Minute},
		Global:   ratelimit.Window{Route: ratelimit.RouteGlobal, Limit: 100, Period: 24 * time.Hour},
	}
}

func newLimiter(t *testing.T, cfg app.LimiterConfig) (*app.LimiterService, *clock.Fake) {
	t.Helper()
	store := memory.NewCounterStore(memory.CounterStoreConfig{NumShards: 4})
	t.Cleanup(func() { store.Close() })
	clk := clock.NewFake(testStart)
	return app.NewLimiterService(store, clk, cfg), clk
}

func TestCheck_AllowsUpToLimit(t *testing.T) {
	svc, _ := newLimiter(t, testLimiterConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := svc.Check(ctx, "keyA", ratelimit.RouteDownload)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		if want := 10 - (i + 1); d.Remaining != want {
			t.Errorf("request %d remaining = %d, want %d", i+1, d.Remaining, want)
		}
	}
}

func TestCheck_DeniesOverLimitWithRetryAfter(t *testing.T) {
	svc, clk := newLimiter(t, testLimiterConfig())
	ctx := context.Background()

	clk.Set(testStart.Add(20 * time.Second)) // mid-window
	for i := 0; i < 10; i++ {
		svc.Check(ctx, "keyA", ratelimit.RouteDownload)
	}

	d, err := svc.Check(ctx, "keyA", ratelimit.RouteDownload)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed {
		t.Fatal("11th request allowed, want denied")
	}
	if d.Route != ratelimit.RouteDownload {
		t.Errorf("denied by %s, want download window", d.Route)
	}
	if d.RetryAfter != 40*time.Second {
		t.Errorf("retry after = %s, want 40s", d.RetryAfter)
	}
}

func TestCheck_RejectionDoesNotConsumeQuota(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.Global.Limit = 15
	svc, clk := newLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		svc.Check(ctx, "keyA", ratelimit.RouteDownload)
	}
	// A burst of rejected requests must not eat into the global window.
	for i := 0; i < 50; i++ {
		if d, _ := svc.Check(ctx, "keyA", ratelimit.RouteDownload); d.Allowed {
			t.Fatalf("rejected burst request %d allowed", i)
		}
	}

	// Global stands at 10, so exactly 5 more should fit.
	clk.Advance(time.Minute)
	for i := 0; i < 5; i++ {
		d, err := svc.Check(ctx, "keyA", ratelimit.RouteDownload)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d of new window denied; rejected burst leaked into global window", i+1)
		}
	}
	if d, _ := svc.Check(ctx, "keyA", ratelimit.RouteDownload); d.Allowed {
		t.Fatal("16th overall request allowed, want denied by global window")
	}
}

func TestCheck_CountRejectedKeepsCharges(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.Global.Limit = 12
	cfg.CountRejected = true
	svc, clk := newLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		svc.Check(ctx, "keyA", ratelimit.RouteDownload)
	}
	// Two rejected downloads still burn global quota.
	svc.Check(ctx, "keyA", ratelimit.RouteDownload)
	svc.Check(ctx, "keyA", ratelimit.RouteDownload)

	clk.Advance(time.Minute)
	d, _ := svc.Check(ctx, "keyA", ratelimit.RouteInfo)
	if d.Allowed {
		t.Fatal("info request allowed, want denied by exhausted global window")
	}
	if d.Route != ratelimit.RouteGlobal {
		t.Errorf("denied by %s, want global window", d.Route)
	}
}

func TestCheck_RoutesAreIndependent(t *testing.T) {
	svc, _ := newLimiter(t, testLimiterConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		svc.Check(ctx, "keyA", ratelimit.RouteDownload)
	}
	if d, _ := svc.Check(ctx, "keyA", ratelimit.RouteDownload); d.Allowed {
		t.Fatal("download over limit allowed")
	}

	// Info has its own window.
	d, err := svc.Check(ctx, "keyA", ratelimit.RouteInfo)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed {
		t.Fatal("info request denied, want allowed")
	}
}

func TestCheck_GlobalWindowCapsAllRoutes(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.Download.Limit = 1000
	cfg.Info.Limit = 1000
	cfg.Global.Limit = 5
	svc, _ := newLimiter(t, cfg)
	ctx := context.Background()

	routes := []ratelimit.Route{
		ratelimit.RouteDownload, ratelimit.RouteInfo, ratelimit.RouteDownload,
		ratelimit.RouteInfo, ratelimit.RouteDownload,
	}
	for i, r := range routes {
		if d, _ := svc.Check(ctx, "keyA", r); !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}

	d, _ := svc.Check(ctx, "keyA", ratelimit.RouteInfo)
	if d.Allowed {
		t.Fatal("6th request allowed, want denied by global window")
	}
	if d.Route != ratelimit.RouteGlobal {
		t.Errorf("denied by %s, want global window", d.Route)
	}
}

func TestCheck_IdentitiesAreIndependent(t *testing.T) {
	svc, _ := newLimiter(t, testLimiterConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		svc.Check(ctx, "keyA", ratelimit.RouteDownload)
	}
	d, _ := svc.Check(ctx, "keyB", ratelimit.RouteDownload)
	if !d.Allowed {
		t.Fatal("keyB denied after keyA exhausted its window")
	}
}

func TestCheck_WindowResetRestoresQuota(t *testing.T) {
	svc, clk := newLimiter(t, testLimiterConfig())
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		svc.Check(ctx, "keyA", ratelimit.RouteDownload)
	}
	clk.Advance(time.Minute)

	d, _ := svc.Check(ctx, "keyA", ratelimit.RouteDownload)
	if !d.Allowed {
		t.Fatal("request denied after window reset")
	}
	if d.Remaining != 9 {
		t.Errorf("remaining = %d, want 9", d.Remaining)
	}
}

func TestCheck_UnknownRoute(t *testing.T) {
	svc, _ := newLimiter(t, testLimiterConfig())

	if _, err := svc.Check(context.Background(), "keyA", ratelimit.Route("bogus")); err == nil {
		t.Fatal("err = nil, want error for unknown route")
	}
}
