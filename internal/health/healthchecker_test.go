package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type fakeChecker struct {
	name    string
	healthy atomic.Int32
}

func (f *fakeChecker) Name() string                               { return f.name }
func (f *fakeChecker) IsHealthy() bool                            { return f.healthy.Load() == 1 }
func (f *fakeChecker) Start(ctx context.Context, _ time.Duration) {}

type fakePinger struct{ fail atomic.Bool }

func (f *fakePinger) Ping(context.Context) error {
	if f.fail.Load() {
		return errors.New("down")
	}
	return nil
}

func waitTrue(t *testing.T, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestServiceChecker_Transitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &fakeChecker{name: "ledger"}
	b := &fakeChecker{name: "sink"}
	a.healthy.Store(1)
	b.healthy.Store(1)

	svc := NewServiceChecker(zerolog.Nop(), a, b)
	go svc.Start(ctx, 10*time.Millisecond)

	waitTrue(t, svc.IsHealthy)

	b.healthy.Store(0)
	waitTrue(t, func() bool { return !svc.IsHealthy() })

	b.healthy.Store(1)
	waitTrue(t, svc.IsHealthy)
}

func TestServiceChecker_Components(t *testing.T) {
	a := &fakeChecker{name: "ledger"}
	a.healthy.Store(1)
	svc := NewServiceChecker(zerolog.Nop(), a)

	got := svc.Components()
	if len(got) != 1 || !got["ledger"] {
		t.Fatalf("unexpected component map: %v", got)
	}
}

func TestPingChecker_RecoversAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &fakePinger{}
	c := NewPingChecker("ledger", p, time.Second, zerolog.Nop())
	go c.Start(ctx, 10*time.Millisecond)

	waitTrue(t, c.IsHealthy)

	p.fail.Store(true)
	waitTrue(t, func() bool { return !c.IsHealthy() })

	p.fail.Store(false)
	waitTrue(t, c.IsHealthy)
}
