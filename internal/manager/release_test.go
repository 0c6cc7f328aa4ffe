package manager

import (
	"context"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
)

func TestRelease_UnloadsAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	mustSelect(t, env.m, "alpha")
	h := env.std.lastHandle(t)
	if err := env.m.Release(testCtx(t)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if h.unloadCount() != 1 {
		t.Fatalf("handle not unloaded")
	}
	d := env.m.Describe()
	if d.Slots[0].State != "empty" || d.Slots[0].PresetID != "" {
		t.Fatalf("slot not empty: %+v", d.Slots[0])
	}
	if err := env.m.Release(testCtx(t)); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if h.unloadCount() != 1 || env.m.Ready() {
		t.Fatalf("second release must be a no-op")
	}
	if _, err := env.m.Submit(testCtx(t), analyzeRequest("alpha")); !IsNotReady(err) {
		t.Fatalf("expected not ready after release, got %v", err)
	}
	// selecting again after a release works
	mustSelect(t, env.m, "alpha")
}

func TestRelease_DrainsInFlightGeneration(t *testing.T) {
	env := newTestEnv(t)
	gate := make(chan struct{}, 8)
	env.std.set(func(a *fakeAdapter) { a.gate = gate })
	mustSelect(t, env.m, "alpha")
	st, err := env.m.Submit(testCtx(t), analyzeRequest("alpha"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	released := make(chan error, 1)
	go func() { released <- env.m.Release(context.Background()) }()
	waitFor(t, "releasing", func() bool {
		env.m.mu.RLock()
		defer env.m.mu.RUnlock()
		return env.m.releasing
	})
	if _, err := env.m.Submit(testCtx(t), analyzeRequest("alpha")); !IsNotReady(err) {
		t.Fatalf("expected submits rejected during release, got %v", err)
	}
	if _, err := env.m.Select(testCtx(t), "beta", "cpu", ""); !IsTooBusy(err) {
		t.Fatalf("expected selects rejected during release, got %v", err)
	}
	for i := 0; i < 3; i++ {
		gate <- struct{}{}
	}
	if res := st.Wait(); res.Status != StatusCompleted {
		t.Fatalf("in-flight generation should drain to completion: %+v", res)
	}
	if err := <-released; err != nil {
		t.Fatalf("release: %v", err)
	}
	if env.std.lastHandle(t).unloadCount() != 1 {
		t.Fatalf("handle not unloaded")
	}
}

func TestRelease_DrainTimeoutCancels(t *testing.T) {
	env := newTestEnv(t, func(c *ManagerConfig) { c.DrainTimeout = 50 * time.Millisecond })
	env.std.set(func(a *fakeAdapter) { a.gate = make(chan struct{}) })
	mustSelect(t, env.m, "alpha")
	st, err := env.m.Submit(testCtx(t), analyzeRequest("alpha"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.m.Release(testCtx(t)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if res := st.Wait(); res.Status != StatusCancelled {
		t.Fatalf("expected cancelled after drain timeout: %+v", res)
	}
	if s := slotState(env.m); s != StateEmpty {
		t.Fatalf("expected empty slot, got %s", s)
	}
}

func TestRelease_CancelsStuckLoad(t *testing.T) {
	env := newTestEnv(t, func(c *ManagerConfig) { c.DrainTimeout = 50 * time.Millisecond })
	env.std.set(func(a *fakeAdapter) { a.loadGate = make(chan struct{}) })
	done := make(chan error, 1)
	go func() {
		_, err := env.m.Select(context.Background(), "alpha", "cpu", "")
		done <- err
	}()
	waitFor(t, "loading", func() bool { return slotState(env.m) == StateLoading })
	if err := env.m.Release(testCtx(t)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := <-done; !errs.Is(err, errs.KindCancelled) {
		t.Fatalf("expected cancelled load, got %v", err)
	}
	if s := slotState(env.m); s != StateEmpty {
		t.Fatalf("expected empty slot, got %s", s)
	}
}

func TestRelease_PublishesUnloadEvents(t *testing.T) {
	env := newTestEnv(t)
	mustSelect(t, env.m, "alpha")
	_ = env.m.Release(testCtx(t))
	names := env.pub.Names()
	i := slices.Index(names, EventUnloadStart)
	if i < 0 || !slices.Contains(names[i:], EventUnloadDone) {
		t.Fatalf("unload events out of order: %v", names)
	}
}

// At most one handle is live per class across random interleavings of
// select, submit and release.
func TestAtMostOneHandleUnderInterleaving(t *testing.T) {
	env := newTestEnv(t, func(c *ManagerConfig) { c.MaxQueueDepth = 1; c.MaxWait = 20 * time.Millisecond })
	presets := []string{"alpha", "beta", "tiny-q4"}
	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 40; i++ {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				switch r.Intn(4) {
				case 0, 1:
					_, _ = env.m.Select(ctx, presets[r.Intn(len(presets))], "cpu", "")
				case 2:
					if st, err := env.m.Submit(ctx, analyzeRequest("")); err == nil {
						if r.Intn(2) == 0 {
							st.Cancel()
						}
						st.Wait()
					}
				case 3:
					_ = env.m.Release(ctx)
				}
				cancel()
			}
		}(int64(w))
	}
	wg.Wait()
	if p := env.counter.peak(); p > 1 {
		t.Fatalf("peak live handles %d", p)
	}
	if err := env.m.Release(testCtx(t)); err != nil {
		t.Fatalf("final release: %v", err)
	}
	env.counter.mu.Lock()
	live := env.counter.live
	env.counter.mu.Unlock()
	if live != 0 {
		t.Fatalf("handles leaked: %d", live)
	}
	if s := slotState(env.m); s != StateEmpty {
		t.Fatalf("expected empty slot, got %s", s)
	}
}
