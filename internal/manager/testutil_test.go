package manager

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ysm446/sd-to-wan-prompt/internal/backend"
	"github.com/ysm446/sd-to-wan-prompt/internal/download"
	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/internal/prompt"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
	"github.com/ysm446/sd-to-wan-prompt/internal/store"
)

// pngImage is enough of a PNG for content sniffing.
var pngImage = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

// liveCounter tracks handles that are loaded and not yet unloaded, across
// every fake adapter of a test.
type liveCounter struct {
	mu   sync.Mutex
	live int
	max  int
}

func (c *liveCounter) inc() {
	c.mu.Lock()
	c.live++
	if c.live > c.max {
		c.max = c.live
	}
	c.mu.Unlock()
}

func (c *liveCounter) dec() {
	c.mu.Lock()
	c.live--
	c.mu.Unlock()
}

func (c *liveCounter) peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max
}

// fakeAdapter is a lightweight in-memory adapter used for tests.
type fakeAdapter struct {
	kind    registry.Kind
	counter *liveCounter

	mu        sync.Mutex
	loadErr   error
	loadGate  chan struct{}
	fragments []string
	gate      chan struct{}
	genErr    error
	loads     []backend.LoadRequest
	handles   []*fakeHandle
}

func (a *fakeAdapter) Kind() registry.Kind { return a.kind }

func (a *fakeAdapter) Load(ctx context.Context, req backend.LoadRequest) (backend.Handle, error) {
	a.mu.Lock()
	a.loads = append(a.loads, req)
	loadErr, gate := a.loadErr, a.loadGate
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, errs.Cancelled("load", req.Preset.ID)
		}
	}
	if loadErr != nil {
		return nil, loadErr
	}
	a.counter.inc()
	a.mu.Lock()
	defer a.mu.Unlock()
	h := &fakeHandle{
		counter:   a.counter,
		fragments: a.fragments,
		gate:      a.gate,
		genErr:    a.genErr,
		usage: backend.Usage{
			PresetID: req.Preset.ID, Kind: a.kind, Device: req.Device, Precision: req.Precision,
			Endpoint: "http://127.0.0.1:0", EstRAMBytes: 2 << 30, Architecture: "qwen2_5_vl", ContextLength: 8192, LoadedAt: time.Now(),
		},
	}
	a.handles = append(a.handles, h)
	return h, nil
}

func (a *fakeAdapter) set(fn func(a *fakeAdapter)) {
	a.mu.Lock()
	fn(a)
	a.mu.Unlock()
}

func (a *fakeAdapter) loadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.loads)
}

func (a *fakeAdapter) lastHandle(t *testing.T) *fakeHandle {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.handles) == 0 {
		t.Fatalf("no handle loaded")
	}
	return a.handles[len(a.handles)-1]
}

// fakeHandle streams its fragments, one per gate token when gate is set.
type fakeHandle struct {
	counter   *liveCounter
	fragments []string
	gate      chan struct{}
	genErr    error
	usage     backend.Usage
	busy      atomic.Bool

	mu      sync.Mutex
	convs   []prompt.Conversation
	params  []backend.Params
	unloads int
}

func (h *fakeHandle) Generate(ctx context.Context, conv prompt.Conversation, p backend.Params, onFragment func(string) error) (backend.Result, error) {
	if !h.busy.CompareAndSwap(false, true) {
		return backend.Result{}, errs.Busy("generate", h.usage.PresetID, "handle busy")
	}
	defer h.busy.Store(false)
	h.mu.Lock()
	h.convs = append(h.convs, conv)
	h.params = append(h.params, p)
	h.mu.Unlock()
	var b strings.Builder
	for _, f := range h.fragments {
		if h.gate != nil {
			select {
			case <-h.gate:
			case <-ctx.Done():
				return backend.Result{Text: b.String()}, ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return backend.Result{Text: b.String()}, err
		}
		if err := onFragment(f); err != nil {
			return backend.Result{Text: b.String()}, err
		}
		b.WriteString(f)
	}
	if h.genErr != nil {
		return backend.Result{Text: b.String()}, h.genErr
	}
	n := len(h.fragments)
	return backend.Result{Text: b.String(), FinishReason: "stop", Usage: backend.TokenUsage{PromptTokens: 10, CompletionTokens: n, TotalTokens: 10 + n}}, nil
}

func (h *fakeHandle) Unload(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unloads++
	if h.unloads == 1 {
		h.counter.dec()
	}
	return nil
}

func (h *fakeHandle) Describe() backend.Usage { return h.usage }

func (h *fakeHandle) unloadCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unloads
}

func (h *fakeHandle) lastConv(t *testing.T) (prompt.Conversation, backend.Params) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.convs) == 0 {
		t.Fatalf("no generation recorded")
	}
	return h.convs[len(h.convs)-1], h.params[len(h.params)-1]
}

// fakeFetcher stages a valid standard layout, reporting progress per file.
type fakeFetcher struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func safetensorsBytes() []byte {
	h := `{"w":{"dtype":"F16","shape":[2],"data_offsets":[0,4]}}`
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(len(h)))
	b = append(b, h...)
	return append(b, 0, 0, 0, 0)
}

func (f *fakeFetcher) Fetch(ctx context.Context, req download.Request, dir string, onProgress func(download.Progress)) ([]store.ExpectedFile, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, errs.Cancelled("download", req.RepoID)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	files := []struct {
		name string
		data []byte
	}{
		{"config.json", []byte(`{"architectures":["Qwen2_5_VLForConditionalGeneration"]}`)},
		{"tokenizer.json", []byte(`{}`)},
		{"model.safetensors", safetensorsBytes()},
	}
	var total int64
	for _, fl := range files {
		total += int64(len(fl.data))
	}
	var done int64
	var exp []store.ExpectedFile
	for i, fl := range files {
		if err := os.WriteFile(filepath.Join(dir, fl.name), fl.data, 0o644); err != nil {
			return nil, err
		}
		done += int64(len(fl.data))
		exp = append(exp, store.ExpectedFile{Name: fl.name, Size: int64(len(fl.data))})
		onProgress(download.Progress{Completed: done, Total: total, File: fl.name, FilesDone: i + 1, FilesTotal: len(files), Done: i == len(files)-1})
	}
	return exp, nil
}

type testEnv struct {
	m        *Manager
	std      *fakeAdapter
	cmp      *fakeAdapter
	counter  *liveCounter
	fetcher  *fakeFetcher
	pub      *MemoryPublisher
	store    *store.Store
	stateDir string
}

// newTestEnv builds a manager over presets "alpha" and "beta" (local
// standard directories), "tiny-q4" (local GGUF) and "gamma" (downloadable).
func newTestEnv(t *testing.T, mods ...func(*ManagerConfig)) *testEnv {
	t.Helper()
	root := t.TempDir()
	local := func(name string) string {
		d := filepath.Join(root, "local", name)
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		return d
	}
	gguf := filepath.Join(local("gguf"), "tiny-Q4_K_M.gguf")
	if err := os.WriteFile(gguf, []byte("GGUF"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cat, err := registry.NewCatalog(
		registry.Preset{ID: "alpha", LocalName: "alpha", LocalPath: local("alpha"), Defaults: registry.Defaults{Temperature: 0.3, MaxTokens: 256, TopP: 0.9}},
		registry.Preset{ID: "beta", LocalName: "beta", LocalPath: local("beta")},
		registry.Preset{ID: "tiny-q4", LocalName: "tiny-q4", Kind: registry.KindCompressed, LocalPath: gguf},
		registry.Preset{ID: "gamma", RepoID: "Acme/Gamma-VL", Include: []string{"*.json", "*.safetensors"}},
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	st, err := store.Open(filepath.Join(root, "models"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	counter := &liveCounter{}
	env := &testEnv{
		std:      &fakeAdapter{kind: registry.KindStandard, counter: counter, fragments: []string{"A ", "woman ", "walks."}},
		cmp:      &fakeAdapter{kind: registry.KindCompressed, counter: counter, fragments: []string{"q4"}},
		counter:  counter,
		fetcher:  &fakeFetcher{},
		pub:      NewMemoryPublisher(),
		store:    st,
		stateDir: filepath.Join(root, "state"),
	}
	cfg := ManagerConfig{
		Catalog:      cat,
		Store:        st,
		Fetcher:      env.fetcher,
		Adapters:     []backend.Adapter{env.std, env.cmp},
		AutoDownload: true,
		MaxWait:      2 * time.Second,
		DrainTimeout: 2 * time.Second,
		StateDir:     env.stateDir,
		Publisher:    env.pub,
	}
	for _, mod := range mods {
		mod(&cfg)
	}
	env.m = NewWithConfig(cfg)
	t.Cleanup(func() { _ = env.m.Release(context.Background()) })
	return env
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustSelect(t *testing.T, m *Manager, presetID string) {
	t.Helper()
	if _, err := m.Select(testCtx(t), presetID, "cpu", ""); err != nil {
		t.Fatalf("select %s: %v", presetID, err)
	}
}

func analyzeRequest(presetID string) Request {
	return Request{PresetID: presetID, Mode: prompt.ModeAnalyze, Image: pngImage}
}

// collect reads every fragment then the result.
func collect(st *Stream) ([]string, Result) {
	var frags []string
	for f := range st.Fragments() {
		frags = append(frags, f)
	}
	return frags, st.Wait()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func slotState(m *Manager) State {
	d := m.Describe()
	if len(d.Slots) == 0 {
		return StateEmpty
	}
	return State(d.Slots[0].State)
}

var errBoom = errors.New("boom")
