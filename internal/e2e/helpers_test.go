package e2e

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ysm446/sd-to-wan-prompt/internal/backend"
	"github.com/ysm446/sd-to-wan-prompt/internal/download"
	"github.com/ysm446/sd-to-wan-prompt/internal/httpapi"
	"github.com/ysm446/sd-to-wan-prompt/internal/manager"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
	"github.com/ysm446/sd-to-wan-prompt/internal/store"
)

const testRepo = "acme/tiny-vl"

// checkpoint is a minimal transformer repository.
func checkpoint() map[string][]byte {
	h := `{"w":{"dtype":"BF16","shape":[512,512],"data_offsets":[0,0]}}`
	weights := make([]byte, 8)
	binary.LittleEndian.PutUint64(weights, uint64(len(h)))
	weights = append(weights, h...)
	return map[string][]byte{
		"config.json":       []byte(`{"architectures":["Qwen2_5_VLForConditionalGeneration"],"max_position_embeddings":32768}`),
		"model.safetensors": weights,
		"README.md":         []byte("not fetched"),
	}
}

// hubServer serves the model info and resolve endpoints for one repository.
func hubServer(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	infoPath := "/api/models/" + testRepo + "/revision/main"
	filePrefix := "/" + testRepo + "/resolve/main/"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == infoPath:
			var sib []map[string]any
			for name, data := range files {
				sum := sha256.Sum256(data)
				sib = append(sib, map[string]any{"rfilename": name, "size": len(data), "lfs": map[string]any{"sha256": hex.EncodeToString(sum[:]), "size": len(data)}})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": testRepo, "siblings": sib})
		case strings.HasPrefix(r.URL.Path, filePrefix):
			data, ok := files[strings.TrimPrefix(r.URL.Path, filePrefix)]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// runtimeServer is an OpenAI compatible endpoint streaming fixed fragments.
// When gate is set each fragment waits for a receive on it.
type runtimeServer struct {
	*httptest.Server
	gate chan struct{}

	mu       sync.Mutex
	requests int
}

func newRuntimeServer(t *testing.T, gate chan struct{}, fragments ...string) *runtimeServer {
	t.Helper()
	rs := &runtimeServer{gate: gate}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"id":"tiny-vl"}]}`)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.requests++
		rs.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, f := range fragments {
			if rs.gate != nil {
				select {
				case <-rs.gate:
				case <-r.Context().Done():
					return
				}
			}
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", f)
			fl.Flush()
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":20,\"completion_tokens\":3,\"total_tokens\":23}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	rs.Server = httptest.NewServer(mux)
	t.Cleanup(rs.Close)
	return rs
}

func (rs *runtimeServer) requestCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.requests
}

// stack is the API server with every real component behind it.
type stack struct {
	api *httptest.Server
	mgr *manager.Manager
	st  *store.Store
}

func newStack(t *testing.T, hubURL, runtimeURL string, mods ...func(*manager.ManagerConfig)) *stack {
	t.Helper()
	cat, err := registry.NewCatalog(registry.Preset{
		ID:          "tiny-vl",
		DisplayName: "Tiny VL",
		Kind:        registry.KindStandard,
		RepoID:      testRepo,
		LocalName:   "tiny-vl",
		Include:     []string{"*.json", "*.safetensors"},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	client := download.NewClient(download.WithEndpoint(hubURL), download.WithBreaker(100, time.Minute))
	fetcher := download.New(client, download.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, zerolog.Nop())
	adapter := backend.NewStandard("unused", nil, runtimeURL, backend.Options{
		Logger:      zerolog.Nop(),
		MemoryProbe: func() (uint64, error) { return 64 << 30, nil },
	})
	cfg := manager.ManagerConfig{
		Catalog:       cat,
		Store:         st,
		Fetcher:       fetcher,
		Adapters:      []backend.Adapter{adapter},
		MaxWait:       2 * time.Second,
		DrainTimeout:  2 * time.Second,
		DefaultDevice: "cpu",
		StateDir:      t.TempDir(),
		Logger:        zerolog.Nop(),
	}
	for _, mod := range mods {
		mod(&cfg)
	}
	mgr := manager.NewWithConfig(cfg)
	api := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		api.Close()
		_ = mgr.Close(context.Background())
	})
	return &stack{api: api, mgr: mgr, st: st}
}

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func ndjson(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

// generateBody is a generate request carrying a tiny PNG signature.
func generateBody(mode string) string {
	img := "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="
	return fmt.Sprintf(`{"image":%q,"mode":%q}`, img, mode)
}
