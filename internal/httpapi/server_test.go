package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ysm446/sd-to-wan-prompt/internal/download"
	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/internal/manager"
	"github.com/ysm446/sd-to-wan-prompt/internal/store"
	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

type mockService struct {
	mu sync.Mutex

	presets   []types.PresetInfo
	artifacts []types.ArtifactInfo
	describe  types.DescribeResponse
	report    manager.SanityReport

	progress  []download.Progress
	record    store.Record
	err       error
	selected  []string
	generated []manager.Request
	cancelled []string
	removed   []string
	rescans   int
	releases  int
}

func (m *mockService) ListPresets() []types.PresetInfo { return m.presets }

func (m *mockService) Download(ctx context.Context, id string, force bool, onProgress func(download.Progress)) (store.Record, error) {
	for _, p := range m.progress {
		if onProgress != nil {
			onProgress(p)
		}
	}
	return m.record, m.err
}

func (m *mockService) Select(ctx context.Context, id, device, precision string) (types.SlotStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = append(m.selected, id+"|"+device+"|"+precision)
	return types.SlotStatus{PresetID: id}, m.err
}

func (m *mockService) Release(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	return m.err
}

func (m *mockService) Describe() types.DescribeResponse { return m.describe }

func (m *mockService) Generate(ctx context.Context, req manager.Request, w io.Writer, flush func()) error {
	m.mu.Lock()
	m.generated = append(m.generated, req)
	m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(types.GenerateStartLine{RequestID: "r1", PresetID: "alpha"})
	flush()
	_ = enc.Encode(types.FragmentLine{Fragment: "hi"})
	flush()
	_ = enc.Encode(types.GenerateDoneLine{Done: true, RequestID: "r1", Status: "completed", Content: "hi"})
	flush()
	return nil
}

func (m *mockService) Cancel(id string) error {
	m.cancelled = append(m.cancelled, id)
	return m.err
}

func (m *mockService) ListArtifacts() []types.ArtifactInfo { return m.artifacts }

func (m *mockService) RemoveArtifact(id string) error {
	m.removed = append(m.removed, id)
	return m.err
}

func (m *mockService) Rescan() error {
	m.rescans++
	return m.err
}

func (m *mockService) SanityCheck(context.Context) manager.SanityReport { return m.report }

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func ndjsonLines(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(body), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(l), &m); err != nil {
			t.Fatalf("bad ndjson line %q: %v", l, err)
		}
		out = append(out, m)
	}
	return out
}

func generateBody(extra string) string {
	return `{"image":"` + base64.StdEncoding.EncodeToString(pngBytes) + `","mode":"generate_video_prompt"` + extra + `}`
}

func TestPresetsHandler(t *testing.T) {
	svc := &mockService{presets: []types.PresetInfo{{ID: "a"}, {ID: "b", Downloaded: true}}}
	w := doJSON(t, NewMux(svc), http.MethodGet, "/presets", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var body types.PresetsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Presets) != 2 || !body.Presets[1].Downloaded {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestDescribeHandler(t *testing.T) {
	svc := &mockService{describe: types.DescribeResponse{Mode: "shared", Slots: []types.SlotStatus{{Class: "default", State: "ready"}}}}
	w := doJSON(t, NewMux(svc), http.MethodGet, "/backend", "")
	var body types.DescribeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Mode != "shared" || body.Slots[0].State != "ready" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestSelectHandler(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc)
	w := doJSON(t, h, http.MethodPost, "/backend/select", `{"preset_id":"alpha","device":"cpu","precision":"float32"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if len(svc.selected) != 1 || svc.selected[0] != "alpha|cpu|float32" {
		t.Fatalf("unexpected select calls: %v", svc.selected)
	}
	// preset_id is required
	if w := doJSON(t, h, http.MethodPost, "/backend/select", `{"device":"cpu"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestReleaseHandler(t *testing.T) {
	svc := &mockService{}
	w := doJSON(t, NewMux(svc), http.MethodPost, "/backend/release", "")
	if w.Code != http.StatusOK || svc.releases != 1 {
		t.Fatalf("status=%d releases=%d", w.Code, svc.releases)
	}
}

func TestGenerateStreams(t *testing.T) {
	svc := &mockService{}
	w := doJSON(t, NewMux(svc), http.MethodPost, "/generate", generateBody(`,"language":"English","max_tokens":64`))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != ndjson {
		t.Fatalf("content-type=%s", ct)
	}
	lines := ndjsonLines(t, w.Body.String())
	if len(lines) != 3 || lines[2]["done"] != true {
		t.Fatalf("unexpected stream: %v", lines)
	}
	req := svc.generated[0]
	if !bytes.Equal(req.Image, pngBytes) || req.ImageMIME != "image/png" || req.MaxTokens != 64 || string(req.Mode) != "generate_video_prompt" {
		t.Fatalf("request not converted: %+v", req)
	}
}

func TestGenerateAcceptsDataURL(t *testing.T) {
	svc := &mockService{}
	body := `{"image":"data:image/png;base64,` + base64.StdEncoding.EncodeToString(pngBytes) + `","mode":"analyze"}`
	if w := doJSON(t, NewMux(svc), http.MethodPost, "/generate", body); w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if !bytes.Equal(svc.generated[0].Image, pngBytes) {
		t.Fatalf("data url not decoded")
	}
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	cases := map[string]struct {
		body   string
		ct     string
		status int
	}{
		"not json":     {"not-json", "application/json", http.StatusBadRequest},
		"wrong type":   {generateBody(""), "text/plain", http.StatusUnsupportedMediaType},
		"no image":     {`{"mode":"analyze"}`, "application/json", http.StatusBadRequest},
		"bad mode":     {`{"image":"AAAA","mode":"poem"}`, "application/json", http.StatusBadRequest},
		"bad base64":   {`{"image":"***","mode":"analyze"}`, "application/json", http.StatusBadRequest},
		"top_p range":  {generateBody(`,"top_p":2`), "application/json", http.StatusBadRequest},
		"tokens range": {generateBody(`,"max_tokens":-1`), "application/json", http.StatusBadRequest},
	}
	for name, tc := range cases {
		svc := &mockService{}
		req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString(tc.body))
		req.Header.Set("Content-Type", tc.ct)
		w := httptest.NewRecorder()
		NewMux(svc).ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d (%s)", name, tc.status, w.Code, w.Body.String())
		}
		if len(svc.generated) != 0 {
			t.Fatalf("%s: service should not be called", name)
		}
	}
}

func TestGenerateBodyTooLarge(t *testing.T) {
	SetMaxBodyBytes(1024)
	defer SetMaxBodyBytes(0)
	big := generateBody(`,"instruction":"` + strings.Repeat("a", 2048) + `"`)
	if w := doJSON(t, NewMux(&mockService{}), http.MethodPost, "/generate", big); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too-large body, got %d", w.Code)
	}
}

func TestGenerateErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{errs.Busy("generate", "alpha", "queue full"), http.StatusTooManyRequests, "state_violation"},
		{errs.NotReady("generate", "", "no backend selected"), http.StatusConflict, "state_violation"},
		{manager.ErrPresetNotFound("missing"), http.StatusNotFound, "state_violation"},
		{errs.Invalid("generate", "request", "bad"), http.StatusBadRequest, "state_violation"},
		{mockHTTPError{msg: "teapot", code: http.StatusTeapot}, http.StatusTeapot, ""},
		{io.EOF, http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		w := doJSON(t, NewMux(&mockService{err: tc.err}), http.MethodPost, "/generate", generateBody(""))
		if w.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, w.Code)
		}
		var body types.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("json: %v", err)
		}
		if body.Code != tc.status || body.Kind != tc.kind {
			t.Fatalf("unexpected error body: %+v", body)
		}
	}
}

func TestCancelHandler(t *testing.T) {
	svc := &mockService{}
	w := doJSON(t, NewMux(svc), http.MethodPost, "/generate/r-42/cancel", "")
	var body types.CancelResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !body.Cancelled || body.RequestID != "r-42" || svc.cancelled[0] != "r-42" {
		t.Fatalf("unexpected cancel: %+v %v", body, svc.cancelled)
	}
	svc.err = errs.Conflict("cancel", "r-43", "not active")
	if w := doJSON(t, NewMux(svc), http.MethodPost, "/generate/r-43/cancel", ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestDownloadStreamsProgress(t *testing.T) {
	svc := &mockService{
		progress: []download.Progress{
			{Completed: 10, Total: 40, File: "a", FilesTotal: 2},
			{Completed: 40, Total: 40, File: "b", FilesDone: 2, FilesTotal: 2},
			{Completed: 40, Total: 40, FilesDone: 2, FilesTotal: 2, Done: true},
		},
		record: store.Record{PresetID: "gamma", Path: "/models/gamma", SizeBytes: 40},
	}
	w := doJSON(t, NewMux(svc), http.MethodPost, "/presets/gamma/download", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	lines := ndjsonLines(t, w.Body.String())
	if len(lines) != 3 {
		t.Fatalf("expected 2 progress lines and a final line, got %v", lines)
	}
	if lines[0]["percent"].(float64) != 25 {
		t.Fatalf("unexpected first line: %v", lines[0])
	}
	last := lines[2]
	if last["done"] != true || last["percent"].(float64) != 100 || last["path"] != "/models/gamma" {
		t.Fatalf("unexpected final line: %v", last)
	}
}

func TestDownloadErrors(t *testing.T) {
	// before any progress the error is a plain HTTP error
	svc := &mockService{err: errs.Busy("download", "gamma", "preset is resident")}
	if w := doJSON(t, NewMux(svc), http.MethodPost, "/presets/gamma/download", `{"force":true}`); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	// after progress it is reported in the last line
	svc = &mockService{
		progress: []download.Progress{{Completed: 5, Total: 40}},
		err:      errs.Permission("download", "gamma", io.ErrUnexpectedEOF),
	}
	w := doJSON(t, NewMux(svc), http.MethodPost, "/presets/gamma/download", "")
	lines := ndjsonLines(t, w.Body.String())
	last := lines[len(lines)-1]
	if w.Code != http.StatusOK || last["kind"] != "fatal_permission" || last["done"] != nil {
		t.Fatalf("unexpected failure line: %d %v", w.Code, last)
	}
}

func TestArtifactsHandlers(t *testing.T) {
	svc := &mockService{artifacts: []types.ArtifactInfo{{PresetID: "gamma", Complete: true}}}
	h := NewMux(svc)
	w := doJSON(t, h, http.MethodGet, "/artifacts", "")
	var body types.ArtifactsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || len(body.Artifacts) != 1 {
		t.Fatalf("unexpected artifacts: %s", w.Body.String())
	}
	if w := doJSON(t, h, http.MethodDelete, "/artifacts/gamma", ""); w.Code != http.StatusNoContent || svc.removed[0] != "gamma" {
		t.Fatalf("remove: status=%d removed=%v", w.Code, svc.removed)
	}
	if w := doJSON(t, h, http.MethodPost, "/artifacts/rescan", ""); w.Code != http.StatusOK || svc.rescans != 1 {
		t.Fatalf("rescan: status=%d rescans=%d", w.Code, svc.rescans)
	}
	svc.err = errs.NotFound("artifact", "nope")
	if w := doJSON(t, h, http.MethodDelete, "/artifacts/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestMetadataHandler(t *testing.T) {
	h := NewMux(&mockService{})
	// not a PNG: no metadata, not an error
	req := httptest.NewRequest(http.MethodPost, "/metadata", bytes.NewBufferString("GIF89a"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var body types.MetadataResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if w.Code != http.StatusOK || body.Found {
		t.Fatalf("unexpected response: %d %+v", w.Code, body)
	}
}

func TestHealthzAndReadyz(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc)
	if w := doJSON(t, h, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", w.Code)
	}
	svc.report = manager.SanityReport{StoreWritable: true, Runtimes: []manager.RuntimeCheck{{Kind: "standard", OK: false}}}
	if w := doJSON(t, h, http.MethodGet, "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a runtime, got %d", w.Code)
	}
	svc.report.Runtimes = append(svc.report.Runtimes, manager.RuntimeCheck{Kind: "compressed", OK: true})
	if w := doJSON(t, h, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	SetRateLimit(2)
	defer SetRateLimit(0)
	h := NewMux(&mockService{})
	var last int
	for i := 0; i < 3; i++ {
		last = doJSON(t, h, http.MethodGet, "/presets", "").Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected third request limited, got %d", last)
	}
	// probes are outside the limited group
	if w := doJSON(t, h, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz limited: %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	SetCORSOptions(true, []string{"http://ui.local"}, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/presets", nil)
	req.Header.Set("Origin", "http://ui.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://ui.local" {
		t.Fatalf("allow-origin=%q", got)
	}
}

func TestSwaggerMountedOnlyWhenEnabled(t *testing.T) {
	if w := doJSON(t, NewMux(&mockService{}), http.MethodGet, "/swagger/index.html", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when disabled, got %d", w.Code)
	}
	SetSwagger(true)
	defer SetSwagger(false)
	if w := doJSON(t, NewMux(&mockService{}), http.MethodGet, "/swagger/index.html", ""); w.Code != http.StatusOK {
		t.Fatalf("expected swagger ui, got %d", w.Code)
	}
}
