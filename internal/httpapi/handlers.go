package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ysm446/sd-to-wan-prompt/internal/download"
	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/internal/manager"
	"github.com/ysm446/sd-to-wan-prompt/internal/prompt"
	"github.com/ysm446/sd-to-wan-prompt/internal/sdmeta"
	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

const ndjson = "application/x-ndjson"

var validate = validator.New(validator.WithRequiredStructEnabled())

// listPresets godoc
// @Summary      List presets
// @Description  Catalog entries with whether each artifact is present locally.
// @Tags         presets
// @Produce      json
// @Success      200  {object}  types.PresetsResponse
// @Router       /presets [get]
func (s *server) listPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.PresetsResponse{Presets: s.svc.ListPresets()})
}

// downloadPreset godoc
// @Summary      Download a preset
// @Description  Streams NDJSON progress lines; the last line has done=true or an error.
// @Tags         presets
// @Accept       json
// @Produce      application/x-ndjson
// @Param        id    path      string                 true   "Preset id"
// @Param        body  body      types.DownloadRequest  false  "Download options"
// @Success      200   {object}  types.DownloadProgressLine
// @Failure      400   {object}  types.ErrorResponse
// @Failure      404   {object}  types.ErrorResponse
// @Failure      429   {object}  types.ErrorResponse
// @Router       /presets/{id}/download [post]
func (s *server) downloadPreset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body types.DownloadRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}
	force := body.Force || r.URL.Query().Get("force") == "true"
	log := newRequestLog(r, "download")
	log.begin(map[string]any{"preset": id, "force": force})

	ctx, cancel := handlerContext(r)
	defer cancel()
	flush := flusherOf(w)
	enc := json.NewEncoder(log.tee(w))

	var (
		mu      sync.Mutex
		started bool
		last    download.Progress
	)
	start := func() {
		if !started {
			w.Header().Set("Content-Type", ndjson)
			w.WriteHeader(http.StatusOK)
			started = true
		}
	}
	rec, err := s.svc.Download(ctx, id, force, func(p download.Progress) {
		mu.Lock()
		defer mu.Unlock()
		last = p
		if p.Done {
			return
		}
		start()
		_ = enc.Encode(progressLine(id, p))
		flush()
	})

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		if !started {
			log.end(writeError(w, err), err)
			return
		}
		line := progressLine(id, last)
		line.Error, line.Kind = err.Error(), string(errs.KindOf(err))
		_ = enc.Encode(line)
		flush()
		log.end(http.StatusOK, err)
		return
	}
	start()
	line := progressLine(id, last)
	if line.Total == 0 {
		line.Completed, line.Total = rec.SizeBytes, rec.SizeBytes
	}
	line.Done, line.Percent, line.Path = true, 100, rec.Path
	_ = enc.Encode(line)
	flush()
	log.end(http.StatusOK, nil)
}

func progressLine(id string, p download.Progress) types.DownloadProgressLine {
	return types.DownloadProgressLine{
		PresetID:   id,
		Completed:  p.Completed,
		Total:      p.Total,
		Percent:    p.Percent(),
		File:       p.File,
		FilesDone:  p.FilesDone,
		FilesTotal: p.FilesTotal,
	}
}

// describe godoc
// @Summary      Describe the backend slots
// @Tags         backend
// @Produce      json
// @Success      200  {object}  types.DescribeResponse
// @Router       /backend [get]
func (s *server) describe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Describe())
}

// selectBackend godoc
// @Summary      Select a preset
// @Description  Loads the preset into its slot, replacing what the slot held. Downloads first when allowed.
// @Tags         backend
// @Accept       json
// @Produce      json
// @Param        body  body      types.SelectRequest  true  "Selection"
// @Success      200   {object}  types.DescribeResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      404   {object}  types.ErrorResponse
// @Failure      409   {object}  types.ErrorResponse
// @Failure      422   {object}  types.ErrorResponse
// @Failure      429   {object}  types.ErrorResponse
// @Failure      507   {object}  types.ErrorResponse
// @Router       /backend/select [post]
func (s *server) selectBackend(w http.ResponseWriter, r *http.Request) {
	var body types.SelectRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}
	ctx, cancel := handlerContext(r)
	defer cancel()
	if _, err := s.svc.Select(ctx, body.PresetID, body.Device, body.Precision); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Describe())
}

// releaseBackend godoc
// @Summary      Release every slot
// @Description  Drains in-flight generations, then unloads every backend.
// @Tags         backend
// @Produce      json
// @Success      200  {object}  types.DescribeResponse
// @Failure      429  {object}  types.ErrorResponse
// @Router       /backend/release [post]
func (s *server) releaseBackend(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := handlerContext(r)
	defer cancel()
	if err := s.svc.Release(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Describe())
}

// generate godoc
// @Summary      Analyze an image or write a video prompt
// @Description  Streams NDJSON: a start line with the request id, fragment lines, then a done line.
// @Tags         generate
// @Accept       json
// @Produce      application/x-ndjson
// @Param        body  body      types.GenerateRequest  true  "Generation request"
// @Success      200   {object}  types.GenerateDoneLine
// @Failure      400   {object}  types.ErrorResponse
// @Failure      409   {object}  types.ErrorResponse
// @Failure      415   {object}  types.ErrorResponse
// @Failure      429   {object}  types.ErrorResponse
// @Router       /generate [post]
func (s *server) generate(w http.ResponseWriter, r *http.Request) {
	var body types.GenerateRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}
	req, err := toRequest(body)
	if err != nil {
		writeError(w, err)
		return
	}
	log := newRequestLog(r, "generate")
	log.begin(map[string]any{"preset": req.PresetID, "mode": string(req.Mode)})

	ctx, cancel := handlerContext(r)
	defer cancel()
	if generateTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, generateTimeout)
		defer cancelTimeout()
	}
	w.Header().Set("Content-Type", ndjson)
	if err := s.svc.Generate(ctx, req, log.tee(w), flusherOf(w)); err != nil {
		// client disconnect or shutdown: nobody to answer
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		log.end(writeError(w, err), err)
		return
	}
	log.end(http.StatusOK, nil)
}

// toRequest converts the wire request, decoding the inline image.
func toRequest(b types.GenerateRequest) (manager.Request, error) {
	data := b.Image
	// accept data URLs as produced by browsers
	if strings.HasPrefix(data, "data:") {
		if i := strings.Index(data, ","); i >= 0 {
			data = data[i+1:]
		}
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil || len(img) == 0 {
		return manager.Request{}, errs.Invalid("generate", "image", "image must be non-empty base64")
	}
	mime := b.ImageMIME
	if mime == "" {
		mime = http.DetectContentType(img)
	}
	return manager.Request{
		PresetID:    b.PresetID,
		Mode:        prompt.Mode(b.Mode),
		Image:       img,
		ImageMIME:   mime,
		Metadata:    b.Metadata,
		Language:    b.Language,
		Style:       b.Style,
		Sections:    b.Sections,
		Instruction: b.Instruction,
		Temperature: b.Temperature,
		MaxTokens:   b.MaxTokens,
		TopP:        b.TopP,
	}, nil
}

// cancel godoc
// @Summary      Cancel a generation
// @Tags         generate
// @Produce      json
// @Param        requestID  path      string  true  "Request id from the start line"
// @Success      200        {object}  types.CancelResponse
// @Failure      409        {object}  types.ErrorResponse
// @Router       /generate/{requestID}/cancel [post]
func (s *server) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestID")
	if err := s.svc.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.CancelResponse{RequestID: id, Cancelled: true})
}

// listArtifacts godoc
// @Summary      List local artifacts
// @Tags         artifacts
// @Produce      json
// @Success      200  {object}  types.ArtifactsResponse
// @Router       /artifacts [get]
func (s *server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ArtifactsResponse{Artifacts: s.svc.ListArtifacts()})
}

// removeArtifact godoc
// @Summary      Remove a local artifact
// @Tags         artifacts
// @Param        id  path  string  true  "Preset id"
// @Success      204
// @Failure      404  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Router       /artifacts/{id} [delete]
func (s *server) removeArtifact(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveArtifact(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// rescan godoc
// @Summary      Re-verify local artifacts
// @Description  Reconciles the manifest with the files on disk and returns the result.
// @Tags         artifacts
// @Produce      json
// @Success      200  {object}  types.ArtifactsResponse
// @Router       /artifacts/rescan [post]
func (s *server) rescan(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Rescan(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ArtifactsResponse{Artifacts: s.svc.ListArtifacts()})
}

// metadata godoc
// @Summary      Extract generation metadata
// @Description  Reads Stable Diffusion metadata from a PNG sent as the raw request body.
// @Tags         metadata
// @Accept       image/png
// @Produce      json
// @Success      200  {object}  types.MetadataResponse
// @Failure      400  {object}  types.ErrorResponse
// @Router       /metadata [post]
func (s *server) metadata(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	img, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	meta, err := sdmeta.Extract(bytes.NewReader(img))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("corrupt image: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, types.MetadataResponse{Found: meta != nil, Metadata: meta})
}

// readyz reports whether the store and at least one runtime are usable.
func (s *server) readyz(w http.ResponseWriter, r *http.Request) {
	rep := s.svc.SanityCheck(r.Context())
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// decodeJSON reads and validates a JSON body into v. With optional set an
// empty body leaves v at its zero value. It writes the error response itself
// and reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	if optional && r.ContentLength == 0 {
		return true
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// size overruns are reported the same way to avoid leaking the limit
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func flusherOf(w http.ResponseWriter) func() {
	if f, ok := w.(http.Flusher); ok {
		return f.Flush
	}
	return func() {}
}
