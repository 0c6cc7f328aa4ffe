package download

import (
	"context"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ysm446/sd-to-wan-prompt/internal/common/fsutil"
	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/internal/store"
)

// Request names what to fetch.
type Request struct {
	RepoID   string
	Revision string
	// Glob patterns matched against the file name and its base name.
	Include []string
	Exclude []string
}

// Progress reports aggregate transfer state.
type Progress struct {
	Completed  int64  `json:"completed"`
	Total      int64  `json:"total"`
	File       string `json:"file,omitempty"`
	FilesDone  int    `json:"files_done"`
	FilesTotal int    `json:"files_total"`
	Done       bool   `json:"done,omitempty"`
}

// Percent is Completed over Total, 0..100.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		if p.Done {
			return 100
		}
		return 0
	}
	return float64(p.Completed) * 100 / float64(p.Total)
}

// Config tunes retries, concurrency and progress cadence.
type Config struct {
	MaxRetries       int
	Parallelism      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	ProgressInterval time.Duration
}

// Downloader fetches repositories through a hub Client.
type Downloader struct {
	client *Client
	cfg    Config
	log    zerolog.Logger
}

// New applies defaults for unset Config fields.
func New(client *Client, cfg Config, log zerolog.Logger) *Downloader {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 100 * time.Millisecond
	}
	return &Downloader{client: client, cfg: cfg, log: log}
}

// Fetch downloads the selected files of a repository into dir. Files already
// complete are skipped; partial files resume when the hub honours ranges.
// It returns what was promised so the store can verify the result.
func (d *Downloader) Fetch(ctx context.Context, req Request, dir string, onProgress func(Progress)) ([]store.ExpectedFile, error) {
	if onProgress == nil {
		onProgress = func(Progress) {}
	}
	var remote []RemoteFile
	err := d.retry(ctx, "list "+req.RepoID, func() error {
		var err error
		remote, err = d.client.ListFiles(ctx, req.RepoID, req.Revision)
		return classify(err)
	})
	if err != nil {
		return nil, finalError(ctx, "list files", req.RepoID, err)
	}
	files := Select(remote, req.Include, req.Exclude)
	if len(files) == 0 {
		return nil, errs.Invalid("fetch", req.RepoID, "no repository files match the preset patterns")
	}

	t := &tracker{filesTotal: len(files), cb: onProgress, every: rate.Sometimes{Interval: d.cfg.ProgressInterval}}
	for _, f := range files {
		t.total += f.Size
	}
	d.log.Info().Str("event", "download_start").Str("repo", req.RepoID).Int("files", len(files)).
		Int64("bytes", t.total).Msg("fetching repository")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Parallelism)
	for _, f := range files {
		g.Go(func() error {
			if err := d.fetchFile(gctx, req, f, dir, t); err != nil {
				return finalError(ctx, "fetch", req.RepoID+"/"+f.Name, err)
			}
			t.fileDone()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	onProgress(Progress{Completed: t.total, Total: t.total, FilesDone: len(files), FilesTotal: len(files), Done: true})

	out := make([]store.ExpectedFile, len(files))
	for i, f := range files {
		out[i] = store.ExpectedFile{Name: f.Name, Size: f.Size, Digest: f.Digest}
	}
	return out, nil
}

func (d *Downloader) fetchFile(ctx context.Context, req Request, f RemoteFile, dir string, t *tracker) error {
	if !filepath.IsLocal(filepath.FromSlash(f.Name)) {
		return errs.Integrity("fetch", f.Name, errors.New("file name escapes the staging directory"))
	}
	final := filepath.Join(dir, filepath.FromSlash(f.Name))
	if fi, err := os.Stat(final); err == nil && fi.Size() > 0 && (f.Size == 0 || fi.Size() == f.Size) {
		t.add(fi.Size(), f.Name)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return diskError(f.Name, dir, err)
	}
	part := final + store.PartSuffix
	fileURL := d.client.FileURL(req.RepoID, req.Revision, f.Name)

	// bytes of this file already counted in the tracker
	var counted int64
	err := d.retry(ctx, f.Name, func() error {
		n, err := d.transfer(ctx, fileURL, part, f, t, counted)
		counted = n
		return err
	})
	if err != nil {
		return err
	}
	if f.Digest != "" {
		if err := verifyDigest(part, f); err != nil {
			_ = os.Remove(part)
			return errs.Integrity("verify", f.Name, err)
		}
	}
	if err := os.Rename(part, final); err != nil {
		return diskError(f.Name, dir, err)
	}
	return nil
}

// transfer performs one attempt. It returns how many bytes of the file are
// now on disk so the next attempt can keep progress consistent.
func (d *Downloader) transfer(ctx context.Context, fileURL, part string, f RemoteFile, t *tracker, counted int64) (int64, error) {
	var offset int64
	if fi, err := os.Stat(part); err == nil {
		offset = fi.Size()
	}
	if f.Size > 0 && offset > f.Size {
		_ = os.Remove(part)
		offset = 0
	}
	t.add(offset-counted, f.Name)
	if f.Size > 0 && offset == f.Size {
		return offset, nil
	}

	resp, err := d.client.openRange(ctx, fileURL, offset)
	if err != nil {
		return offset, classify(err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	switch resp.StatusCode {
	case http.StatusOK:
		if offset > 0 {
			d.log.Debug().Str("file", f.Name).Int64("offset", offset).Msg("range ignored, restarting file")
			t.add(-offset, f.Name)
			offset = 0
		}
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	case http.StatusPartialContent:
		start, ok := contentRangeStart(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			_ = os.Remove(part)
			t.add(-offset, f.Name)
			return 0, fmt.Errorf("unexpected Content-Range %q for offset %d", resp.Header.Get("Content-Range"), offset)
		}
	case http.StatusRequestedRangeNotSatisfiable:
		_ = os.Remove(part)
		t.add(-offset, f.Name)
		return 0, errors.New("range not satisfiable, restarting file")
	default:
		return offset, backoff.Permanent(accessError("fetch", f.Name, resp))
	}

	out, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return offset, backoff.Permanent(diskError(f.Name, filepath.Dir(part), err))
	}
	n, copyErr := io.Copy(out, &countingReader{r: resp.Body, t: t, name: f.Name})
	closeErr := out.Close()
	onDisk := offset + n
	if fsutil.IsNoSpace(copyErr) || fsutil.IsNoSpace(closeErr) {
		_ = os.Remove(part)
		t.add(-onDisk, f.Name)
		return 0, backoff.Permanent(errs.Exhausted("write", f.Name, "disk space at "+filepath.Dir(part), errors.Join(copyErr, closeErr)))
	}
	if copyErr != nil {
		if ctx.Err() != nil {
			return onDisk, backoff.Permanent(ctx.Err())
		}
		return onDisk, copyErr
	}
	if closeErr != nil {
		return onDisk, closeErr
	}
	if f.Size > 0 && onDisk != f.Size {
		return onDisk, fmt.Errorf("short transfer: %d of %d bytes", onDisk, f.Size)
	}
	return onDisk, nil
}

func (d *Downloader) retry(ctx context.Context, what string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.MaxRetries)), ctx)
	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		d.log.Warn().Err(err).Str("event", "download_retry").Str("target", what).Dur("wait", wait).Msg("transient failure, retrying")
	})
}

// classify marks errors that must not be retried.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *statusError
	if errors.As(err, &se) && se.retryable() {
		return err
	}
	if errs.KindOf(err) != "" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	return err
}

// finalError converts whatever survived the retries into a typed error.
func finalError(ctx context.Context, op, subject string, err error) error {
	if ctx.Err() != nil {
		return errs.New(errs.KindCancelled, op, subject, ctx.Err())
	}
	if errs.KindOf(err) != "" {
		return err
	}
	return errs.Transient(op, subject, err)
}

func diskError(name, dir string, err error) error {
	if fsutil.IsNoSpace(err) {
		return errs.Exhausted("write", name, "disk space at "+dir, err)
	}
	return err
}

func verifyDigest(p string, f RemoteFile) error {
	if err := f.Digest.Validate(); err != nil {
		return err
	}
	fh, err := os.Open(p)
	if err != nil {
		return err
	}
	defer fh.Close()
	v := f.Digest.Verifier()
	if _, err := io.Copy(v, fh); err != nil {
		return err
	}
	if !v.Verified() {
		return fmt.Errorf("digest mismatch, expected %s", f.Digest)
	}
	return nil
}

// contentRangeStart parses "bytes START-END/TOTAL".
func contentRangeStart(h string) (int64, bool) {
	h = strings.TrimSpace(h)
	if !strings.HasPrefix(h, "bytes ") {
		return 0, false
	}
	rng := strings.TrimPrefix(h, "bytes ")
	dash := strings.IndexByte(rng, '-')
	if dash <= 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(rng[:dash], 10, 64)
	return n, err == nil
}

// Select filters remote files by include and exclude globs. An empty include
// list selects everything.
func Select(files []RemoteFile, include, exclude []string) []RemoteFile {
	var out []RemoteFile
	for _, f := range files {
		if len(include) > 0 && !matchAny(include, f.Name) {
			continue
		}
		if matchAny(exclude, f.Name) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func matchAny(patterns []string, name string) bool {
	base := path.Base(name)
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}

type tracker struct {
	total      int64
	done       atomic.Int64
	filesDone  atomic.Int32
	filesTotal int
	every      rate.Sometimes
	cb         func(Progress)
}

func (t *tracker) add(n int64, file string) {
	if n == 0 {
		return
	}
	cur := t.done.Add(n)
	t.every.Do(func() {
		t.cb(Progress{Completed: cur, Total: t.total, File: file, FilesDone: int(t.filesDone.Load()), FilesTotal: t.filesTotal})
	})
}

func (t *tracker) fileDone() {
	t.filesDone.Add(1)
}

type countingReader struct {
	r    io.Reader
	t    *tracker
	name string
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.t.add(int64(n), c.name)
	}
	return n, err
}
