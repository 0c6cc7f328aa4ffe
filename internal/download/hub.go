// Package download fetches model repositories from a Hugging Face compatible
// hub into a staging directory, resuming partial files and retrying
// transient failures.
package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
)

const (
	DefaultEndpoint  = "https://huggingface.co"
	DefaultUserAgent = "wanpromptd/1.0"
)

// RemoteFile is one file of a hub repository.
type RemoteFile struct {
	Name   string
	Size   int64
	Digest digest.Digest
}

type apiSibling struct {
	Filename string `json:"rfilename"`
	Size     int64  `json:"size"`
	LFS      *struct {
		SHA256 string `json:"sha256"`
		Size   int64  `json:"size"`
	} `json:"lfs,omitempty"`
}

type apiModelInfo struct {
	ID       string       `json:"id"`
	SHA      string       `json:"sha"`
	Siblings []apiSibling `json:"siblings"`
}

// statusError is an HTTP status the hub returned; 429 and 5xx are retryable.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("hub returned %d %s", e.code, http.StatusText(e.code))
	}
	return fmt.Sprintf("hub returned %d %s: %s", e.code, http.StatusText(e.code), e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// Client talks to the hub API. Requests pass through a circuit breaker that
// opens after repeated transient failures.
type Client struct {
	endpoint  string
	token     string
	userAgent string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	failures  uint32
	cooldown  time.Duration
	log       zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithToken(token string) ClientOption { return func(c *Client) { c.token = token } }

func WithEndpoint(u string) ClientOption {
	return func(c *Client) { c.endpoint = strings.TrimRight(u, "/") }
}

func WithUserAgent(ua string) ClientOption { return func(c *Client) { c.userAgent = ua } }

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }

func WithClientLogger(l zerolog.Logger) ClientOption { return func(c *Client) { c.log = l } }

// WithBreaker sets how many consecutive transient failures open the circuit
// and how long it stays open.
func WithBreaker(failures uint32, cooldown time.Duration) ClientOption {
	return func(c *Client) { c.failures, c.cooldown = failures, cooldown }
}

// NewClient builds a hub client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		endpoint:  DefaultEndpoint,
		userAgent: DefaultUserAgent,
		// no client timeout: transfers are long, every request carries a context
		http:     &http.Client{},
		failures: 5,
		cooldown: 30 * time.Second,
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "hub",
		MaxRequests: 1,
		Timeout:     c.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("event", "breaker_state").Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).Msg("hub circuit changed state")
		},
	})
	return c
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// do sends req through the breaker. Retryable statuses come back as
// *statusError with the body closed; other responses are returned as-is.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	c.setHeaders(req)
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(b))}
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errs.Transient("hub", c.endpoint, fmt.Errorf("circuit open: %w", err))
	}
	return resp, err
}

// accessError maps non-retryable statuses. The hub answers 404 for private
// repositories, so it is treated like a permission failure.
func accessError(op, subject string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errs.Permission(op, subject, fmt.Errorf("access denied (%d); check the hub token", resp.StatusCode))
	case http.StatusNotFound:
		return errs.Permission(op, subject, errors.New("repository or revision not found or not accessible"))
	default:
		return errs.Permission(op, subject, &statusError{code: resp.StatusCode})
	}
}

// ListFiles returns the files of repoID at revision.
func (c *Client) ListFiles(ctx context.Context, repoID, revision string) ([]RemoteFile, error) {
	if err := validateRepoID(repoID); err != nil {
		return nil, err
	}
	if revision == "" {
		revision = "main"
	}
	u := fmt.Sprintf("%s/api/models/%s/revision/%s?blobs=true", c.endpoint, repoID, url.PathEscape(revision))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, accessError("list files", repoID, resp)
	}
	var info apiModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode model info: %w", err)
	}
	files := make([]RemoteFile, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		if !filepath.IsLocal(filepath.FromSlash(s.Filename)) {
			return nil, errs.Integrity("list files", repoID, fmt.Errorf("unsafe file name %q", s.Filename))
		}
		f := RemoteFile{Name: s.Filename, Size: s.Size}
		if s.LFS != nil {
			if s.LFS.Size > 0 {
				f.Size = s.LFS.Size
			}
			if s.LFS.SHA256 != "" {
				f.Digest = digest.NewDigestFromEncoded(digest.SHA256, s.LFS.SHA256)
			}
		}
		files = append(files, f)
	}
	return files, nil
}

// FileURL is the download location of one repository file.
func (c *Client) FileURL(repoID, revision, name string) string {
	if revision == "" {
		revision = "main"
	}
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, repoID, url.PathEscape(revision), strings.Join(parts, "/"))
}

// openRange requests a file starting at offset.
func (c *Client) openRange(ctx context.Context, fileURL string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	return c.do(req)
}

func validateRepoID(repoID string) error {
	parts := strings.Split(repoID, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return errs.Invalid("list files", repoID, "repository id must be owner/name")
	}
	return nil
}
