package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
)

// process is a spawned runtime serving the OpenAI API on baseURL.
type process struct {
	cmd     *exec.Cmd
	baseURL string
	pid     int
	stderr  *tailBuffer
	done    chan struct{}
	waitErr error
	log     zerolog.Logger
}

// tailBuffer keeps the last bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	_, p, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

// startProcess spawns bin and waits until /v1/models answers. The args
// callback receives the chosen host and port.
func startProcess(ctx context.Context, presetID, bin string, args func(host string, port int) []string, opts Options) (*process, error) {
	if _, err := exec.LookPath(bin); err != nil {
		return nil, errs.Unsupported("load", presetID, fmt.Sprintf("runtime %q not found: %v", bin, err))
	}
	port, err := pickFreePort(opts.Host)
	if err != nil {
		return nil, errs.Transient("load", presetID, fmt.Errorf("pick port: %w", err))
	}
	baseURL := "http://" + net.JoinHostPort(opts.Host, strconv.Itoa(port))

	cmd := exec.Command(bin, args(opts.Host, port)...)
	tail := &tailBuffer{max: 4096}
	cmd.Stderr = tail
	cmd.Stdout = tail
	if err := cmd.Start(); err != nil {
		return nil, errs.Transient("load", presetID, fmt.Errorf("start %s: %w", bin, err))
	}
	p := &process{cmd: cmd, baseURL: baseURL, pid: cmd.Process.Pid, stderr: tail, done: make(chan struct{}), log: opts.Logger}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	p.log.Info().Str("event", "spawn_start").Str("preset", presetID).Int("pid", p.pid).Str("url", baseURL).
		Strs("args", cmd.Args[1:]).Msg("runtime started")

	if err := p.waitReady(ctx, presetID, opts); err != nil {
		p.kill()
		return nil, err
	}
	p.log.Info().Str("event", "spawn_ready").Str("preset", presetID).Int("pid", p.pid).Msg("runtime ready")
	return p, nil
}

func (p *process) waitReady(ctx context.Context, presetID string, opts Options) error {
	deadline := time.NewTimer(opts.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if healthy(ctx, opts.HTTPClient, p.baseURL) {
			return nil
		}
		select {
		case <-p.done:
			p.log.Warn().Str("event", "spawn_exit").Str("preset", presetID).Int("pid", p.pid).AnErr("exit", p.waitErr).Msg("runtime exited before ready")
			return exitError(presetID, p.waitErr, p.stderr.String())
		case <-ctx.Done():
			return errs.New(errs.KindCancelled, "load", presetID, ctx.Err())
		case <-deadline.C:
			p.log.Warn().Str("event", "spawn_timeout").Str("preset", presetID).Int("pid", p.pid).Msg("runtime not ready in time")
			return errs.Transient("load", presetID, fmt.Errorf("runtime not ready after %s: %s", opts.ReadyTimeout, p.baseURL))
		case <-tick.C:
		}
	}
}

// exitError classifies an early exit by the runtime's last output.
func exitError(presetID string, waitErr error, tail string) error {
	cause := fmt.Errorf("runtime exited before ready: %v; output tail: %s", waitErr, strings.TrimSpace(tail))
	low := strings.ToLower(tail)
	switch {
	case strings.Contains(low, "out of memory") || strings.Contains(low, "failed to allocate"):
		return errs.Exhausted("load", presetID, "memory reported by runtime", cause)
	case strings.Contains(low, "failed to load model") || strings.Contains(low, "invalid magic") ||
		strings.Contains(low, "safetensor") && strings.Contains(low, "error"):
		return errs.Integrity("load", presetID, cause)
	default:
		return errs.Transient("load", presetID, cause)
	}
}

func healthy(ctx context.Context, c *http.Client, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := c.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// servedModel returns the first model id the runtime lists, or "".
func servedModel(ctx context.Context, c *http.Client, baseURL string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return ""
	}
	resp, err := c.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if json.NewDecoder(resp.Body).Decode(&list) != nil || len(list.Data) == 0 {
		return ""
	}
	return list.Data[0].ID
}

// stop sends SIGTERM, then kills after grace. It returns once the process has
// exited or ctx is done.
func (p *process) stop(ctx context.Context, grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.log.Debug().Err(err).Int("pid", p.pid).Msg("sigterm failed")
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.done:
	case <-t.C:
		p.log.Warn().Str("event", "spawn_kill").Int("pid", p.pid).Dur("grace", grace).Msg("runtime ignored SIGTERM, killing")
		p.kill()
	case <-ctx.Done():
		p.kill()
		return ctx.Err()
	}
	p.log.Info().Str("event", "spawn_stop").Int("pid", p.pid).Msg("runtime stopped")
	return nil
}

func (p *process) kill() {
	_ = p.cmd.Process.Kill()
	<-p.done
}
