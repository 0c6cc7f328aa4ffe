package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger of the HTTP layer; Nop until SetLogger.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// loggingLineWriter logs complete NDJSON lines at debug level.
type loggingLineWriter struct {
	log zerolog.Logger
	buf []byte
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		if idx > 0 {
			lw.log.Debug().Str("event", "stream_line").RawJSON("line", lw.buf[:idx]).Msg("stream>")
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel is read once from WANPROMPT_HTTP_LOG.
var defaultLogLevel = parseLevel(os.Getenv("WANPROMPT_HTTP_LOG"))

// SetDefaultLogLevel overrides the level used when a request carries none.
func SetDefaultLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// requestLog logs the start and end of a streaming request at the level the
// request asks for.
type requestLog struct {
	lvl   LogLevel
	name  string
	rid   string
	start time.Time
}

func newRequestLog(r *http.Request, name string) *requestLog {
	return &requestLog{lvl: requestLogLevel(r), name: name, rid: middleware.GetReqID(r.Context()), start: time.Now()}
}

func (l *requestLog) begin(fields map[string]any) {
	if l.lvl < LevelInfo {
		return
	}
	zlog.Info().Str("event", l.name+"_start").Str("request_id", l.rid).Fields(fields).Msg(l.name + " start")
}

func (l *requestLog) end(status int, err error) {
	switch {
	case err != nil && l.lvl >= LevelError:
		zlog.Warn().Str("event", l.name+"_end").Str("request_id", l.rid).Int("status", status).Dur("dur", time.Since(l.start)).Err(err).Msg(l.name + " end")
	case err == nil && l.lvl >= LevelInfo:
		zlog.Info().Str("event", l.name+"_end").Str("request_id", l.rid).Int("status", status).Dur("dur", time.Since(l.start)).Msg(l.name + " end")
	}
}

// tee mirrors stream lines to the debug log when the request asks for it.
func (l *requestLog) tee(w io.Writer) io.Writer {
	if l.lvl >= LevelDebug {
		return io.MultiWriter(w, &loggingLineWriter{log: zlog.With().Str("request_id", l.rid).Logger()})
	}
	return w
}
