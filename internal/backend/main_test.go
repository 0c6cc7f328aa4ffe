package backend

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"
)

// fakeRuntimeEnv makes the test binary act as a runtime when re-executed.
const fakeRuntimeEnv = "WANPROMPT_FAKE_RUNTIME"

func TestMain(m *testing.M) {
	switch os.Getenv(fakeRuntimeEnv) {
	case "serve":
		fakeRuntime(os.Args[1:])
		os.Exit(0)
	case "oom":
		fmt.Fprintln(os.Stderr, "CUDA error: out of memory")
		os.Exit(1)
	case "hang":
		// ignores SIGTERM and never becomes ready
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// fakeRuntime serves the subset of the OpenAI API the adapters use, on the
// --host/--port it was given, until SIGTERM.
func fakeRuntime(args []string) {
	host, port := "127.0.0.1", "0"
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "--host":
			host = args[i+1]
		case "--port":
			port = args[i+1]
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"fake-vlm","object":"model"}]}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range []string{"Hello", ", world"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", f)
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	})
	srv := &http.Server{Addr: net.JoinHostPort(host, port), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
