package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestSetMaxBodyBytes(t *testing.T) {
	defer SetMaxBodyBytes(0)
	SetMaxBodyBytes(-1)
	if maxBodyBytes != defaultMaxBodyBytes {
		t.Fatalf("expected default, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(1234)
	if maxBodyBytes != 1234 {
		t.Fatalf("expected 1234, got %d", maxBodyBytes)
	}
}

func TestSetGenerateTimeout_NormalizesNegative(t *testing.T) {
	defer SetGenerateTimeout(0)
	SetGenerateTimeout(-time.Second)
	if generateTimeout != 0 {
		t.Fatalf("expected 0, got %s", generateTimeout)
	}
	SetGenerateTimeout(3 * time.Second)
	if generateTimeout != 3*time.Second {
		t.Fatalf("expected 3s, got %s", generateTimeout)
	}
}

func TestJoinContexts_CancelsWhenEitherDone(t *testing.T) {
	for _, first := range []bool{true, false} {
		a, ac := context.WithCancel(context.Background())
		b, bc := context.WithCancel(context.Background())
		j, cancelJ := joinContexts(a, b)
		if first {
			ac()
		} else {
			bc()
		}
		select {
		case <-j.Done():
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("joined context did not cancel (first=%v)", first)
		}
		cancelJ()
		ac()
		bc()
	}
}

func TestSetBaseContext_NilResetsToBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	SetBaseContext(ctx)
	cancel()
	if serverBaseCtx.Err() == nil {
		t.Fatalf("base context not installed")
	}
	//nolint:staticcheck // SA1012: nil exercises the fallback
	SetBaseContext(nil)
	if serverBaseCtx.Err() != nil {
		t.Fatalf("expected background after nil")
	}
}
