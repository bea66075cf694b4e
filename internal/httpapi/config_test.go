package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestSetMaxBodyBytes(t *testing.T) {
	defer SetMaxBodyBytes(0)
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("expected default 1MiB, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(1234)
	if maxBodyBytes != 1234 {
		t.Fatalf("expected 1234, got %d", maxBodyBytes)
	}
}

func TestSetInferTimeout_NormalizesNegativeToZero(t *testing.T) {
	defer SetInferTimeout(0)
	SetInferTimeout(-5 * time.Second)
	if inferTimeout != 0 {
		t.Fatalf("expected 0, got %s", inferTimeout)
	}
	SetInferTimeout(3 * time.Second)
	if inferTimeout != 3*time.Second {
		t.Fatalf("expected 3s, got %s", inferTimeout)
	}
}

func TestSetCORSOptions_Defaults(t *testing.T) {
	defer SetCORSOptions(false, nil, nil, nil)
	SetCORSOptions(true, []string{"http://a"}, nil, nil)
	if !corsEnabled || len(corsAllowedMethods) == 0 || len(corsAllowedHeaders) == 0 {
		t.Fatalf("defaults not applied: methods=%v headers=%v", corsAllowedMethods, corsAllowedHeaders)
	}
}

func TestSetBaseContext_NilResetsToBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	SetBaseContext(ctx)
	cancel()
	SetBaseContext(nil) //nolint:staticcheck // nil selects Background
	if serverBaseCtx.Err() != nil {
		t.Fatalf("base context not reset")
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

func TestJoinContexts_CancelReleases(t *testing.T) {
	a := context.Background()
	b, bc := context.WithCancel(context.Background())
	defer bc()
	j, cancelJ := joinContexts(a, b)
	cancelJ()
	if j.Err() == nil {
		t.Fatalf("cancel func did not cancel joined context")
	}
}
