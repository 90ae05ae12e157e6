// ABOUTME: Tests for caller propagation through context
// ABOUTME: Verifies WithCaller/CallerFrom round trips and wrong-type values

package auth

import (
	"context"
	"testing"
)

func TestWithCaller_RoundTrip(t *testing.T) {
	ctx := WithCaller(context.Background(), &Caller{Subject: "console"})

	got := CallerFrom(ctx)
	if got == nil {
		t.Fatal("expected caller in context")
	}
	if got.Subject != "console" {
		t.Errorf("expected subject console, got %q", got.Subject)
	}
}

func TestCallerFrom_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), callerKey{}, "not a caller")
	if CallerFrom(ctx) != nil {
		t.Error("expected nil for wrong value type")
	}
}
