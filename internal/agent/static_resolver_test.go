package agent

import (
	"context"
	"testing"
)

func TestResolve_KnownAccountReturnsConfig(t *testing.T) {
	cfg := &Config{SystemPrompt: "You are a helpful agent.", Language: "en", Active: true}
	r := NewStaticResolver(map[string]*Config{"A": cfg}, nil)

	got, err := r.Resolve(context.Background(), "A", "+15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != cfg {
		t.Error("expected the configured persona to be returned")
	}
}

func TestResolve_UnknownAccountUsesFallback(t *testing.T) {
	fallback := &Config{SystemPrompt: "Default agent.", Language: "en"}
	r := NewStaticResolver(map[string]*Config{}, fallback)

	got, err := r.Resolve(context.Background(), "unknown", "+15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != fallback {
		t.Error("expected fallback config")
	}
}

func TestResolve_UnknownAccountNoFallbackErrors(t *testing.T) {
	r := NewStaticResolver(map[string]*Config{}, nil)

	_, err := r.Resolve(context.Background(), "unknown", "+15551234567")
	if err == nil {
		t.Error("expected an error for unresolvable account with no fallback")
	}
}
