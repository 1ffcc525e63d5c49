package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_RedactsSecrets(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := Wrap(zap.New(core))

	log.Info("provider configured", "provider", "openai", "api_key", "sk-123", "Authorization", "Bearer x")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["provider"] != "openai" {
		t.Errorf("expected provider field to pass through, got %v", fields["provider"])
	}
	if fields["api_key"] != "[REDACTED]" {
		t.Errorf("expected api_key to be redacted, got %v", fields["api_key"])
	}
	if fields["Authorization"] != "[REDACTED]" {
		t.Errorf("expected Authorization to be redacted, got %v", fields["Authorization"])
	}
}

func TestLogger_EmptySecretStaysEmpty(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := Wrap(zap.New(core))

	log.Debug("no key", "api_key", "")

	if got := logs.All()[0].ContextMap()["api_key"]; got != "" {
		t.Errorf("expected empty api_key, got %v", got)
	}
}

func TestLogger_WithAndOddKVs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := Wrap(zap.New(core)).With("component", "resolver")

	log.Warn("odd", "key")

	// zap reports the dangling key as a separate entry
	entries := logs.FilterMessage("odd").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["component"] != "resolver" {
		t.Errorf("expected component field, got %v", entries[0].ContextMap())
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected non-nil logger")
	}
	l := NewNop()
	if OrNop(l) != l {
		t.Error("expected same logger back")
	}
}
