package llm

import (
	"strings"
	"testing"
)

func TestNewClientUnknownProvider(t *testing.T) {
	client, err := NewClient("unknown", "key", "some-model")
	if err == nil {
		t.Fatalf("expected error for unknown provider, got nil")
	}
	if client != nil {
		t.Fatalf("expected nil client, got %#v", client)
	}
	if !strings.Contains(err.Error(), "unknown LLM provider") {
		t.Fatalf("unexpected error: %v", err)
	}
}
