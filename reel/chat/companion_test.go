package chat

import (
	"context"
	"strings"
	"testing"

	"reelserver/provider"

	"go.uber.org/zap"
)

func TestCompanionKeepsHistory(t *testing.T) {
	c := NewCompanion(provider.MockLLM{}, zap.NewNop())

	reply, err := c.Say(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "hello") {
		t.Errorf("reply = %q, want echo of input", reply)
	}

	c.AddContext("Player stats: score=3, level=1.")

	c.mu.Lock()
	got := len(c.history)
	c.mu.Unlock()
	if got != 3 { // user + assistant + system
		t.Errorf("history length = %d, want 3", got)
	}
}

func TestCompanionReset(t *testing.T) {
	c := NewCompanion(provider.MockLLM{}, zap.NewNop())

	if _, err := c.Say(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Reset()

	c.mu.Lock()
	got := len(c.history)
	c.mu.Unlock()
	if got != 0 {
		t.Errorf("history length after reset = %d, want 0", got)
	}
}
