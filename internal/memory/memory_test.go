package memory

import (
	"strings"
	"testing"
	"time"
)

func TestStore_AddAndRecall(t *testing.T) {
	store := NewStore(20, time.Hour)

	store.AddUserMessage("s1", "first question")
	store.AddAssistantMessage("s1", "first answer")
	store.AddUserMessage("s2", "other session")

	history := store.RecentHistory("s1", 10)
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("unexpected roles: %s, %s", history[0].Role, history[1].Role)
	}
}

func TestStore_TrimsToMaxMessages(t *testing.T) {
	store := NewStore(4, time.Hour)

	for i := 0; i < 10; i++ {
		store.AddUserMessage("s1", "message")
	}

	if got := len(store.RecentHistory("s1", 100)); got != 4 {
		t.Errorf("expected 4 retained messages, got %d", got)
	}
}

func TestStore_RecentHistoryWindow(t *testing.T) {
	store := NewStore(20, time.Hour)

	store.AddUserMessage("s1", "old")
	store.AddAssistantMessage("s1", "older answer")
	store.AddUserMessage("s1", "newest")

	history := store.RecentHistory("s1", 1)
	if len(history) != 1 || history[0].Content != "newest" {
		t.Errorf("expected only the newest message, got %v", history)
	}
}

func TestStore_UnknownSession(t *testing.T) {
	store := DefaultStore()
	if got := store.RecentHistory("nope", 10); got != nil {
		t.Errorf("expected nil for unknown session, got %v", got)
	}
}

func TestStore_ClearSession(t *testing.T) {
	store := DefaultStore()
	store.AddUserMessage("s1", "hello")
	store.ClearSession("s1")

	if got := store.RecentHistory("s1", 10); got != nil {
		t.Errorf("expected nil after clear, got %v", got)
	}
}

func TestFormatForPrompt(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}

	got := FormatForPrompt(messages)
	if !strings.Contains(got, "User: hi\n") || !strings.Contains(got, "Assistant: hello\n") {
		t.Errorf("unexpected format: %q", got)
	}

	if FormatForPrompt(nil) != "" {
		t.Error("expected empty string for empty history")
	}
}
