package session

import (
	"strings"
	"testing"

	"github.com/asheshgoplani/opsbridge/internal/stream"
)

func TestRegistryInsertAndGet(t *testing.T) {
	r := NewRegistry()
	s := &Session{ConversationID: "T1", ChannelID: "C1", Kind: KindChat}

	if !r.Insert(s) {
		t.Fatal("first insert should succeed")
	}
	if r.Insert(&Session{ConversationID: "T1"}) {
		t.Error("duplicate insert should fail")
	}
	if got := r.Get("T1"); got != s {
		t.Errorf("Get returned %v, want original session", got)
	}
	if r.Get("missing") != nil {
		t.Error("Get of unknown id should return nil")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	s := &Session{ConversationID: "T1"}
	r.Insert(s)

	if got := r.Remove("T1"); got != s {
		t.Errorf("Remove returned %v, want original session", got)
	}
	if r.Remove("T1") != nil {
		t.Error("second remove should return nil")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestSessionStateTransitions(t *testing.T) {
	s := &Session{ConversationID: "T1"}

	if !s.beginTurn() {
		t.Fatal("beginTurn on idle session should succeed")
	}
	if s.beginTurn() {
		t.Error("second beginTurn while processing should fail")
	}
	if _, busy := s.beginCompact(); !busy {
		t.Error("beginCompact while processing should report busy")
	}

	s.endTurn("tok-1")
	if s.token() != "tok-1" {
		t.Errorf("token = %q, want tok-1", s.token())
	}

	s.beginTurn()
	s.endTurn("")
	if s.token() != "tok-1" {
		t.Errorf("empty token overwrote stored one: %q", s.token())
	}

	token, busy := s.beginCompact()
	if busy || token != "tok-1" {
		t.Errorf("beginCompact = (%q, %v), want (tok-1, false)", token, busy)
	}
	s.endTurn("tok-2")
	if s.token() != "tok-2" {
		t.Errorf("token = %q, want tok-2", s.token())
	}
}

func TestBeginCompactWithoutToken(t *testing.T) {
	s := &Session{ConversationID: "T1"}
	token, busy := s.beginCompact()
	if busy || token != "" {
		t.Fatalf("beginCompact = (%q, %v), want empty and not busy", token, busy)
	}
	// No state change: a turn must still be admissible.
	if !s.beginTurn() {
		t.Error("session should still be idle after rejected compact")
	}
}

func TestFormatFooter(t *testing.T) {
	u := &stream.Usage{InputTokens: 40_000, CacheReadInputTokens: 10_000}
	got := formatFooter(u, 0.0142, 3)
	for _, want := range []string{"ctx 25.0%", "$0.0142", "3 turns"} {
		if !strings.Contains(got, want) {
			t.Errorf("footer %q missing %q", got, want)
		}
	}

	if got := formatFooter(nil, 0, 1); !strings.Contains(got, "1 turn") || strings.Contains(got, "turns") {
		t.Errorf("singular turn formatting wrong: %q", got)
	}
	if got := formatFooter(nil, 0, 0); got != "" {
		t.Errorf("empty usage should yield empty footer, got %q", got)
	}
}

func TestSplitResponseShortPassthrough(t *testing.T) {
	parts := splitResponse("short", 100)
	if len(parts) != 1 || parts[0] != "short" {
		t.Fatalf("parts = %v", parts)
	}
}

func TestSplitResponseParagraphBoundary(t *testing.T) {
	text := strings.Repeat("a", 50) + "\n\n" + strings.Repeat("b", 50) + "\n\n" + strings.Repeat("c", 50)
	parts := splitResponse(text, 80)
	if len(parts) != 3 {
		t.Fatalf("len(parts) = %d, want 3: %q", len(parts), parts)
	}
	for i, p := range parts {
		if len(p) > 80 {
			t.Errorf("part %d exceeds limit: %d bytes", i, len(p))
		}
		if strings.HasPrefix(p, "\n") || strings.HasSuffix(p, "\n") {
			t.Errorf("part %d carries boundary newlines: %q", i, p)
		}
	}
}

func TestSplitResponseHardCut(t *testing.T) {
	text := strings.Repeat("x", 250)
	parts := splitResponse(text, 100)
	if len(parts) != 3 {
		t.Fatalf("len(parts) = %d, want 3", len(parts))
	}
	total := 0
	for _, p := range parts {
		if len(p) > 100 {
			t.Errorf("part exceeds limit: %d bytes", len(p))
		}
		total += len(p)
	}
	if total != 250 {
		t.Errorf("total bytes = %d, want 250", total)
	}
}
