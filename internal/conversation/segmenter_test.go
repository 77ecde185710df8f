package conversation

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/kioku-ai/kioku/internal/storage/sqlite"
	"github.com/kioku-ai/kioku/pkg/types"
)

func newTestController(t *testing.T, cfg Config) (*Controller, *sqlite.Store, *types.Session) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "conversation_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	c, err := New(store, cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	session, err := store.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return c, store, session
}

func appendExchange(t *testing.T, store *sqlite.Store, sessionID, userText string) int64 {
	t.Helper()
	ctx := context.Background()
	user := &types.ConversationTurn{SessionID: sessionID, Role: types.RoleUser, Content: userText}
	if err := store.AppendTurn(ctx, user); err != nil {
		t.Fatalf("append user turn: %v", err)
	}
	assistant := &types.ConversationTurn{SessionID: sessionID, Role: types.RoleAssistant, Content: "reply"}
	if err := store.AppendTurn(ctx, assistant); err != nil {
		t.Fatalf("append assistant turn: %v", err)
	}
	return assistant.ID
}

func TestCommitTriggerAdvancesWindow(t *testing.T) {
	c, store, session := newTestController(t, Config{})
	ctx := context.Background()

	lastID := appendExchange(t, store, session.ID, "I live in Osaka")

	trigger, err := c.Evaluate(ctx, session.ID, "I live in Osaka", lastID, true)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if trigger != TriggerCommit {
		t.Errorf("trigger = %q, want commit", trigger)
	}

	start, err := store.GetWindowStart(ctx, session.ID)
	if err != nil {
		t.Fatalf("window start: %v", err)
	}
	if start != lastID+1 {
		t.Errorf("window start = %d, want %d", start, lastID+1)
	}

	window, err := c.WindowTurns(ctx, session.ID)
	if err != nil {
		t.Fatalf("window turns: %v", err)
	}
	if len(window) != 0 {
		t.Errorf("window should be empty after boundary, has %d turns", len(window))
	}
}

func TestNoTriggerLeavesWindowAlone(t *testing.T) {
	c, store, session := newTestController(t, Config{})
	ctx := context.Background()

	lastID := appendExchange(t, store, session.ID, "nice weather today")

	trigger, err := c.Evaluate(ctx, session.ID, "nice weather today", lastID, false)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if trigger != TriggerNone {
		t.Errorf("trigger = %q, want none", trigger)
	}

	window, err := c.WindowTurns(ctx, session.ID)
	if err != nil {
		t.Fatalf("window turns: %v", err)
	}
	if len(window) != 2 {
		t.Errorf("window has %d turns, want 2", len(window))
	}
}

func TestExplicitTopicShiftTrigger(t *testing.T) {
	c, store, session := newTestController(t, Config{})
	ctx := context.Background()

	userText := "Let's talk about my vacation plans"
	lastID := appendExchange(t, store, session.ID, userText)

	trigger, err := c.Evaluate(ctx, session.ID, userText, lastID, false)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if trigger != TriggerExplicit {
		t.Errorf("trigger = %q, want explicit", trigger)
	}
}

func TestThresholdTrigger(t *testing.T) {
	c, store, session := newTestController(t, Config{MaxWindowTurns: 4})
	ctx := context.Background()

	var lastID int64
	for i := 0; i < 3; i++ {
		lastID = appendExchange(t, store, session.ID, fmt.Sprintf("message %d", i))
	}

	// Six turns in the window exceeds the limit of four.
	trigger, err := c.Evaluate(ctx, session.ID, "message 2", lastID, false)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if trigger != TriggerThreshold {
		t.Errorf("trigger = %q, want threshold", trigger)
	}
}

func TestWindowPointerNeverMovesBackward(t *testing.T) {
	c, store, session := newTestController(t, Config{})
	ctx := context.Background()

	first := appendExchange(t, store, session.ID, "I live in Osaka")
	if _, err := c.Evaluate(ctx, session.ID, "I live in Osaka", first, true); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}

	second := appendExchange(t, store, session.ID, "I also like coffee")
	if _, err := c.Evaluate(ctx, session.ID, "I also like coffee", second, true); err != nil {
		t.Fatalf("second evaluate: %v", err)
	}

	start, err := store.GetWindowStart(ctx, session.ID)
	if err != nil {
		t.Fatalf("window start: %v", err)
	}
	if start != second+1 {
		t.Errorf("window start = %d, want %d", start, second+1)
	}
}

func TestPointerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "persist_test.db")
	ctx := context.Background()

	store, err := sqlite.New(dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	c, err := New(store, Config{})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	session, err := store.OpenSession(ctx)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	lastID := appendExchange(t, store, session.ID, "I live in Osaka")
	if _, err := c.Evaluate(ctx, session.ID, "I live in Osaka", lastID, true); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := sqlite.New(dsn)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	start, err := reopened.GetWindowStart(ctx, session.ID)
	if err != nil {
		t.Fatalf("window start after reopen: %v", err)
	}
	if start != lastID+1 {
		t.Errorf("window start = %d after reopen, want %d", start, lastID+1)
	}
}
