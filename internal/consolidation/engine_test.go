package consolidation

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/kioku-ai/kioku/internal/locks"
	"github.com/kioku-ai/kioku/internal/storage/sqlite"
	"github.com/kioku-ai/kioku/pkg/types"
)

type scriptedGenerator struct {
	response string
	err      error
	calls    int
}

func (s *scriptedGenerator) Complete(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.response, s.err
}

func (s *scriptedGenerator) GetModel() string { return "scripted" }

type recordingNotifier struct {
	fired []*types.Reminder
}

func (n *recordingNotifier) ReminderDue(r *types.Reminder) {
	n.fired = append(n.fired, r)
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "consolidation_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func closedSessionWithTurns(t *testing.T, store *sqlite.Store, contents ...string) *types.Session {
	t.Helper()
	ctx := context.Background()
	session, err := store.OpenSession(ctx)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	for _, c := range contents {
		turn := &types.ConversationTurn{SessionID: session.ID, Role: types.RoleUser, Content: c}
		if err := store.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}
	if err := store.CloseSession(ctx, session.ID); err != nil {
		t.Fatalf("close session: %v", err)
	}
	return session
}

func TestSummaryWrittenForClosedSession(t *testing.T) {
	store := newTestStore(t)
	gen := &scriptedGenerator{response: "The user talked about coffee preferences."}
	session := closedSessionWithTurns(t, store, "I love dark roast", "Actually any coffee works")

	e, err := New(store, gen, nil, nil, Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	report, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.SummariesWritten != 1 {
		t.Errorf("summaries = %d, want 1", report.SummariesWritten)
	}

	pending, err := store.ListClosedSessionsWithoutSummary(context.Background(), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d sessions still unsummarized", len(pending))
	}

	summarized, err := store.ListSummarizedSessions(context.Background(), 0)
	if err != nil {
		t.Fatalf("list summarized: %v", err)
	}
	if len(summarized) != 1 || summarized[0].ID != session.ID || *summarized[0].Summary != gen.response {
		t.Errorf("unexpected summarized sessions: %+v", summarized)
	}
}

func TestSummaryFailureDefersSession(t *testing.T) {
	store := newTestStore(t)
	gen := &scriptedGenerator{err: context.DeadlineExceeded}
	closedSessionWithTurns(t, store, "hello there")

	e, err := New(store, gen, nil, nil, Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	report, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.SummariesWritten != 0 || report.UnitsDeferred == 0 {
		t.Errorf("failed summary should defer, got %+v", report)
	}

	pending, err := store.ListClosedSessionsWithoutSummary(context.Background(), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("session should remain for the next pass, got %d", len(pending))
	}
}

func TestMergeKeepsHigherImportanceAndSumsAccessCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := &types.MemoryRecord{Content: "user likes coffee", Category: types.CategoryPreference, Importance: 0.7, AccessCount: 3}
	if err := store.CreateMemory(ctx, older); err != nil {
		t.Fatalf("create: %v", err)
	}
	newer := &types.MemoryRecord{Content: "the user likes coffee", Category: types.CategoryPreference, Importance: 0.4, AccessCount: 2}
	if err := store.CreateMemory(ctx, newer); err != nil {
		t.Fatalf("create: %v", err)
	}

	e, err := New(store, nil, nil, nil, Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	report, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.MemoriesMerged != 1 {
		t.Errorf("merged = %d, want 1", report.MemoriesMerged)
	}

	n, err := store.CountMemories(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected a single surviving record, got %d", n)
	}

	survivors, err := store.ListMemories(ctx, types.CategoryPreference, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := survivors[0]
	if got.Importance != 0.7 {
		t.Errorf("importance = %.2f, want higher value kept (0.7)", got.Importance)
	}
	if got.AccessCount != 5 {
		t.Errorf("access count = %d, want summed 5", got.AccessCount)
	}
}

func TestContainedContentMerges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, m := range []*types.MemoryRecord{
		{Content: "likes coffee", Category: types.CategoryPreference, Importance: 0.5},
		{Content: "likes coffee in the morning", Category: types.CategoryPreference, Importance: 0.6},
	} {
		if err := store.CreateMemory(ctx, m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	e, err := New(store, nil, nil, nil, Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	report, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.MemoriesMerged != 1 {
		t.Errorf("merged = %d, want 1", report.MemoriesMerged)
	}

	n, err := store.CountMemories(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("one content contained in the other should merge, got %d records", n)
	}
}

func TestDifferentCategoriesNeverMerge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, m := range []*types.MemoryRecord{
		{Content: "user likes coffee", Category: types.CategoryPreference, Importance: 0.5},
		{Content: "user likes coffee", Category: types.CategoryFact, Importance: 0.5},
	} {
		if err := store.CreateMemory(ctx, m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	e, err := New(store, nil, nil, nil, Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := e.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	n, err := store.CountMemories(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("cross-category merge happened: %d records", n)
	}
}

func TestDecayFadesUntouchedRecordsToFloor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	strong := &types.MemoryRecord{Content: "user works as a teacher", Category: types.CategoryFact, Importance: 0.8}
	weak := &types.MemoryRecord{Content: "user mentioned the rain once", Category: types.CategoryFact, Importance: 0.12}
	for _, m := range []*types.MemoryRecord{strong, weak} {
		if err := store.CreateMemory(ctx, m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	e, err := New(store, nil, nil, nil, Config{DecayFactor: 0.9, ImportanceFloor: 0.1})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	// Ten decay periods pass without any access.
	e.now = func() time.Time { return time.Now().Add(10 * 24 * time.Hour) }

	report, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.MemoriesDecayed != 2 {
		t.Errorf("decayed = %d, want 2", report.MemoriesDecayed)
	}

	gotStrong, err := store.GetMemory(ctx, strong.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := 0.8 * math.Pow(0.9, 10)
	if math.Abs(gotStrong.Importance-want) > 1e-6 {
		t.Errorf("importance = %.4f, want %.4f", gotStrong.Importance, want)
	}

	gotWeak, err := store.GetMemory(ctx, weak.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotWeak.Importance != 0.1 {
		t.Errorf("importance = %.4f, want clamped to floor 0.1", gotWeak.Importance)
	}
}

func TestFreshRecordsDoNotDecay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := &types.MemoryRecord{Content: "user lives in Osaka", Category: types.CategoryFact, Importance: 0.9}
	if err := store.CreateMemory(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	e, err := New(store, nil, nil, nil, Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := e.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := store.GetMemory(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Importance != 0.9 {
		t.Errorf("importance = %.2f, fresh record must not decay", got.Importance)
	}
}

func TestNoTurnArchivalWithoutSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := closedSessionWithTurns(t, store, "old message one", "old message two")

	e, err := New(store, nil, nil, nil, Config{Retention: 30 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	// Far enough ahead that every turn is past the retention window.
	e.now = func() time.Time { return time.Now().Add(40 * 24 * time.Hour) }

	report, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.TurnsArchived != 0 {
		t.Fatalf("archived %d turns from an unsummarized session", report.TurnsArchived)
	}

	// Once the summary exists the same pass parameters archive the turns.
	if err := store.SetSessionSummary(ctx, session.ID, "Two old messages."); err != nil {
		t.Fatalf("set summary: %v", err)
	}
	report, err = e.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.TurnsArchived != 2 {
		t.Errorf("archived = %d, want 2", report.TurnsArchived)
	}

	visible, err := store.ListTurns(ctx, session.ID, false)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(visible) != 0 {
		t.Errorf("%d turns still visible after archival", len(visible))
	}
	all, err := store.ListTurns(ctx, session.ID, true)
	if err != nil {
		t.Fatalf("list all turns: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("archival must not delete rows, got %d", len(all))
	}
}

func TestRecurringReminderFiredAndRescheduled(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	notifier := &recordingNotifier{}

	due := &types.Reminder{
		Content:    "water the plants",
		RemindAt:   time.Now().UTC().Add(-time.Hour),
		Recurrence: types.RecurrenceDaily,
	}
	oneShot := &types.Reminder{
		Content:  "call the dentist",
		RemindAt: time.Now().UTC().Add(-time.Hour),
	}
	for _, r := range []*types.Reminder{due, oneShot} {
		if err := store.CreateReminder(ctx, r); err != nil {
			t.Fatalf("create reminder: %v", err)
		}
	}

	e, err := New(store, nil, notifier, nil, Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	report, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.RemindersFired != 2 {
		t.Errorf("fired = %d, want 2", report.RemindersFired)
	}
	if len(notifier.fired) != 2 {
		t.Errorf("notifier received %d events, want 2", len(notifier.fired))
	}

	// Nothing is due right now: the recurring one moved a day ahead, the
	// one-shot was retired.
	dueNow, err := store.ListDueReminders(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(dueNow) != 0 {
		t.Errorf("%d reminders still due", len(dueNow))
	}

	dueTomorrow, err := store.ListDueReminders(ctx, time.Now().UTC().Add(25*time.Hour))
	if err != nil {
		t.Fatalf("list due tomorrow: %v", err)
	}
	if len(dueTomorrow) != 1 || dueTomorrow[0].Content != "water the plants" {
		t.Errorf("recurring reminder not rescheduled: %+v", dueTomorrow)
	}
}

func TestLockedSessionSkippedUntilReleased(t *testing.T) {
	store := newTestStore(t)
	gen := &scriptedGenerator{response: "Summary."}
	session := closedSessionWithTurns(t, store, "hello")

	registry := locks.NewRegistry()
	e, err := New(store, gen, nil, registry, Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	release := registry.Acquire(locks.SessionKey(session.ID))
	report, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.SummariesWritten != 0 {
		t.Error("locked session must be skipped")
	}
	release()

	report, err = e.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.SummariesWritten != 1 {
		t.Errorf("summaries = %d after release, want 1", report.SummariesWritten)
	}
}
