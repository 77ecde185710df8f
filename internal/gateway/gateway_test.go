package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/kioku-ai/kioku/internal/locks"
	"github.com/kioku-ai/kioku/internal/ranker"
	"github.com/kioku-ai/kioku/internal/storage/sqlite"
	"github.com/kioku-ai/kioku/pkg/types"
)

func newTestGateway(t *testing.T) (*Gateway, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "gateway_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	r, err := ranker.New(store, nil, ranker.Config{})
	if err != nil {
		t.Fatalf("new ranker: %v", err)
	}
	return New(store, r), store
}

func invoke(t *testing.T, g *Gateway, name, params string) *Result {
	t.Helper()
	return g.Invoke(context.Background(), Invocation{Name: name, Params: json.RawMessage(params)})
}

func TestUnknownToolName(t *testing.T) {
	g, _ := newTestGateway(t)

	res := invoke(t, g, "memory_delete", `{}`)
	if res.OK {
		t.Fatal("unknown tool must not succeed")
	}
	if res.Error == nil || res.Error.Code != CodeToolNotFound {
		t.Errorf("expected %s, got %+v", CodeToolNotFound, res.Error)
	}
}

func TestMalformedParams(t *testing.T) {
	g, _ := newTestGateway(t)

	res := invoke(t, g, "memory_search", `{"query": 42}`)
	if res.OK {
		t.Fatal("malformed params must not succeed")
	}
	if res.Error.Code != CodeValidationError {
		t.Errorf("expected %s, got %s", CodeValidationError, res.Error.Code)
	}
}

func TestMemorySearchExplicitZeroLimit(t *testing.T) {
	g, _ := newTestGateway(t)

	res := invoke(t, g, "memory_search", `{"query": "coffee", "limit": 0}`)
	if res.OK {
		t.Fatal("zero limit must not succeed")
	}
	if res.Error.Code != CodeConstraintViolation {
		t.Errorf("expected %s, got %s", CodeConstraintViolation, res.Error.Code)
	}
}

func TestMemoryStoreAndSearchRoundTrip(t *testing.T) {
	g, _ := newTestGateway(t)

	res := invoke(t, g, "memory_store", `{"content": "user lives in Osaka", "category": "fact", "importance": 0.8}`)
	if !res.OK {
		t.Fatalf("store failed: %+v", res.Error)
	}

	res = invoke(t, g, "memory_search", `{"query": "where does the user live"}`)
	if !res.OK {
		t.Fatalf("search failed: %+v", res.Error)
	}
	results, ok := res.Data.([]*types.MemoryRecord)
	if !ok {
		t.Fatalf("unexpected data type %T", res.Data)
	}
	if len(results) == 0 || results[0].Content != "user lives in Osaka" {
		t.Errorf("stored memory not the top search hit: %+v", results)
	}
}

func TestMemoryStoreIdempotent(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()

	first := invoke(t, g, "memory_store", `{"content": "user likes coffee", "category": "preference", "importance": 0.4}`)
	if !first.OK {
		t.Fatalf("first store failed: %+v", first.Error)
	}

	second := invoke(t, g, "memory_store", `{"content": "user likes coffee", "category": "preference", "importance": 0.7}`)
	if !second.OK {
		t.Fatalf("second store failed: %+v", second.Error)
	}
	out := second.Data.(*memoryStoreResult)
	if !out.Merged {
		t.Error("identical content should merge, not insert")
	}
	if out.Memory.Importance != 0.7 {
		t.Errorf("merged importance = %.2f, want max 0.7", out.Memory.Importance)
	}

	n, err := store.CountMemories(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected a single record after merge, got %d", n)
	}
}

// touchingStore touches one record right after every listing, standing in
// for a reader that lands between the merge's read and its write.
type touchingStore struct {
	*sqlite.Store
	touchAfterList string
}

func (s *touchingStore) ListMemories(ctx context.Context, category types.Category, limit int) ([]*types.MemoryRecord, error) {
	out, err := s.Store.ListMemories(ctx, category, limit)
	if err == nil && s.touchAfterList != "" {
		if terr := s.Store.TouchMemory(ctx, s.touchAfterList); terr != nil {
			return nil, terr
		}
	}
	return out, nil
}

func TestMergeSurvivesInterleavedTouch(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "gateway_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	seed := &types.MemoryRecord{Content: "user likes coffee", Category: types.CategoryPreference, Importance: 0.4}
	if err := store.CreateMemory(ctx, seed); err != nil {
		t.Fatalf("create memory: %v", err)
	}

	wrapped := &touchingStore{Store: store, touchAfterList: seed.ID}
	r, err := ranker.New(wrapped, nil, ranker.Config{})
	if err != nil {
		t.Fatalf("new ranker: %v", err)
	}
	g := New(wrapped, r)

	res := invoke(t, g, "memory_store", `{"content": "user likes coffee", "category": "preference", "importance": 0.7}`)
	if !res.OK {
		t.Fatalf("store failed: %+v", res.Error)
	}
	if !res.Data.(*memoryStoreResult).Merged {
		t.Fatal("expected a merge")
	}

	got, err := store.GetMemory(ctx, seed.ID)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if got.AccessCount != 1 {
		t.Errorf("merge erased the concurrent touch: access_count = %d, want 1", got.AccessCount)
	}
	if got.Importance != 0.7 {
		t.Errorf("merged importance = %.2f, want 0.7", got.Importance)
	}
}

func TestMergeQueuesBehindRecordLock(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "gateway_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	seed := &types.MemoryRecord{Content: "user likes coffee", Category: types.CategoryPreference, Importance: 0.4}
	if err := store.CreateMemory(ctx, seed); err != nil {
		t.Fatalf("create memory: %v", err)
	}

	registry := locks.NewRegistry()
	r, err := ranker.New(store, registry, ranker.Config{})
	if err != nil {
		t.Fatalf("new ranker: %v", err)
	}
	g := New(store, r, WithLockRegistry(registry))

	release := registry.Acquire(locks.MemoryKey(seed.ID))

	done := make(chan *Result, 1)
	go func() {
		done <- g.Invoke(ctx, Invocation{
			Name:   "memory_store",
			Params: json.RawMessage(`{"content": "user likes coffee", "category": "preference", "importance": 0.7}`),
		})
	}()

	select {
	case <-done:
		t.Fatal("merge completed while the record lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case res := <-done:
		if !res.OK || !res.Data.(*memoryStoreResult).Merged {
			t.Fatalf("merge after release failed: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("merge never completed after the lock was released")
	}
}

func TestMemorySearchWithoutSharedTerms(t *testing.T) {
	g, _ := newTestGateway(t)

	res := invoke(t, g, "memory_store", `{"content": "works as a teacher in Osaka", "category": "fact", "importance": 0.8}`)
	if !res.OK {
		t.Fatalf("store failed: %+v", res.Error)
	}

	res = invoke(t, g, "memory_search", `{"query": "job"}`)
	if !res.OK {
		t.Fatalf("search failed: %+v", res.Error)
	}
	results := res.Data.([]*types.MemoryRecord)
	if len(results) != 1 || results[0].Content != "works as a teacher in Osaka" {
		t.Errorf("expected the stored memory despite no shared terms, got %+v", results)
	}
}

func TestUnknownParamFieldRejected(t *testing.T) {
	g, _ := newTestGateway(t)

	res := invoke(t, g, "memory_search", `{"query": "coffee", "fuzzy": true}`)
	if res.OK {
		t.Fatal("unknown parameter field must not succeed")
	}
	if res.Error.Code != CodeValidationError {
		t.Errorf("expected %s, got %s", CodeValidationError, res.Error.Code)
	}
}

func TestMemoryStoreRejectsBadImportance(t *testing.T) {
	g, store := newTestGateway(t)

	res := invoke(t, g, "memory_store", `{"content": "x", "category": "fact", "importance": 1.5}`)
	if res.OK {
		t.Fatal("out-of-range importance must not succeed")
	}
	if res.Error.Code != CodeConstraintViolation {
		t.Errorf("expected %s, got %s", CodeConstraintViolation, res.Error.Code)
	}

	n, err := store.CountMemories(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("rejected store wrote %d rows", n)
	}
}

func TestGoalUpdateMissingGoal(t *testing.T) {
	g, _ := newTestGateway(t)

	res := invoke(t, g, "goal_update", `{"goal_id": 999, "progress": 50}`)
	if res.OK {
		t.Fatal("updating a missing goal must not succeed")
	}
	if res.Error.Code != CodeNotFound {
		t.Errorf("expected %s, got %s", CodeNotFound, res.Error.Code)
	}
}

func TestGoalUpdateCompletionDefaultsProgress(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()

	goal := &types.Goal{Title: "read ten books", Priority: types.PriorityMedium, Status: types.GoalActive, Progress: 70}
	if err := store.CreateGoal(ctx, goal); err != nil {
		t.Fatalf("create goal: %v", err)
	}

	res := invoke(t, g, "goal_update", fmt.Sprintf(`{"goal_id": %d, "status": "completed"}`, goal.ID))
	if !res.OK {
		t.Fatalf("update failed: %+v", res.Error)
	}
	updated := res.Data.(*types.Goal)
	if updated.Status != types.GoalCompleted || updated.Progress != 100 {
		t.Errorf("completion should set progress 100, got %+v", updated)
	}
}

func TestGoalListStatusFilter(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()

	for _, goal := range []*types.Goal{
		{Title: "active one", Status: types.GoalActive},
		{Title: "done one", Status: types.GoalCompleted, Progress: 100},
	} {
		if err := store.CreateGoal(ctx, goal); err != nil {
			t.Fatalf("create goal: %v", err)
		}
	}

	res := invoke(t, g, "goal_list", `{"status": "active"}`)
	if !res.OK {
		t.Fatalf("list failed: %+v", res.Error)
	}
	goals := res.Data.([]*types.Goal)
	if len(goals) != 1 || goals[0].Title != "active one" {
		t.Errorf("status filter leaked: %+v", goals)
	}
}

func TestGoalListAllStatuses(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()

	for _, goal := range []*types.Goal{
		{Title: "active one", Status: types.GoalActive},
		{Title: "done one", Status: types.GoalCompleted, Progress: 100},
	} {
		if err := store.CreateGoal(ctx, goal); err != nil {
			t.Fatalf("create goal: %v", err)
		}
	}

	res := invoke(t, g, "goal_list", `{"status": "all"}`)
	if !res.OK {
		t.Fatalf("list failed: %+v", res.Error)
	}
	if goals := res.Data.([]*types.Goal); len(goals) != 2 {
		t.Errorf("status \"all\" should return every goal, got %+v", goals)
	}
}

func TestProfileGet(t *testing.T) {
	g, store := newTestGateway(t)
	ctx := context.Background()

	if err := store.UpsertProfileAttribute(ctx, "occupation", "teacher"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertProfileAttribute(ctx, "location", "Osaka"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	res := invoke(t, g, "profile_get", `{"keys": ["occupation"]}`)
	if !res.OK {
		t.Fatalf("profile_get failed: %+v", res.Error)
	}
	attrs := res.Data.([]*types.ProfileAttribute)
	if len(attrs) != 1 || attrs[0].Value != "teacher" {
		t.Errorf("unexpected attributes: %+v", attrs)
	}

	res = invoke(t, g, "profile_get", `{}`)
	if !res.OK {
		t.Fatalf("profile_get all failed: %+v", res.Error)
	}
	if len(res.Data.([]*types.ProfileAttribute)) != 2 {
		t.Error("expected all attributes without keys")
	}
}

func TestDefinitionsStableOrder(t *testing.T) {
	g, _ := newTestGateway(t)

	defs := g.Definitions()
	want := []string{"memory_search", "memory_store", "goal_list", "goal_update", "profile_get"}
	if len(defs) != len(want) {
		t.Fatalf("got %d definitions, want %d", len(defs), len(want))
	}
	for i, d := range defs {
		if d.Name != want[i] {
			t.Errorf("definition %d = %s, want %s", i, d.Name, want[i])
		}
		if d.InputSchema == nil {
			t.Errorf("%s has no input schema", d.Name)
		}
	}
}
