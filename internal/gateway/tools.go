package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/kioku-ai/kioku/internal/similarity"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/pkg/types"
)

type memorySearchParams struct {
	Query    string  `json:"query"`
	Category *string `json:"category,omitempty"`
	Limit    *int    `json:"limit,omitempty"`
}

type memoryStoreParams struct {
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	Importance *float64 `json:"importance,omitempty"`
}

type goalListParams struct {
	Status *string `json:"status,omitempty"`
}

type goalUpdateParams struct {
	GoalID   *int64  `json:"goal_id"`
	Progress *int    `json:"progress,omitempty"`
	Status   *string `json:"status,omitempty"`
}

type profileGetParams struct {
	Keys []string `json:"keys,omitempty"`
}

// memoryStoreResult reports whether the content merged into an existing
// record instead of creating one.
type memoryStoreResult struct {
	Memory *types.MemoryRecord `json:"memory"`
	Merged bool                `json:"merged"`
}

func (g *Gateway) registerTools() {
	g.tools = map[string]tool{
		"memory_search": {
			definition: Definition{
				Name:        "memory_search",
				Description: "Search long-term memories about the user by free-text query. Results are ranked by relevance, importance and recency.",
				InputSchema: objectSchema(map[string]interface{}{
					"query":    stringProperty("Free-text search query."),
					"category": stringEnumProperty("Restrict results to one category.", "fact", "preference", "personality", "skill", "goal"),
					"limit":    integerProperty("Maximum number of results (default 5)."),
				}, "query"),
			},
			handle: g.handleMemorySearch,
		},
		"memory_store": {
			definition: Definition{
				Name:        "memory_store",
				Description: "Store a new long-term memory about the user. Near-duplicate content in the same category merges into the existing memory.",
				InputSchema: objectSchema(map[string]interface{}{
					"content":    stringProperty("A short standalone statement about the user."),
					"category":   stringEnumProperty("Memory category.", "fact", "preference", "personality", "skill", "goal"),
					"importance": numberProperty("Salience between 0.0 and 1.0 (default 0.5)."),
				}, "content", "category"),
			},
			handle: g.handleMemoryStore,
		},
		"goal_list": {
			definition: Definition{
				Name:        "goal_list",
				Description: "List the user's goals, optionally filtered by status.",
				InputSchema: objectSchema(map[string]interface{}{
					"status": stringEnumProperty("Filter by goal status; \"all\" disables the filter.", "active", "completed", "archived", "all"),
				}),
			},
			handle: g.handleGoalList,
		},
		"goal_update": {
			definition: Definition{
				Name:        "goal_update",
				Description: "Update the progress or status of an existing goal.",
				InputSchema: objectSchema(map[string]interface{}{
					"goal_id":  integerProperty("Identifier of the goal to update."),
					"progress": integerProperty("Percent complete, 0 to 100."),
					"status":   stringEnumProperty("New goal status.", "active", "completed", "archived"),
				}, "goal_id"),
			},
			handle: g.handleGoalUpdate,
		},
		"profile_get": {
			definition: Definition{
				Name:        "profile_get",
				Description: "Read the user's profile attributes. Without keys, returns all attributes.",
				InputSchema: objectSchema(map[string]interface{}{
					"keys": stringArrayProperty("Attribute keys to fetch; omit for all."),
				}),
			},
			handle: g.handleProfileGet,
		},
	}
}

// decodeParams rejects malformed JSON and unknown fields as validation
// errors rather than store errors.
func decodeParams(raw []byte, dest interface{}) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", types.ErrToolValidation, err)
	}
	return nil
}

func (g *Gateway) handleMemorySearch(ctx context.Context, raw []byte) (interface{}, error) {
	var p memorySearchParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Query == "" {
		return nil, fmt.Errorf("%w: query is required", types.ErrToolValidation)
	}

	category := types.Category("")
	if p.Category != nil {
		category = types.Category(*p.Category)
		if !types.ValidCategory(category) {
			return nil, fmt.Errorf("%w: unknown category %q", types.ErrToolValidation, *p.Category)
		}
	}

	// An absent limit means the default; an explicit non-positive limit is
	// the caller's mistake and surfaces as a constraint violation.
	limit := storage.DefaultSearchLimit
	if p.Limit != nil {
		limit = *p.Limit
	}

	return g.ranker.Search(ctx, p.Query, category, limit)
}

func (g *Gateway) handleMemoryStore(ctx context.Context, raw []byte) (interface{}, error) {
	var p memoryStoreParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Content == "" {
		return nil, fmt.Errorf("%w: content is required", types.ErrToolValidation)
	}

	importance := 0.5
	if p.Importance != nil {
		importance = *p.Importance
	}

	record := &types.MemoryRecord{
		Content:    p.Content,
		Category:   types.Category(p.Category),
		Importance: importance,
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	// Dedupe against existing same-category memories before inserting.
	existing, err := g.store.ListMemories(ctx, record.Category, 0)
	if err != nil {
		return nil, err
	}
	for _, m := range existing {
		if !similarity.Similar(m.Content, record.Content, g.dedupeThreshold) {
			continue
		}
		// The listing snapshot may predate a concurrent touch or decay;
		// re-read under the record lock before writing.
		release := g.lockRecord(m.ID)
		fresh, err := g.store.GetMemory(ctx, m.ID)
		if err != nil {
			release()
			return nil, err
		}
		if record.Importance > fresh.Importance {
			fresh.Importance = record.Importance
		}
		err = g.store.UpdateMemory(ctx, fresh)
		release()
		if err != nil {
			return nil, err
		}
		return &memoryStoreResult{Memory: fresh, Merged: true}, nil
	}

	if err := g.store.CreateMemory(ctx, record); err != nil {
		return nil, err
	}
	return &memoryStoreResult{Memory: record, Merged: false}, nil
}

func (g *Gateway) handleGoalList(ctx context.Context, raw []byte) (interface{}, error) {
	var p goalListParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	// "all" and an absent status both mean no filter.
	status := types.GoalStatus("")
	if p.Status != nil && *p.Status != "all" {
		parsed, err := types.ParseGoalStatus(*p.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown status %q", types.ErrToolValidation, *p.Status)
		}
		status = parsed
	}

	goals, err := g.store.ListGoals(ctx, status)
	if err != nil {
		return nil, err
	}
	if goals == nil {
		goals = []*types.Goal{}
	}
	return goals, nil
}

func (g *Gateway) handleGoalUpdate(ctx context.Context, raw []byte) (interface{}, error) {
	var p goalUpdateParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.GoalID == nil {
		return nil, fmt.Errorf("%w: goal_id is required", types.ErrToolValidation)
	}
	if p.Progress == nil && p.Status == nil {
		return nil, fmt.Errorf("%w: nothing to update", types.ErrToolValidation)
	}

	goal, err := g.store.GetGoal(ctx, *p.GoalID)
	if err != nil {
		return nil, err
	}

	if p.Progress != nil {
		goal.Progress = *p.Progress
	}
	if p.Status != nil {
		parsed, err := types.ParseGoalStatus(*p.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown status %q", types.ErrToolValidation, *p.Status)
		}
		goal.Status = parsed
		// Completing a goal implies full progress unless stated otherwise.
		if parsed == types.GoalCompleted && p.Progress == nil {
			goal.Progress = 100
		}
	}

	if err := g.store.UpdateGoal(ctx, goal); err != nil {
		return nil, err
	}
	return goal, nil
}

func (g *Gateway) handleProfileGet(ctx context.Context, raw []byte) (interface{}, error) {
	var p profileGetParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	attrs, err := g.store.GetProfileAttributes(ctx, p.Keys)
	if err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = []*types.ProfileAttribute{}
	}
	return attrs, nil
}
