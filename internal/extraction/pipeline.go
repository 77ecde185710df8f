// Package extraction turns completed conversation exchanges into durable
// memories. It runs after the user-visible response is sent; nothing here
// may block or fail the conversation, so every error ends in a logged
// discard instead of propagating.
package extraction

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kioku-ai/kioku/internal/llm"
	"github.com/kioku-ai/kioku/internal/locks"
	"github.com/kioku-ai/kioku/internal/similarity"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/pkg/types"
)

// State tracks one exchange through the pipeline.
type State int

const (
	StatePending State = iota
	StatePromptBuilt
	StateInvoked
	StateParseAttempted
	StateCommitted
	StateDiscarded
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePromptBuilt:
		return "prompt_built"
	case StateInvoked:
		return "invoked"
	case StateParseAttempted:
		return "parse_attempted"
	case StateCommitted:
		return "committed"
	case StateDiscarded:
		return "discarded"
	}
	return "unknown"
}

// Outcome reports what one exchange produced. Err is informational; the
// pipeline never returns it to the caller.
type Outcome struct {
	State             State
	MemoriesCommitted int
	GoalsCommitted    int
	ProfileCommitted  int
	Err               error
}

// Committed reports whether the exchange produced at least one memory or
// goal. Profile updates alone do not count; the segmentation commit trigger
// keys off substantive memory writes.
func (o Outcome) Committed() bool {
	return o.State == StateCommitted && (o.MemoriesCommitted > 0 || o.GoalsCommitted > 0)
}

// Pipeline extracts memories from exchanges. Safe for sequential use per
// conversation; separate conversations may run pipelines concurrently.
type Pipeline struct {
	store     storage.Store
	gen       llm.TextGenerator
	embedder  llm.EmbeddingGenerator // nil disables embedding writes
	registry  *locks.Registry        // nil skips record locking
	threshold float64
}

// Config tunes the pipeline.
type Config struct {
	// SimilarityThreshold controls dedupe; zero means the shared default.
	SimilarityThreshold float64
}

// New creates a pipeline. embedder may be nil; registry may be nil when no
// consolidation runs in the process.
func New(store storage.Store, gen llm.TextGenerator, embedder llm.EmbeddingGenerator, registry *locks.Registry, cfg Config) *Pipeline {
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = similarity.DefaultThreshold
	}
	return &Pipeline{
		store:     store,
		gen:       gen,
		embedder:  embedder,
		registry:  registry,
		threshold: threshold,
	}
}

// ProcessExchange runs one completed (user, assistant) pair through the
// state machine. It always returns an Outcome; it never returns an error
// and never retries within a turn.
func (p *Pipeline) ProcessExchange(ctx context.Context, userMessage, assistantMessage string) Outcome {
	prompt := llm.BuildExtractionPrompt(userMessage, assistantMessage)
	state := StatePromptBuilt

	raw, err := p.gen.Complete(ctx, prompt)
	if err != nil {
		return p.discard(state, fmt.Errorf("completion failed: %w", err))
	}
	state = StateInvoked

	resp, err := llm.ParseExtractionResponse(raw)
	state = StateParseAttempted
	if err != nil {
		return p.discard(state, err)
	}

	// Validate the whole response before touching the store: a single bad
	// entry discards the exchange with zero mutations.
	candidates, err := p.validate(resp)
	if err != nil {
		return p.discard(state, err)
	}

	outcome := Outcome{State: StateCommitted}
	for _, m := range candidates.memories {
		if p.commitMemory(ctx, m) {
			outcome.MemoriesCommitted++
		}
	}
	for _, g := range candidates.goals {
		if p.commitGoal(ctx, g) {
			outcome.GoalsCommitted++
		}
	}
	for _, attr := range candidates.profile {
		if err := p.store.UpsertProfileAttribute(ctx, attr.Key, attr.Value); err != nil {
			log.Printf("extraction: profile upsert %q failed: %v", attr.Key, err)
			continue
		}
		outcome.ProfileCommitted++
	}
	return outcome
}

type validated struct {
	memories []*types.MemoryRecord
	goals    []*types.Goal
	profile  []llm.ProfileEntry
}

func (p *Pipeline) validate(resp *llm.ExtractionResponse) (*validated, error) {
	out := &validated{profile: resp.Profile}

	for _, e := range resp.Memories {
		m := &types.MemoryRecord{
			Content:    e.Content,
			Category:   types.Category(e.Category),
			Importance: e.Importance,
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		out.memories = append(out.memories, m)
	}

	for _, e := range resp.Goals {
		if e.Title == "" {
			return nil, fmt.Errorf("%w: goal title is empty", types.ErrConstraintViolation)
		}
		priority, err := types.ParsePriority(e.Priority)
		if err != nil {
			return nil, err
		}
		g := &types.Goal{
			Title:       e.Title,
			Description: e.Description,
			Priority:    priority,
			Status:      types.GoalActive,
		}
		if e.Deadline != "" {
			deadline, err := time.Parse("2006-01-02", e.Deadline)
			if err != nil {
				return nil, fmt.Errorf("%w: bad deadline %q", types.ErrConstraintViolation, e.Deadline)
			}
			g.Deadline = &deadline
		}
		out.goals = append(out.goals, g)
	}

	for _, e := range resp.Profile {
		if e.Key == "" || e.Value == "" {
			return nil, fmt.Errorf("%w: profile entry needs key and value", types.ErrConstraintViolation)
		}
	}

	return out, nil
}

// commitMemory stores a candidate, merging into a near-duplicate of the
// same category when one exists.
func (p *Pipeline) commitMemory(ctx context.Context, m *types.MemoryRecord) bool {
	existing, err := p.store.ListMemories(ctx, m.Category, 0)
	if err != nil {
		log.Printf("extraction: dedupe list failed: %v", err)
		return false
	}
	for _, prev := range existing {
		if !similarity.Similar(prev.Content, m.Content, p.threshold) {
			continue
		}
		// The listing snapshot may predate a concurrent touch or decay;
		// re-read under the record lock before writing.
		release := p.lockRecord(prev.ID)
		fresh, err := p.store.GetMemory(ctx, prev.ID)
		if err != nil {
			release()
			log.Printf("extraction: merge read failed: %v", err)
			return false
		}
		if m.Importance > fresh.Importance {
			fresh.Importance = m.Importance
		}
		err = p.store.UpdateMemory(ctx, fresh)
		release()
		if err != nil {
			log.Printf("extraction: merge update failed: %v", err)
			return false
		}
		return true
	}

	if err := p.store.CreateMemory(ctx, m); err != nil {
		log.Printf("extraction: create memory failed: %v", err)
		return false
	}
	p.writeEmbedding(ctx, m)
	return true
}

// commitGoal stores a candidate goal unless an active goal with the same
// title already exists.
func (p *Pipeline) commitGoal(ctx context.Context, g *types.Goal) bool {
	if _, err := p.store.FindActiveGoalByTitle(ctx, g.Title); err == nil {
		return false // already tracked
	}
	if err := p.store.CreateGoal(ctx, g); err != nil {
		log.Printf("extraction: create goal failed: %v", err)
		return false
	}
	return true
}

// lockRecord holds the record's lock until the returned release is called.
// Without a registry it is a no-op.
func (p *Pipeline) lockRecord(id string) func() {
	if p.registry == nil {
		return func() {}
	}
	return p.registry.Acquire(locks.MemoryKey(id))
}

// writeEmbedding is best effort: it only runs when both an embedder and a
// vector-capable backend are configured.
func (p *Pipeline) writeEmbedding(ctx context.Context, m *types.MemoryRecord) {
	if p.embedder == nil {
		return
	}
	vs, ok := p.store.(storage.VectorSearcher)
	if !ok {
		return
	}
	vec, err := p.embedder.Embed(ctx, m.Content)
	if err != nil {
		log.Printf("extraction: embed failed: %v", err)
		return
	}
	if err := vs.SetMemoryEmbedding(ctx, m.ID, vec); err != nil {
		log.Printf("extraction: store embedding failed: %v", err)
	}
}

func (p *Pipeline) discard(reached State, cause error) Outcome {
	log.Printf("extraction: discarded at %s: %v", reached, cause)
	return Outcome{State: StateDiscarded, Err: cause}
}
