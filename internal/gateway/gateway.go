// Package gateway exposes the memory subsystem to the inference capability
// as a closed set of tools. Dispatch is a static table; unknown names and
// bad parameters come back as structured error payloads inside the protocol
// so a confused model can read the error and try again.
package gateway

import (
	"context"
	"fmt"
	"log"

	"github.com/kioku-ai/kioku/internal/locks"
	"github.com/kioku-ai/kioku/internal/ranker"
	"github.com/kioku-ai/kioku/internal/similarity"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/pkg/types"
)

// Gateway dispatches tool invocations. One invocation executes exactly one
// store or ranker operation; the gateway is safe for concurrent use across
// conversations.
type Gateway struct {
	store    storage.Store
	ranker   *ranker.Ranker
	registry *locks.Registry

	// dedupeThreshold is the similarity score at which memory_store merges
	// instead of inserting.
	dedupeThreshold float64

	tools map[string]tool
}

type tool struct {
	definition Definition
	handle     func(ctx context.Context, params []byte) (interface{}, error)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithDedupeThreshold overrides the memory_store similarity threshold.
func WithDedupeThreshold(threshold float64) Option {
	return func(g *Gateway) { g.dedupeThreshold = threshold }
}

// WithLockRegistry shares the record lock registry with consolidation, so
// memory_store merges queue behind any pass holding the same record.
func WithLockRegistry(registry *locks.Registry) Option {
	return func(g *Gateway) { g.registry = registry }
}

// New creates a gateway over the given store and ranker.
func New(store storage.Store, r *ranker.Ranker, opts ...Option) *Gateway {
	g := &Gateway{
		store:           store,
		ranker:          r,
		dedupeThreshold: similarity.DefaultThreshold,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.registerTools()
	return g
}

// Invoke runs one tool call and always returns a result, never an error:
// failures become structured payloads.
func (g *Gateway) Invoke(ctx context.Context, inv Invocation) *Result {
	t, ok := g.tools[inv.Name]
	if !ok {
		return resultFromError(fmt.Errorf("%w: %q", types.ErrToolNotFound, inv.Name))
	}

	data, err := t.handle(ctx, inv.Params)
	if err != nil {
		log.Printf("gateway: %s failed: %v", inv.Name, err)
		return resultFromError(err)
	}
	return okResult(data)
}

// lockRecord holds the record's lock until the returned release is called.
// Without a registry (one-shot CLI commands) it is a no-op.
func (g *Gateway) lockRecord(id string) func() {
	if g.registry == nil {
		return func() {}
	}
	return g.registry.Acquire(locks.MemoryKey(id))
}

// Definitions returns the tool descriptors advertised to the model, in a
// stable order.
func (g *Gateway) Definitions() []Definition {
	names := []string{"memory_search", "memory_store", "goal_list", "goal_update", "profile_get"}
	out := make([]Definition, 0, len(names))
	for _, n := range names {
		out = append(out, g.tools[n].definition)
	}
	return out
}
