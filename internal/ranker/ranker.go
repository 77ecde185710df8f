// Package ranker re-scores the store's text-search candidates with salience
// and recency signals, so frequently used and recently touched memories rise
// above barely relevant matches.
package ranker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kioku-ai/kioku/internal/locks"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/pkg/types"
)

// Weights balance the boost components. They need not sum to 1; the match
// strength is always weighted 1.
type Weights struct {
	Importance float64 `yaml:"importance"` // scales the stored importance
	Access     float64 `yaml:"access"`     // scales log(1 + access_count)
	Recency    float64 `yaml:"recency"`    // scales the recency decay
}

// DefaultWeights favour importance, with access frequency and recency as
// secondary signals.
var DefaultWeights = Weights{Importance: 0.5, Access: 0.2, Recency: 0.3}

// Config tunes the ranker.
type Config struct {
	Weights Weights

	// HalfLifeHours controls recency decay: a memory untouched for one
	// half-life contributes half the recency weight. Default 72.
	HalfLifeHours float64

	// CandidateMultiplier sizes the store candidate pool relative to the
	// requested limit. Default 4.
	CandidateMultiplier int

	// CacheSize bounds the LRU snapshot cache. Default 128.
	CacheSize int
}

// Ranker scores and returns memories for a query. Safe for concurrent use.
type Ranker struct {
	store    storage.MemoryStore
	registry *locks.Registry
	cache    *lru.Cache[string, []*types.MemoryRecord]
	cfg      Config

	now func() time.Time // test seam
}

// New creates a ranker. registry may be nil when no consolidation runs in
// the process (one-shot CLI commands).
func New(store storage.MemoryStore, registry *locks.Registry, cfg Config) (*Ranker, error) {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	if cfg.HalfLifeHours <= 0 {
		cfg.HalfLifeHours = 72
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 4
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}

	cache, err := lru.New[string, []*types.MemoryRecord](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("ranker: cache: %w", err)
	}

	return &Ranker{
		store:    store,
		registry: registry,
		cache:    cache,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// Search returns up to limit memories for the query, best first. Every
// returned record is touched: its access_count increments and its
// last_accessed_at is stamped, which feeds back into future rankings.
//
// When a candidate is locked by consolidation and a snapshot of the same
// query is cached, the stale snapshot is served instead of queueing the
// interactive path behind the merge. Without a cached snapshot the touch
// queues on the record lock.
func (r *Ranker) Search(ctx context.Context, query string, category types.Category, limit int) ([]*types.MemoryRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit %d must be positive", types.ErrConstraintViolation, limit)
	}

	cacheKey := fmt.Sprintf("%s|%s|%d", strings.ToLower(query), category, limit)

	candidates, err := r.store.SearchMemories(ctx, storage.SearchOptions{
		Query:    query,
		Category: category,
		Limit:    limit * r.cfg.CandidateMultiplier,
	})
	if err != nil {
		return nil, err
	}

	// Text search finds nothing when the query shares no terms with any
	// record ("job" against "works as a teacher"). Fall back to a bounded
	// category scan and let the salience boost order it.
	if len(candidates) == 0 {
		candidates, err = r.store.ListMemories(ctx, category, limit*r.cfg.CandidateMultiplier)
		if err != nil {
			return nil, err
		}
	}

	if r.registry != nil {
		for _, c := range candidates {
			if r.registry.Locked(locks.MemoryKey(c.ID)) {
				if snapshot, ok := r.cache.Get(cacheKey); ok {
					return cloneRecords(snapshot), nil
				}
				break
			}
		}
	}

	now := r.now()
	type scored struct {
		rec   *types.MemoryRecord
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{rec: c, score: r.score(query, c, now)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].rec.CreatedAt.After(ranked[j].rec.CreatedAt)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results := make([]*types.MemoryRecord, 0, len(ranked))
	for _, s := range ranked {
		if err := r.touch(ctx, s.rec.ID); err != nil {
			return nil, err
		}
		s.rec.AccessCount++
		accessed := now
		s.rec.LastAccessedAt = &accessed
		results = append(results, s.rec)
	}

	r.cache.Add(cacheKey, cloneRecords(results))
	return results, nil
}

// touch increments the record's access count under its lock, so the write
// never interleaves with a merge or decay holding the same record.
func (r *Ranker) touch(ctx context.Context, id string) error {
	if r.registry == nil {
		return r.store.TouchMemory(ctx, id)
	}
	release := r.registry.Acquire(locks.MemoryKey(id))
	defer release()
	return r.store.TouchMemory(ctx, id)
}

// score combines textual match strength with the salience boost:
// w1*importance + w2*log(1+access_count) + w3*recency_decay.
func (r *Ranker) score(query string, m *types.MemoryRecord, now time.Time) float64 {
	match := tokenOverlap(query, m.Content)
	boost := r.cfg.Weights.Importance*m.Importance +
		r.cfg.Weights.Access*math.Log1p(float64(m.AccessCount)) +
		r.cfg.Weights.Recency*r.recencyDecay(m, now)
	return match + boost
}

// recencyDecay is 2^(-elapsed_hours/half_life), using created_at for
// records never accessed.
func (r *Ranker) recencyDecay(m *types.MemoryRecord, now time.Time) float64 {
	ref := m.CreatedAt
	if m.LastAccessedAt != nil {
		ref = *m.LastAccessedAt
	}
	hours := now.Sub(ref).Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Exp2(-hours / r.cfg.HalfLifeHours)
}

// tokenOverlap is the fraction of query tokens present in the content.
func tokenOverlap(query, content string) float64 {
	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return 0
	}
	cTokens := make(map[string]bool)
	for _, t := range tokenize(content) {
		cTokens[t] = true
	}
	hits := 0
	for _, t := range qTokens {
		if cTokens[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(qTokens))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func cloneRecords(in []*types.MemoryRecord) []*types.MemoryRecord {
	out := make([]*types.MemoryRecord, len(in))
	for i, m := range in {
		cp := *m
		out[i] = &cp
	}
	return out
}
