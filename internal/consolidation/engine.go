// Package consolidation is the background maintenance pass over the memory
// store: session summaries, duplicate merges, importance decay, turn
// archival and reminder delivery. It runs off the interactive path; every
// failed unit is logged, wrapped in ErrConsolidation and retried on the
// next pass.
package consolidation

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/kioku-ai/kioku/internal/llm"
	"github.com/kioku-ai/kioku/internal/locks"
	"github.com/kioku-ai/kioku/internal/similarity"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/pkg/types"
)

// Notifier receives reminder events. The notify hub implements it; a nil
// notifier silences delivery without disturbing rescheduling.
type Notifier interface {
	ReminderDue(r *types.Reminder)
}

// Defaults for the maintenance pass.
const (
	DefaultDecayFactor     = 0.98
	DefaultImportanceFloor = 0.1
	DefaultDecayPeriod     = 24 * time.Hour
	DefaultRetention       = 30 * 24 * time.Hour
	DefaultSessionBatch    = 10
)

// Config tunes the engine. Zero values mean defaults.
type Config struct {
	// DecayFactor multiplies importance once per decay period without
	// access. Must stay in (0, 1].
	DecayFactor float64

	// ImportanceFloor is the value decay never goes below.
	ImportanceFloor float64

	// DecayPeriod is the interval of non-access that costs one decay step.
	DecayPeriod time.Duration

	// Retention is the age beyond which turns of summarized sessions are
	// archived.
	Retention time.Duration

	// SimilarityThreshold controls duplicate merging.
	SimilarityThreshold float64

	// SessionBatch caps how many sessions one pass summarizes.
	SessionBatch int
}

func (c *Config) normalize() error {
	if c.DecayFactor == 0 {
		c.DecayFactor = DefaultDecayFactor
	}
	if c.DecayFactor < 0 || c.DecayFactor > 1 {
		return fmt.Errorf("%w: decay factor %.2f outside (0, 1]", types.ErrConstraintViolation, c.DecayFactor)
	}
	if c.ImportanceFloor == 0 {
		c.ImportanceFloor = DefaultImportanceFloor
	}
	if c.DecayPeriod <= 0 {
		c.DecayPeriod = DefaultDecayPeriod
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = similarity.DefaultThreshold
	}
	if c.SessionBatch <= 0 {
		c.SessionBatch = DefaultSessionBatch
	}
	return nil
}

// Report counts what one pass accomplished.
type Report struct {
	SummariesWritten int
	MemoriesMerged   int
	MemoriesDecayed  int
	TurnsArchived    int
	RemindersFired   int
	UnitsDeferred    int
}

// Engine runs maintenance passes. gen may be nil to skip summaries,
// notifier may be nil to skip reminder delivery.
type Engine struct {
	store    storage.Store
	gen      llm.TextGenerator
	notifier Notifier
	registry *locks.Registry
	cfg      Config
	now      func() time.Time
}

// New validates the config and builds an engine.
func New(store storage.Store, gen llm.TextGenerator, notifier Notifier, registry *locks.Registry, cfg Config) (*Engine, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = locks.NewRegistry()
	}
	return &Engine{
		store:    store,
		gen:      gen,
		notifier: notifier,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// Run executes one full maintenance pass. Unit failures defer to the next
// pass and are counted, never returned; the error is non-nil only when a
// whole phase could not start.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	if err := e.summarizeSessions(ctx, report); err != nil {
		return report, err
	}
	if err := e.mergeDuplicates(ctx, report); err != nil {
		return report, err
	}
	if err := e.decayImportance(ctx, report); err != nil {
		return report, err
	}
	if err := e.archiveTurns(ctx, report); err != nil {
		return report, err
	}
	if err := e.fireReminders(ctx, report); err != nil {
		return report, err
	}

	log.Printf("consolidation: pass done (summaries=%d merged=%d decayed=%d archived=%d reminders=%d deferred=%d)",
		report.SummariesWritten, report.MemoriesMerged, report.MemoriesDecayed,
		report.TurnsArchived, report.RemindersFired, report.UnitsDeferred)
	return report, nil
}

// summarizeSessions writes a summary for each closed session that lacks
// one. Sessions locked by another pass are skipped, not failed.
func (e *Engine) summarizeSessions(ctx context.Context, report *Report) error {
	if e.gen == nil {
		return nil
	}

	sessions, err := e.store.ListClosedSessionsWithoutSummary(ctx, e.cfg.SessionBatch)
	if err != nil {
		return fmt.Errorf("%w: list sessions: %v", types.ErrConsolidation, err)
	}

	for _, session := range sessions {
		release, ok := e.registry.TryAcquire(locks.SessionKey(session.ID))
		if !ok {
			continue
		}
		if err := e.summarizeSession(ctx, session); err != nil {
			log.Printf("consolidation: %v", err)
			report.UnitsDeferred++
		} else {
			report.SummariesWritten++
		}
		release()
	}
	return nil
}

func (e *Engine) summarizeSession(ctx context.Context, session *types.Session) error {
	turns, err := e.store.ListTurns(ctx, session.ID, true)
	if err != nil {
		return fmt.Errorf("%w: session %s turns: %v", types.ErrConsolidation, session.ID, err)
	}

	summary := "Empty session, no conversation recorded."
	if len(turns) > 0 {
		raw, err := e.gen.Complete(ctx, llm.BuildSummaryPrompt(turns))
		if err != nil {
			return fmt.Errorf("%w: summarize session %s: %v", types.ErrConsolidation, session.ID, err)
		}
		summary, err = llm.ParseSummaryResponse(raw)
		if err != nil {
			return fmt.Errorf("%w: summarize session %s: %v", types.ErrConsolidation, session.ID, err)
		}
	}

	if err := e.store.SetSessionSummary(ctx, session.ID, summary); err != nil {
		return fmt.Errorf("%w: store summary for %s: %v", types.ErrConsolidation, session.ID, err)
	}
	return nil
}

// mergeDuplicates collapses near-duplicate memories within each category.
// The oldest record is canonical: it keeps the higher importance, the
// summed access counts and a fresh updated_at; the duplicate is archived.
func (e *Engine) mergeDuplicates(ctx context.Context, report *Report) error {
	all, err := e.store.ListMemories(ctx, "", 0)
	if err != nil {
		return fmt.Errorf("%w: list memories: %v", types.ErrConsolidation, err)
	}

	// ListMemories is newest first; walk oldest first so the earliest
	// record of each duplicate cluster becomes the keeper.
	kept := make(map[types.Category][]*types.MemoryRecord)
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		keeper := findSimilar(kept[m.Category], m.Content, e.cfg.SimilarityThreshold)
		if keeper == nil {
			kept[m.Category] = append(kept[m.Category], m)
			continue
		}
		if err := e.mergeInto(ctx, keeper, m); err != nil {
			log.Printf("consolidation: %v", err)
			report.UnitsDeferred++
			continue
		}
		report.MemoriesMerged++
	}
	return nil
}

func findSimilar(records []*types.MemoryRecord, content string, threshold float64) *types.MemoryRecord {
	for _, r := range records {
		if similarity.Similar(r.Content, content, threshold) {
			return r
		}
	}
	return nil
}

func (e *Engine) mergeInto(ctx context.Context, keeper, dup *types.MemoryRecord) error {
	releaseKeeper, ok := e.registry.TryAcquire(locks.MemoryKey(keeper.ID))
	if !ok {
		return fmt.Errorf("%w: merge %s: keeper busy", types.ErrConsolidation, dup.ID)
	}
	defer releaseKeeper()
	releaseDup, ok := e.registry.TryAcquire(locks.MemoryKey(dup.ID))
	if !ok {
		return fmt.Errorf("%w: merge %s: record busy", types.ErrConsolidation, dup.ID)
	}
	defer releaseDup()

	if dup.Importance > keeper.Importance {
		keeper.Importance = dup.Importance
	}
	keeper.AccessCount += dup.AccessCount

	if err := e.store.UpdateMemory(ctx, keeper); err != nil {
		return fmt.Errorf("%w: merge update %s: %v", types.ErrConsolidation, keeper.ID, err)
	}
	if err := e.store.ArchiveMemory(ctx, dup.ID); err != nil {
		return fmt.Errorf("%w: merge archive %s: %v", types.ErrConsolidation, dup.ID, err)
	}
	return nil
}

// decayImportance fades records that have not been accessed for at least
// one decay period, clamped at the floor. The reference point moves with
// updated_at, so each period is charged once across passes.
func (e *Engine) decayImportance(ctx context.Context, report *Report) error {
	all, err := e.store.ListMemories(ctx, "", 0)
	if err != nil {
		return fmt.Errorf("%w: list memories: %v", types.ErrConsolidation, err)
	}

	now := e.now().UTC()
	for _, m := range all {
		ref := m.CreatedAt
		if m.UpdatedAt.After(ref) {
			ref = m.UpdatedAt
		}
		if m.LastAccessedAt != nil && m.LastAccessedAt.After(ref) {
			ref = *m.LastAccessedAt
		}

		periods := int(now.Sub(ref) / e.cfg.DecayPeriod)
		if periods < 1 || m.Importance <= e.cfg.ImportanceFloor {
			continue
		}

		decayed := m.Importance * math.Pow(e.cfg.DecayFactor, float64(periods))
		if decayed < e.cfg.ImportanceFloor {
			decayed = e.cfg.ImportanceFloor
		}

		release, ok := e.registry.TryAcquire(locks.MemoryKey(m.ID))
		if !ok {
			report.UnitsDeferred++
			continue
		}
		m.Importance = decayed
		err := e.store.UpdateMemory(ctx, m)
		release()
		if err != nil {
			log.Printf("consolidation: decay %s: %v", m.ID, err)
			report.UnitsDeferred++
			continue
		}
		report.MemoriesDecayed++
	}
	return nil
}

// archiveTurns soft-archives old turns, but only for sessions that already
// have a summary. Without a summary the raw turns stay reachable.
func (e *Engine) archiveTurns(ctx context.Context, report *Report) error {
	sessions, err := e.store.ListSummarizedSessions(ctx, 0)
	if err != nil {
		return fmt.Errorf("%w: list summarized sessions: %v", types.ErrConsolidation, err)
	}

	cutoff := e.now().UTC().Add(-e.cfg.Retention)
	for _, session := range sessions {
		release, ok := e.registry.TryAcquire(locks.SessionKey(session.ID))
		if !ok {
			continue
		}
		n, err := e.store.ArchiveTurns(ctx, session.ID, cutoff)
		release()
		if err != nil {
			log.Printf("consolidation: archive turns for %s: %v", session.ID, err)
			report.UnitsDeferred++
			continue
		}
		report.TurnsArchived += n
	}
	return nil
}

// fireReminders delivers due reminders through the notifier. Recurring
// reminders are rescheduled; one-shots transition to triggered.
func (e *Engine) fireReminders(ctx context.Context, report *Report) error {
	due, err := e.store.ListDueReminders(ctx, e.now().UTC())
	if err != nil {
		return fmt.Errorf("%w: list due reminders: %v", types.ErrConsolidation, err)
	}

	for _, r := range due {
		if e.notifier != nil {
			e.notifier.ReminderDue(r)
		}
		if err := e.store.UpdateReminderStatus(ctx, r.ID, types.ReminderTriggered, r.NextOccurrence()); err != nil {
			log.Printf("consolidation: reminder %d: %v", r.ID, err)
			report.UnitsDeferred++
			continue
		}
		report.RemindersFired++
	}
	return nil
}
