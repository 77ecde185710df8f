// Package conversation keeps the active context window of the open session
// small. A window-start pointer per session marks where the completion input
// begins; it only ever moves forward.
package conversation

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sync"

	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/pkg/types"
)

// Trigger names why the window advanced, for logs and notify events.
type Trigger string

const (
	TriggerNone      Trigger = ""
	TriggerCommit    Trigger = "commit"
	TriggerExplicit  Trigger = "explicit"
	TriggerThreshold Trigger = "threshold"
)

// DefaultMaxWindowTurns is the threshold trigger: once the window exceeds
// this many turns a boundary is forced.
const DefaultMaxWindowTurns = 20

// defaultTopicPatterns match user phrasings that open a new topic.
var defaultTopicPatterns = []string{
	`(?i)^(ok(ay)?[,.!]?\s+)?(let'?s|can we) (talk|chat) about`,
	`(?i)^new topic\b`,
	`(?i)^(on a|to) (different|another) (topic|subject)`,
	`(?i)^(anyway|changing the subject)[,.!]?\s`,
}

// Config tunes the controller.
type Config struct {
	// MaxWindowTurns forces a boundary once exceeded. Zero means default.
	MaxWindowTurns int

	// TopicPatterns are regular expressions matched against user turns for
	// the explicit trigger. Empty means the built-in set.
	TopicPatterns []string
}

// Controller evaluates segmentation triggers after each exchange. The
// tunables can be swapped at runtime via Reconfigure.
type Controller struct {
	store storage.SessionStore

	mu       sync.RWMutex
	patterns []*regexp.Regexp
	maxTurns int
}

// New compiles the configured patterns and returns a controller.
func New(store storage.SessionStore, cfg Config) (*Controller, error) {
	c := &Controller{store: store}
	if err := c.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Reconfigure replaces the trigger tunables. A bad pattern leaves the
// previous configuration in place.
func (c *Controller) Reconfigure(cfg Config) error {
	maxTurns := cfg.MaxWindowTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxWindowTurns
	}
	raw := cfg.TopicPatterns
	if len(raw) == 0 {
		raw = defaultTopicPatterns
	}

	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("conversation: bad topic pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	c.mu.Lock()
	c.patterns = patterns
	c.maxTurns = maxTurns
	c.mu.Unlock()
	return nil
}

// Evaluate runs after a completed exchange. lastTurnID is the assistant
// turn that closed the exchange; committed reports whether extraction wrote
// anything. When a trigger fires the pointer advances to just past
// lastTurnID, so the next window starts with the following exchange.
func (c *Controller) Evaluate(ctx context.Context, sessionID, userText string, lastTurnID int64, committed bool) (Trigger, error) {
	trigger := TriggerNone
	switch {
	case committed:
		trigger = TriggerCommit
	case c.matchesTopicShift(userText):
		trigger = TriggerExplicit
	default:
		window, err := c.store.ListWindowTurns(ctx, sessionID)
		if err != nil {
			return TriggerNone, err
		}
		c.mu.RLock()
		maxTurns := c.maxTurns
		c.mu.RUnlock()
		if len(window) > maxTurns {
			trigger = TriggerThreshold
		}
	}

	if trigger == TriggerNone {
		return TriggerNone, nil
	}

	if err := c.store.SetWindowStart(ctx, sessionID, lastTurnID+1); err != nil {
		return TriggerNone, err
	}
	log.Printf("conversation: window advanced past turn %d (%s trigger)", lastTurnID, trigger)
	return trigger, nil
}

// WindowTurns returns the turns that form the completion input for the
// session, oldest first.
func (c *Controller) WindowTurns(ctx context.Context, sessionID string) ([]*types.ConversationTurn, error) {
	return c.store.ListWindowTurns(ctx, sessionID)
}

func (c *Controller) matchesTopicShift(userText string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, re := range c.patterns {
		if re.MatchString(userText) {
			return true
		}
	}
	return false
}
