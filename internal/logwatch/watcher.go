// Package logwatch decides which router log entries deserve an alert.
//
// A [Watcher] is stateless; the memory of what has already been seen is
// an explicit [State] value that the caller threads from one poll to
// the next. Classify never mutates the State it is given.
package logwatch

import (
	"strings"

	"github.com/nugget/routerwatch/internal/routeros"
)

// Config controls classification.
type Config struct {
	// CriticalTopics are matched case-insensitively as substrings of the
	// entry's comma-joined topic list, so "error" matches a topic of
	// "error" and "system,error" matches the pair.
	CriticalTopics []string

	// MessagePatterns are case-insensitive substrings of the message
	// that make an entry alert-worthy on their own.
	MessagePatterns []string

	// RetainPolls is how many polls an identity is kept after the
	// router last returned it. Values below 1 mean 1.
	RetainPolls int

	// SuppressStartup primes the first poll's state without alerting.
	SuppressStartup bool
}

// State is the dedup memory carried between polls.
type State struct {
	// Cursor is the timestamp of the newest entry seen so far.
	Cursor string

	// Generation counts successful classification passes.
	Generation uint64

	// Seen maps each remembered identity to the generation in which the
	// router last returned it.
	Seen map[routeros.Identity]uint64
}

// Primed reports whether at least one poll has been classified.
func (s State) Primed() bool { return s.Generation > 0 }

// Watcher classifies log entries against a fixed configuration.
type Watcher struct {
	topics   []string
	patterns []string
	retain   uint64
	suppress bool
}

// New creates a Watcher. Topic and pattern matching is
// case-insensitive; blank entries are ignored.
func New(cfg Config) *Watcher {
	retain := cfg.RetainPolls
	if retain < 1 {
		retain = 1
	}
	return &Watcher{
		topics:   lowerAll(cfg.CriticalTopics),
		patterns: lowerAll(cfg.MessagePatterns),
		retain:   uint64(retain),
		suppress: cfg.SuppressStartup,
	}
}

// Classify returns the alert-worthy entries not already in prev.Seen,
// in input order, and the state to use for the next poll. Every entry
// observed this poll is recorded, alert-worthy or not. Identities not
// returned by the router for more than RetainPolls polls are pruned.
//
// On the very first poll every matching entry is returned unless the
// watcher was configured with SuppressStartup.
func (w *Watcher) Classify(entries []routeros.LogEntry, prev State) ([]routeros.LogEntry, State) {
	next := State{
		Cursor:     prev.Cursor,
		Generation: prev.Generation + 1,
		Seen:       make(map[routeros.Identity]uint64, len(prev.Seen)+len(entries)),
	}
	for id, gen := range prev.Seen {
		if next.Generation-gen <= w.retain {
			next.Seen[id] = gen
		}
	}

	coldStart := !prev.Primed()
	batch := make(map[routeros.Identity]struct{}, len(entries))
	var alerts []routeros.LogEntry
	for _, e := range entries {
		id := e.Identity()
		_, seenBefore := prev.Seen[id]
		_, dup := batch[id]
		batch[id] = struct{}{}
		next.Seen[id] = next.Generation

		// The router returns its log oldest first.
		if e.Time != "" {
			next.Cursor = e.Time
		}

		if seenBefore || dup || !w.Matches(e) {
			continue
		}
		if coldStart && w.suppress {
			continue
		}
		alerts = append(alerts, e)
	}
	return alerts, next
}

// Matches reports whether e is alert-worthy, ignoring dedup state.
func (w *Watcher) Matches(e routeros.LogEntry) bool {
	joined := strings.ToLower(e.TopicString())
	for _, want := range w.topics {
		if strings.Contains(joined, want) {
			return true
		}
	}
	if len(w.patterns) > 0 {
		msg := strings.ToLower(e.Message)
		for _, p := range w.patterns {
			if strings.Contains(msg, p) {
				return true
			}
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
