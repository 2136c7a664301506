package suggest

import (
	"sync"
	"time"
)

// Key identifies one conversation with the front-end.
type Key struct {
	ChatID int64
	UserID int64
}

// Ticket is handed out when a request starts and must be presented to store
// its result.
type Ticket struct {
	Key        Key
	Generation uint64
	Feature    string
}

type Result struct {
	Generation  uint64
	Feature     string
	Suggestions []string
	CommittedAt time.Time
}

// Pending is a feature waiting for the user's next message.
type Pending struct {
	Feature string
	Text    string
}

type entry struct {
	generation uint64
	pending    Pending
	result     *Result
	touched    time.Time
}

type Options struct {
	// IdleTTL drops conversations untouched for longer than this on Sweep.
	IdleTTL time.Duration
	Now     func() time.Time
}

// Tracker keeps a per-conversation request generation so a late response to
// an older request never replaces a newer result. Generations come from one
// counter shared by all keys and never repeat.
type Tracker struct {
	mu      sync.Mutex
	seq     uint64
	entries map[Key]*entry
	idleTTL time.Duration
	now     func() time.Time
}

func NewTracker(opts Options) *Tracker {
	idleTTL := opts.IdleTTL
	if idleTTL <= 0 {
		idleTTL = 24 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Tracker{
		entries: make(map[Key]*entry),
		idleTTL: idleTTL,
		now:     now,
	}
}

// Begin starts a new request for key, superseding any in flight.
func (t *Tracker) Begin(key Key, feature string) Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.getOrCreateLocked(key)
	t.seq++
	e.generation = t.seq
	e.pending = Pending{}
	return Ticket{Key: key, Generation: e.generation, Feature: feature}
}

// Current reports whether ticket is still the newest request for its key.
func (t *Tracker) Current(ticket Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[ticket.Key]
	return ok && e.generation == ticket.Generation
}

// Commit stores suggestions for ticket. It returns false, storing nothing,
// when a newer request has begun since.
func (t *Tracker) Commit(ticket Ticket, suggestions []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[ticket.Key]
	if !ok || e.generation != ticket.Generation {
		return false
	}

	e.touched = t.now()
	e.result = &Result{
		Generation:  ticket.Generation,
		Feature:     ticket.Feature,
		Suggestions: append([]string(nil), suggestions...),
		CommittedAt: e.touched,
	}
	return true
}

// Pick returns suggestion idx of generation gen. Buttons from any other
// generation are stale.
func (t *Tracker) Pick(key Key, gen uint64, idx int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || e.result == nil || e.result.Generation != gen {
		return "", false
	}
	if idx < 0 || idx >= len(e.result.Suggestions) {
		return "", false
	}
	e.touched = t.now()
	return e.result.Suggestions[idx], true
}

func (t *Tracker) Latest(key Key) (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || e.result == nil {
		return Result{}, false
	}
	out := *e.result
	out.Suggestions = append([]string(nil), e.result.Suggestions...)
	return out, true
}

func (t *Tracker) SetPending(key Key, p Pending) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.getOrCreateLocked(key)
	e.pending = p
}

// TakePending returns and clears the pending feature.
func (t *Tracker) TakePending(key Key) (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || e.pending.Feature == "" {
		return Pending{}, false
	}
	p := e.pending
	e.pending = Pending{}
	return p, true
}

func (t *Tracker) Clear(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[key]; ok {
		t.seq++
		e.generation = t.seq
		e.pending = Pending{}
		e.result = nil
		e.touched = t.now()
	}
}

// Sweep drops idle conversations and returns how many were removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.idleTTL)
	removed := 0
	for key, e := range t.entries {
		if e.touched.Before(cutoff) {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

func (t *Tracker) getOrCreateLocked(key Key) *entry {
	e, ok := t.entries[key]
	if !ok {
		e = &entry{}
		t.entries[key] = e
	}
	e.touched = t.now()
	return e
}
