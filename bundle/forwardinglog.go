package bundle

import "sync"

// ForwardAction mirrors ForwardingInfo.action (§3).
type ForwardAction int

const (
	ForwardUnique ForwardAction = iota
	ForwardCopy
	ForwardFirst
	ForwardReassemble
)

// ForwardState mirrors ForwardingInfo.state (§3).
type ForwardState int

const (
	StateNone ForwardState = iota
	StateTransmitting
	StateTransmitted
	StateInFlight
	StateCancelled
	StateCustodyTimeout
	StateDelivered
)

// ForwardingLogEntry is one (link, action, state, timestamp) record.
type ForwardingLogEntry struct {
	Link      string
	Action    ForwardAction
	State     ForwardState
	Timestamp int64 // mono.NanoTime() at the time of the entry
}

// ForwardingLog is the append-only per-bundle audit trail of transmit
// attempts per link (§4.4). It is consulted to prevent sending a bundle
// twice on a link that already shows it InFlight.
type ForwardingLog struct {
	mu      sync.Mutex
	entries []ForwardingLogEntry
}

// AddEntry appends a new entry.
func (l *ForwardingLog) AddEntry(link string, action ForwardAction, state ForwardState, now int64) {
	l.mu.Lock()
	l.entries = append(l.entries, ForwardingLogEntry{Link: link, Action: action, State: state, Timestamp: now})
	l.mu.Unlock()
}

// Update rewrites the most recent entry matching link with a new state.
// If no entry exists for link, it is a no-op (callers that want one
// created should use AddEntry).
func (l *ForwardingLog) Update(link string, state ForwardState, now int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Link == link {
			l.entries[i].State = state
			l.entries[i].Timestamp = now
			return
		}
	}
}

// GetLatestEntry returns the latest entry observed for link, if any.
func (l *ForwardingLog) GetLatestEntry(link string) (ForwardingLogEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Link == link {
			return l.entries[i], true
		}
	}
	return ForwardingLogEntry{}, false
}

// Entries returns a snapshot copy of the full log, e.g. for persistence.
func (l *ForwardingLog) Entries() []ForwardingLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ForwardingLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// IsInFlight reports whether link currently shows StateInFlight, used by
// the daemon's Enqueue precondition check (§4.8 step 4).
func (l *ForwardingLog) IsInFlight(link string) bool {
	e, ok := l.GetLatestEntry(link)
	return ok && e.State == StateInFlight
}
