package activity

import "sync"

// Accumulator buffers message activity in memory between flushes.
// Record never touches I/O; DrainAll swaps the live map for a fresh one
// so writers racing a drain land in exactly one window.
type Accumulator struct {
	mu   sync.Mutex
	live map[int64]Counter
}

// NewAccumulator creates an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{live: make(map[int64]Counter)}
}

// Record adds activity for a chat. Negative deltas are ignored.
func (a *Accumulator) Record(chatID int64, symbols, messages int64) {
	if symbols < 0 {
		symbols = 0
	}
	if messages < 0 {
		messages = 0
	}
	if symbols == 0 && messages == 0 {
		return
	}

	a.mu.Lock()
	c := a.live[chatID]
	c.Symbols += symbols
	c.Messages += messages
	a.live[chatID] = c
	a.mu.Unlock()
}

// DrainAll removes and returns everything recorded since the last drain
func (a *Accumulator) DrainAll() Snapshot {
	a.mu.Lock()
	drained := a.live
	a.live = make(map[int64]Counter, len(drained))
	a.mu.Unlock()

	return Snapshot(drained)
}

// Pending returns a copy of the live window for a single chat
func (a *Accumulator) Pending(chatID int64) Counter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live[chatID]
}

// Len returns the number of chats with pending activity
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
