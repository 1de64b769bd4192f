package activity

import "time"

// Counter is a pair of activity totals for one chat
type Counter struct {
	Symbols  int64 `json:"symbols"`
	Messages int64 `json:"messages"`
}

// IsZero reports whether the counter holds no activity
func (c Counter) IsZero() bool {
	return c.Symbols == 0 && c.Messages == 0
}

// Snapshot is a drained accumulator window, owned by the caller
type Snapshot map[int64]Counter

// Totals sums every chat in the snapshot
func (s Snapshot) Totals() Counter {
	var total Counter
	for _, c := range s {
		total.Symbols += c.Symbols
		total.Messages += c.Messages
	}
	return total
}

// DailyCounter is one durable per-chat-per-day row
type DailyCounter struct {
	ChatID   int64     `json:"chat_id"`
	Day      time.Time `json:"day"`
	Symbols  int64     `json:"symbol_count"`
	Messages int64     `json:"message_count"`
}

// Exceeds applies the strict greater-than limit check
func (d DailyCounter) Exceeds(symbolsLimit, messagesLimit int64) bool {
	return d.Symbols > symbolsLimit || d.Messages > messagesLimit
}

// Day truncates t to midnight UTC
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
