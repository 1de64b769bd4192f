package activity

import (
	"context"
	"time"
)

// Store is the durable, self-expiring daily counter table
type Store interface {
	// Increment atomically adds every counter in batch to the (chat, day) rows,
	// creating missing rows. Replaying a batch adds it twice.
	Increment(ctx context.Context, day time.Time, batch Snapshot) error

	// OverLimit returns rows with symbols > symbolsLimit or messages > messagesLimit
	OverLimit(ctx context.Context, symbolsLimit, messagesLimit int64) ([]DailyCounter, error)

	// Consume deletes a row so later scans skip it
	Consume(ctx context.Context, row DailyCounter) error

	// Get returns the row for a chat and day, zero counts when absent
	Get(ctx context.Context, chatID int64, day time.Time) (DailyCounter, error)
}
