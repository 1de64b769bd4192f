package activity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryStore is the in-process Store used when Redis is not configured.
// Days expire at day+retention, checked against the injected clock.
type MemoryStore struct {
	mu        sync.Mutex
	days      map[time.Time]map[int64]Counter
	retention time.Duration
	clock     clockwork.Clock
}

func NewMemoryStore(retention time.Duration, clk clockwork.Clock) *MemoryStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &MemoryStore{
		days:      make(map[time.Time]map[int64]Counter),
		retention: retention,
		clock:     clk,
	}
}

func (s *MemoryStore) Increment(_ context.Context, day time.Time, batch Snapshot) error {
	if len(batch) == 0 {
		return nil
	}

	day = Day(day)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()

	if !s.clock.Now().Before(day.Add(s.retention)) {
		// Already expired; nothing would read it
		return nil
	}

	rows, ok := s.days[day]
	if !ok {
		rows = make(map[int64]Counter, len(batch))
		s.days[day] = rows
	}
	for chatID, c := range batch {
		row := rows[chatID]
		row.Symbols += c.Symbols
		row.Messages += c.Messages
		rows[chatID] = row
	}
	return nil
}

func (s *MemoryStore) OverLimit(_ context.Context, symbolsLimit, messagesLimit int64) ([]DailyCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()

	var out []DailyCounter
	for day, rows := range s.days {
		for chatID, c := range rows {
			row := DailyCounter{ChatID: chatID, Day: day, Symbols: c.Symbols, Messages: c.Messages}
			if row.Exceeds(symbolsLimit, messagesLimit) {
				out = append(out, row)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].ChatID < out[j].ChatID
	})
	return out, nil
}

func (s *MemoryStore) Consume(_ context.Context, row DailyCounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := Day(row.Day)
	if rows, ok := s.days[day]; ok {
		delete(rows, row.ChatID)
		if len(rows) == 0 {
			delete(s.days, day)
		}
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, chatID int64, day time.Time) (DailyCounter, error) {
	day = Day(day)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()

	c := s.days[day][chatID]
	return DailyCounter{ChatID: chatID, Day: day, Symbols: c.Symbols, Messages: c.Messages}, nil
}

func (s *MemoryStore) purgeLocked() {
	now := s.clock.Now()
	for day := range s.days {
		if !now.Before(day.Add(s.retention)) {
			delete(s.days, day)
		}
	}
}
