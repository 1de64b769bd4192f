package activity

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const flushTimeout = 30 * time.Second

// Flusher periodically drains the accumulator into the daily store
type Flusher struct {
	acc      *Accumulator
	store    Store
	interval time.Duration
	clock    clockwork.Clock

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewFlusher creates a flusher. A zero interval defaults to ten minutes.
func NewFlusher(acc *Accumulator, store Store, interval time.Duration, clk clockwork.Clock) *Flusher {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Flusher{
		acc:      acc,
		store:    store,
		interval: interval,
		clock:    clk,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the flush loop
func (f *Flusher) Start() {
	log.Info().Dur("interval", f.interval).Msg("Starting activity flusher...")
	go f.loop()
}

// Stop ends the loop and runs one final flush. A failed final flush is
// logged and otherwise ignored.
func (f *Flusher) Stop(ctx context.Context) {
	f.stopOnce.Do(func() {
		log.Info().Msg("Stopping activity flusher...")
		close(f.stopCh)
	})

	select {
	case <-f.doneCh:
	case <-ctx.Done():
	}

	n, err := f.FlushOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Final activity flush failed")
		return
	}
	log.Info().Int("chats", n).Msg("Final activity flush done")
}

func (f *Flusher) loop() {
	defer close(f.doneCh)

	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if _, err := f.FlushOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Activity flush failed")
			}
			cancel()
		case <-f.stopCh:
			return
		}
	}
}

// FlushOnce drains the accumulator and writes one batch for today.
// On error the drained window is lost; it is not re-queued.
func (f *Flusher) FlushOnce(ctx context.Context) (int, error) {
	snapshot := f.acc.DrainAll()

	batch := make(Snapshot, len(snapshot))
	for chatID, c := range snapshot {
		if !c.IsZero() {
			batch[chatID] = c
		}
	}
	if len(batch) == 0 {
		log.Debug().Msg("Activity flush: nothing pending")
		return 0, nil
	}

	day := Day(f.clock.Now())
	if err := f.store.Increment(ctx, day, batch); err != nil {
		totals := batch.Totals()
		log.Warn().
			Int("chats", len(batch)).
			Int64("symbols", totals.Symbols).
			Int64("messages", totals.Messages).
			Msg("Dropping pending activity after failed flush")
		return 0, err
	}

	log.Debug().Int("chats", len(batch)).Time("day", day).Msg("Activity flushed")
	return len(batch), nil
}
