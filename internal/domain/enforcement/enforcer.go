package enforcement

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mwork/chat-governor/internal/domain/activity"
	"github.com/mwork/chat-governor/internal/domain/ban"
	"github.com/mwork/chat-governor/internal/domain/removal"
)

const (
	scanTimeout        = 5 * time.Minute
	defaultConcurrency = 8
)

// Banner records the ban once the agent is out of the chat
type Banner interface {
	Ban(ctx context.Context, chatID int64) (*ban.ChatBan, error)
}

// Remover takes the agent out of a chat
type Remover interface {
	Remove(ctx context.Context, chatID int64, notice string) removal.Outcome
}

// Notices renders the text sent before an automatic removal
type Notices interface {
	ActivityLimit() string
}

// Config holds the limits and schedule for the enforcer
type Config struct {
	Enabled       bool
	Interval      time.Duration
	SymbolsLimit  int64
	MessagesLimit int64
	Concurrency   int
}

// Result summarizes one scan
type Result struct {
	OverLimit int
	Banned    int
	Failed    int
}

// Enforcer bans chats whose daily activity is over the limits
type Enforcer struct {
	store   activity.Store
	banner  Banner
	remover Remover
	notices Notices
	cfg     Config
	clock   clockwork.Clock

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewEnforcer creates an enforcer
func NewEnforcer(store activity.Store, banner Banner, remover Remover, notices Notices, cfg Config, clk clockwork.Clock) *Enforcer {
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Enforcer{
		store:   store,
		banner:  banner,
		remover: remover,
		notices: notices,
		cfg:     cfg,
		clock:   clk,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the scan loop. A disabled enforcer does nothing.
func (e *Enforcer) Start() {
	if !e.cfg.Enabled {
		log.Info().Msg("Limit enforcer disabled on this instance")
		close(e.doneCh)
		return
	}

	log.Info().
		Dur("interval", e.cfg.Interval).
		Int64("symbols_limit", e.cfg.SymbolsLimit).
		Int64("messages_limit", e.cfg.MessagesLimit).
		Msg("Starting limit enforcer...")
	go e.loop()
}

// Stop ends the loop and waits for an in-progress scan
func (e *Enforcer) Stop(ctx context.Context) {
	e.stopOnce.Do(func() {
		log.Info().Msg("Stopping limit enforcer...")
		close(e.stopCh)
	})

	select {
	case <-e.doneCh:
	case <-ctx.Done():
		log.Warn().Msg("Limit enforcer did not stop in time")
	}
}

func (e *Enforcer) loop() {
	defer close(e.doneCh)

	ticker := e.clock.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
			if _, err := e.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Limit scan failed")
			}
			cancel()
		case <-e.stopCh:
			return
		}
	}
}

// RunOnce scans for over-limit chats and removes and bans each one.
// Only a failed scan query is returned as an error; per-chat failures
// are logged and the row is left for the next scan.
func (e *Enforcer) RunOnce(ctx context.Context) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		log.Warn().Msg("Limit scan already running, skipping")
		return Result{}, nil
	}
	defer e.running.Store(false)

	rows, err := e.store.OverLimit(ctx, e.cfg.SymbolsLimit, e.cfg.MessagesLimit)
	if err != nil {
		return Result{}, err
	}

	res := Result{OverLimit: len(rows)}
	if len(rows) == 0 {
		log.Debug().Msg("Limit scan: no chats over limit")
		return res, nil
	}

	var banned, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			if e.enforce(gctx, row) {
				banned.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Banned = int(banned.Load())
	res.Failed = int(failed.Load())

	log.Info().
		Int("over_limit", res.OverLimit).
		Int("banned", res.Banned).
		Int("failed", res.Failed).
		Msg("Limit scan finished")
	return res, nil
}

func (e *Enforcer) enforce(ctx context.Context, row activity.DailyCounter) bool {
	logger := log.With().
		Int64("chat_id", row.ChatID).
		Int64("symbols", row.Symbols).
		Int64("messages", row.Messages).
		Logger()

	outcome := e.remover.Remove(ctx, row.ChatID, e.notices.ActivityLimit())
	if !outcome.Succeeded() {
		logger.Error().Str("outcome", outcome.String()).Msg("Over-limit chat not removed, will retry next scan")
		return false
	}

	if _, err := e.banner.Ban(ctx, row.ChatID); err != nil {
		logger.Error().Err(err).Msg("Failed to ban over-limit chat")
		return false
	}

	if err := e.store.Consume(ctx, row); err != nil {
		// Banned already; the next scan re-bans as a no-op
		logger.Warn().Err(err).Msg("Failed to consume daily activity row")
	}

	logger.Info().Str("outcome", outcome.String()).Msg("Over-limit chat banned")
	return true
}
