package enforcement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwork/chat-governor/internal/domain/activity"
	"github.com/mwork/chat-governor/internal/domain/ban"
	"github.com/mwork/chat-governor/internal/domain/removal"
)

var testNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type fakeTransport struct {
	mu       sync.Mutex
	left     map[int64]int
	notices  map[int64]string
	leaveErr map[int64]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		left:     make(map[int64]int),
		notices:  make(map[int64]string),
		leaveErr: make(map[int64]error),
	}
}

func (f *fakeTransport) SendNotice(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices[chatID] = text
	return nil
}

func (f *fakeTransport) LeaveChat(_ context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.leaveErr[chatID]; err != nil {
		return err
	}
	f.left[chatID]++
	return nil
}

type staticNotices struct{}

func (staticNotices) ActivityLimit() string { return "limit exceeded" }

type failingBanner struct{}

func (failingBanner) Ban(context.Context, int64) (*ban.ChatBan, error) {
	return nil, errors.New("db down")
}

type harness struct {
	clk       *clockwork.FakeClock
	acc       *activity.Accumulator
	store     *activity.MemoryStore
	flusher   *activity.Flusher
	bans      *ban.Service
	transport *fakeTransport
	enforcer  *Enforcer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clk:       clockwork.NewFakeClockAt(testNow),
		acc:       activity.NewAccumulator(),
		transport: newFakeTransport(),
	}
	h.store = activity.NewMemoryStore(24*time.Hour, h.clk)
	h.flusher = activity.NewFlusher(h.acc, h.store, 10*time.Minute, h.clk)
	h.bans = ban.NewService(ban.NewMemoryRepository(), h.clk)
	h.enforcer = NewEnforcer(h.store, h.bans, removal.NewRemover(h.transport, 0, 1), staticNotices{}, Config{
		Enabled:       true,
		Interval:      20 * time.Minute,
		SymbolsLimit:  100000,
		MessagesLimit: 5000,
	}, h.clk)
	return h
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	_, err := h.flusher.FlushOnce(context.Background())
	require.NoError(t, err)
}

func TestDailyBanCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for i := 0; i < 60; i++ {
		h.acc.Record(1001, 2000, 1)
	}
	h.flush(t)

	res, err := h.enforcer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{OverLimit: 1, Banned: 1}, res)

	assert.Equal(t, 1, h.transport.left[1001])
	assert.Equal(t, "limit exceeded", h.transport.notices[1001])

	status, err := h.bans.Status(ctx, 1001)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Banned)
	assert.False(t, status.CanInvite)

	// The row was consumed, so a second scan does nothing
	res, err = h.enforcer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.OverLimit)
	assert.Equal(t, 1, h.transport.left[1001])
}

func TestThresholdIsStrict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.acc.Record(1, 100000, 5000)
	h.acc.Record(2, 100001, 1)
	h.flush(t)

	res, err := h.enforcer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Banned)

	banned, err := h.bans.IsBanned(ctx, 1)
	require.NoError(t, err)
	assert.False(t, banned)

	banned, err = h.bans.IsBanned(ctx, 2)
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestAlreadyGoneStillBans(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.transport.leaveErr[1001] = removal.ErrAlreadyGone

	h.acc.Record(1001, 0, 6000)
	h.flush(t)

	res, err := h.enforcer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Banned)

	banned, err := h.bans.IsBanned(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestPermanentFailureKeepsRowAndSkipsBan(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.transport.leaveErr[1001] = errors.New("missing access")

	h.acc.Record(1001, 200000, 1)
	h.flush(t)

	res, err := h.enforcer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{OverLimit: 1, Failed: 1}, res)

	banned, err := h.bans.IsBanned(ctx, 1001)
	require.NoError(t, err)
	assert.False(t, banned)

	// The next scan retries
	delete(h.transport.leaveErr, 1001)
	res, err = h.enforcer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Banned)
}

func TestBanFailureKeepsRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enforcer.banner = failingBanner{}

	h.acc.Record(1001, 200000, 1)
	h.flush(t)

	res, err := h.enforcer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	rows, err := h.store.OverLimit(ctx, 100000, 5000)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRescanOfBannedChatDoesNotDoubleBan(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, err := h.bans.Ban(ctx, 1001)
	require.NoError(t, err)

	h.clk.Advance(time.Hour)
	h.acc.Record(1001, 200000, 1)
	h.flush(t)

	_, err = h.enforcer.RunOnce(ctx)
	require.NoError(t, err)

	status, err := h.bans.Status(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, first.UpdatedAt, status.UpdatedAt)
}

func TestManyChatsEnforcedConcurrently(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for id := int64(1); id <= 50; id++ {
		h.acc.Record(id, 100001, 1)
	}
	h.flush(t)

	res, err := h.enforcer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Banned)
	assert.Len(t, h.transport.left, 50)
}

func TestDisabledEnforcerDoesNotTick(t *testing.T) {
	h := newHarness(t)
	h.enforcer.cfg.Enabled = false

	h.enforcer.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.enforcer.Stop(ctx)
	assert.NoError(t, ctx.Err())
}

func TestEnforcerRunsOnTick(t *testing.T) {
	h := newHarness(t)

	h.acc.Record(1001, 200000, 1)
	h.flush(t)

	h.enforcer.Start()
	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clk.BlockUntilContext(waitCtx, 1))
	h.clk.Advance(20 * time.Minute)

	require.Eventually(t, func() bool {
		banned, err := h.bans.IsBanned(context.Background(), 1001)
		return err == nil && banned
	}, 2*time.Second, 10*time.Millisecond)

	h.enforcer.Stop(context.Background())
}
