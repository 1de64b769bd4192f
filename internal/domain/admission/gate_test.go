package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwork/chat-governor/internal/domain/ban"
	"github.com/mwork/chat-governor/internal/domain/removal"
	"github.com/mwork/chat-governor/internal/pkg/notice"
)

const operatorID int64 = 77

type fakeRemover struct {
	mu      sync.Mutex
	calls   map[int64][]string
	outcome removal.Outcome

	gate    chan struct{}
	entered chan struct{}
}

func newFakeRemover() *fakeRemover {
	return &fakeRemover{calls: make(map[int64][]string), outcome: removal.OutcomeRemoved}
}

func (f *fakeRemover) Remove(_ context.Context, chatID int64, text string) removal.Outcome {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[chatID] = append(f.calls[chatID], text)
	return f.outcome
}

func (f *fakeRemover) count(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[chatID])
}

type failingBans struct{}

func (failingBans) IsBanned(context.Context, int64) (bool, error) {
	return false, errors.New("db down")
}
func (failingBans) EnsureKnown(context.Context, int64) error { return errors.New("db down") }
func (failingBans) ConsumeInviteGrant(context.Context, int64) (bool, error) {
	return false, errors.New("db down")
}

func newTestGate() (*Gate, *ban.Service, *fakeRemover, *notice.Catalog) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC))
	bans := ban.NewService(ban.NewMemoryRepository(), clk)
	rm := newFakeRemover()
	notices := notice.New("en")
	gate := NewGate(bans, rm, notices, Config{MinPopulation: 25, OperatorIDs: []int64{operatorID}})
	return gate, bans, rm, notices
}

func TestDefaultAllow(t *testing.T) {
	ctx := context.Background()
	gate, bans, rm, _ := newTestGate()

	ok, err := gate.ShouldAutoJoin(ctx, 5005, 100)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, gate.OnInviteReceived(ctx, 5005, 1))
	require.NoError(t, gate.OnChatObserved(ctx, 5005))
	assert.Zero(t, rm.count(5005))

	// Checking admission writes nothing
	status, err := bans.Status(ctx, 5005)
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestShouldAutoJoinDenies(t *testing.T) {
	ctx := context.Background()
	gate, bans, _, _ := newTestGate()

	ok, err := gate.ShouldAutoJoin(ctx, 1, 24)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = bans.Ban(ctx, 2)
	require.NoError(t, err)
	ok, err = gate.ShouldAutoJoin(ctx, 2, 1000)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = gate.ShouldAutoJoin(ctx, 3, 25)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = gate.ShouldAutoJoin(ctx, 0, 1000)
	assert.ErrorIs(t, err, ErrInvalidChat)
}

func TestSmallChatEvictionWithoutBan(t *testing.T) {
	ctx := context.Background()
	gate, bans, rm, notices := newTestGate()

	err := gate.OnChatCreated(ctx, Chat{ID: 2002, MemberCount: 10, CreatorID: 5})
	assert.ErrorIs(t, err, ErrChatTooSmall)

	require.Equal(t, 1, rm.count(2002))
	assert.Equal(t, notices.TooFewMembers(25), rm.calls[2002][0])
	assert.False(t, gate.IsEvicting(2002))

	status, err := bans.Status(ctx, 2002)
	require.NoError(t, err)
	assert.Nil(t, status)

	// The chat grows and adds the agent again
	require.NoError(t, gate.OnChatCreated(ctx, Chat{ID: 2002, MemberCount: 30, CreatorID: 5}))
	assert.Equal(t, 1, rm.count(2002))

	status, err = bans.Status(ctx, 2002)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, ban.StateActive, status.State())
}

func TestOperatorCreatedSmallChatIsKept(t *testing.T) {
	ctx := context.Background()
	gate, bans, rm, _ := newTestGate()

	require.NoError(t, gate.OnChatCreated(ctx, Chat{ID: 4004, MemberCount: 2, CreatorID: operatorID}))
	assert.Zero(t, rm.count(4004))

	status, err := bans.Status(ctx, 4004)
	require.NoError(t, err)
	assert.NotNil(t, status)
}

func TestDuplicateSmallChatEvictionIsSuppressed(t *testing.T) {
	ctx := context.Background()
	gate, _, rm, _ := newTestGate()
	rm.gate = make(chan struct{})
	rm.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- gate.OnChatCreated(ctx, Chat{ID: 2002, MemberCount: 3}) }()
	<-rm.entered

	assert.True(t, gate.IsEvicting(2002))
	err := gate.OnChatCreated(ctx, Chat{ID: 2002, MemberCount: 3})
	assert.ErrorIs(t, err, ErrChatTooSmall)

	close(rm.gate)
	assert.ErrorIs(t, <-done, ErrChatTooSmall)
	assert.Equal(t, 1, rm.count(2002))
	assert.False(t, gate.IsEvicting(2002))
}

func TestSmallChatRemovalFailure(t *testing.T) {
	gate, _, rm, _ := newTestGate()
	rm.outcome = removal.OutcomePermanentFailure

	err := gate.OnChatCreated(context.Background(), Chat{ID: 2002, MemberCount: 3})
	assert.ErrorIs(t, err, ErrRemovalFailed)
	assert.False(t, gate.IsEvicting(2002))
}

func TestOneShotInviteGrant(t *testing.T) {
	ctx := context.Background()
	gate, bans, rm, notices := newTestGate()

	_, err := bans.Ban(ctx, 3003)
	require.NoError(t, err)

	err = gate.OnInviteReceived(ctx, 3003, 9)
	assert.ErrorIs(t, err, ErrChatBanned)
	require.Equal(t, 1, rm.count(3003))
	assert.Equal(t, notices.Banned(), rm.calls[3003][0])

	unbanned, err := bans.Unban(ctx, 3003)
	require.NoError(t, err)
	assert.Equal(t, ban.StateUnbannedGrant, unbanned.State())

	require.NoError(t, gate.OnInviteReceived(ctx, 3003, 9))
	status, err := bans.Status(ctx, 3003)
	require.NoError(t, err)
	assert.Equal(t, ban.StateActive, status.State())

	// Grant is spent; a plain record still allows
	require.NoError(t, gate.OnInviteReceived(ctx, 3003, 9))
	assert.Equal(t, 1, rm.count(3003))
}

func TestObservedBannedChatIsLeft(t *testing.T) {
	ctx := context.Background()
	gate, bans, rm, notices := newTestGate()

	_, err := bans.Ban(ctx, 1001)
	require.NoError(t, err)

	require.NoError(t, gate.OnChatObserved(ctx, 1001))
	require.Equal(t, 1, rm.count(1001))
	assert.Equal(t, notices.ActivityLimit(), rm.calls[1001][0])

	rm.outcome = removal.OutcomePermanentFailure
	assert.ErrorIs(t, gate.OnChatObserved(ctx, 1001), ErrRemovalFailed)
}

func TestMalformedEventsAreRejected(t *testing.T) {
	ctx := context.Background()
	gate, _, rm, _ := newTestGate()

	assert.ErrorIs(t, gate.OnInviteReceived(ctx, 0, 9), ErrInvalidChat)
	assert.ErrorIs(t, gate.OnChatObserved(ctx, 0), ErrInvalidChat)
	assert.ErrorIs(t, gate.OnChatCreated(ctx, Chat{}), ErrInvalidChat)
	assert.Empty(t, rm.calls)
}

func TestStoreErrorsReachCaller(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(failingBans{}, newFakeRemover(), notice.New("en"), Config{MinPopulation: 25})

	_, err := gate.ShouldAutoJoin(ctx, 1, 100)
	assert.Error(t, err)
	assert.Error(t, gate.OnInviteReceived(ctx, 1, 2))
	assert.Error(t, gate.OnChatCreated(ctx, Chat{ID: 1, MemberCount: 100}))
}

func TestKickIsNoop(t *testing.T) {
	gate, bans, rm, _ := newTestGate()

	gate.OnKicked(context.Background(), 1001, 42)

	status, err := bans.Status(context.Background(), 1001)
	require.NoError(t, err)
	assert.Nil(t, status)
	assert.Empty(t, rm.calls)
}
