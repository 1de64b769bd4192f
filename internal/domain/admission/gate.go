package admission

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mwork/chat-governor/internal/domain/removal"
)

// BanStore is the slice of the ban service the gate reads and writes
type BanStore interface {
	IsBanned(ctx context.Context, chatID int64) (bool, error)
	EnsureKnown(ctx context.Context, chatID int64) error
	ConsumeInviteGrant(ctx context.Context, chatID int64) (bool, error)
}

// Remover takes the agent out of a chat
type Remover interface {
	Remove(ctx context.Context, chatID int64, notice string) removal.Outcome
}

// Notices renders the text sent before the agent leaves
type Notices interface {
	ActivityLimit() string
	TooFewMembers(minMembers int) string
	Banned() string
}

// Config holds the admission rules
type Config struct {
	MinPopulation int
	OperatorIDs   []int64
}

// Chat describes a chat the agent was just added to
type Chat struct {
	ID          int64
	MemberCount int
	CreatorID   int64
}

// Gate decides whether the agent may join or stay in a chat
type Gate struct {
	bans      BanStore
	remover   Remover
	notices   Notices
	minPop    int
	operators map[int64]struct{}
	marks     *SmallChatMarks
}

// NewGate creates an admission gate
func NewGate(bans BanStore, remover Remover, notices Notices, cfg Config) *Gate {
	operators := make(map[int64]struct{}, len(cfg.OperatorIDs))
	for _, id := range cfg.OperatorIDs {
		operators[id] = struct{}{}
	}
	return &Gate{
		bans:      bans,
		remover:   remover,
		notices:   notices,
		minPop:    cfg.MinPopulation,
		operators: operators,
		marks:     NewSmallChatMarks(),
	}
}

// ShouldAutoJoin reports whether the agent may join a chat with the given
// population. It never mutates state.
func (g *Gate) ShouldAutoJoin(ctx context.Context, chatID int64, members int) (bool, error) {
	if chatID == 0 {
		return false, ErrInvalidChat
	}
	if members < g.minPop {
		return false, nil
	}

	banned, err := g.bans.IsBanned(ctx, chatID)
	if err != nil {
		return false, err
	}
	return !banned, nil
}

// OnChatObserved leaves a chat the agent is in if the chat is banned
func (g *Gate) OnChatObserved(ctx context.Context, chatID int64) error {
	if chatID == 0 {
		log.Warn().Msg("Dropping chat observed event without chat id")
		return ErrInvalidChat
	}

	banned, err := g.bans.IsBanned(ctx, chatID)
	if err != nil {
		return err
	}
	if !banned {
		return nil
	}

	log.Info().Int64("chat_id", chatID).Msg("Observed banned chat, leaving")
	if !g.remover.Remove(ctx, chatID, g.notices.ActivityLimit()).Succeeded() {
		return ErrRemovalFailed
	}
	return nil
}

// OnChatCreated evaluates a chat the agent was just added to. Chats below
// the minimum population are left without a ban unless an operator
// created them; everything else gets a baseline record.
func (g *Gate) OnChatCreated(ctx context.Context, chat Chat) error {
	if chat.ID == 0 {
		log.Warn().Msg("Dropping chat created event without chat id")
		return ErrInvalidChat
	}

	if chat.MemberCount < g.minPop && !g.isOperator(chat.CreatorID) {
		return g.evictSmall(ctx, chat)
	}

	g.marks.Remove(chat.ID)
	return g.bans.EnsureKnown(ctx, chat.ID)
}

func (g *Gate) evictSmall(ctx context.Context, chat Chat) error {
	if !g.marks.Add(chat.ID) {
		log.Debug().Int64("chat_id", chat.ID).Msg("Small chat eviction already in progress")
		return ErrChatTooSmall
	}
	defer g.marks.Remove(chat.ID)

	log.Info().
		Int64("chat_id", chat.ID).
		Int("members", chat.MemberCount).
		Int("min_members", g.minPop).
		Msg("Leaving chat with too few members")

	if !g.remover.Remove(ctx, chat.ID, g.notices.TooFewMembers(g.minPop)).Succeeded() {
		return ErrRemovalFailed
	}
	return ErrChatTooSmall
}

// OnInviteReceived rejects invites to banned chats and spends a pending
// invite grant.
func (g *Gate) OnInviteReceived(ctx context.Context, chatID, inviterID int64) error {
	if chatID == 0 {
		log.Warn().Int64("inviter_id", inviterID).Msg("Dropping invite without chat id")
		return ErrInvalidChat
	}

	banned, err := g.bans.IsBanned(ctx, chatID)
	if err != nil {
		return err
	}
	if banned {
		log.Info().Int64("chat_id", chatID).Int64("inviter_id", inviterID).Msg("Declining invite to banned chat")
		g.remover.Remove(ctx, chatID, g.notices.Banned())
		return ErrChatBanned
	}

	granted, err := g.bans.ConsumeInviteGrant(ctx, chatID)
	if err != nil {
		return err
	}
	if granted {
		log.Info().Int64("chat_id", chatID).Int64("inviter_id", inviterID).Msg("Invite grant consumed")
	}
	return nil
}

// OnKicked is a hook for kick notifications. Nothing is recorded.
func (g *Gate) OnKicked(_ context.Context, chatID, kickedUserID int64) {
	log.Debug().Int64("chat_id", chatID).Int64("user_id", kickedUserID).Msg("Kicked from chat")
}

// IsEvicting reports whether a low-population removal is in progress
func (g *Gate) IsEvicting(chatID int64) bool {
	return g.marks.Has(chatID)
}

func (g *Gate) isOperator(userID int64) bool {
	if userID == 0 {
		return false
	}
	_, ok := g.operators[userID]
	return ok
}
