package ban

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Service owns ban state transitions
type Service struct {
	repo  Repository
	clock clockwork.Clock
}

// NewService creates ban service
func NewService(repo Repository, clk clockwork.Clock) *Service {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Service{repo: repo, clock: clk}
}

// Status returns the chat's record, or nil when the chat is unknown
func (s *Service) Status(ctx context.Context, chatID int64) (*ChatBan, error) {
	if chatID == 0 {
		return nil, ErrInvalidChatID
	}
	return s.repo.Get(ctx, chatID)
}

// IsBanned returns false for unknown chats
func (s *Service) IsBanned(ctx context.Context, chatID int64) (bool, error) {
	b, err := s.Status(ctx, chatID)
	if err != nil {
		return false, err
	}
	return b != nil && b.Banned, nil
}

// EnsureKnown writes a baseline record for a chat seen for the first time
func (s *Service) EnsureKnown(ctx context.Context, chatID int64) error {
	if chatID == 0 {
		return ErrInvalidChatID
	}
	return s.repo.EnsureKnown(ctx, chatID, s.clock.Now().UTC())
}

// Ban moves a chat to BANNED. Banning an already banned chat is a no-op.
func (s *Service) Ban(ctx context.Context, chatID int64) (*ChatBan, error) {
	if chatID == 0 {
		return nil, ErrInvalidChatID
	}

	b, err := s.repo.MarkBanned(ctx, chatID, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}

	log.Info().Int64("chat_id", chatID).Time("since", b.UpdatedAt).Msg("Chat banned")
	return b, nil
}

// Unban lifts the ban and grants one invite
func (s *Service) Unban(ctx context.Context, chatID int64) (*ChatBan, error) {
	if chatID == 0 {
		return nil, ErrInvalidChatID
	}

	b, err := s.repo.Unban(ctx, chatID, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}

	log.Info().Int64("chat_id", chatID).Msg("Chat unbanned with invite grant")
	return b, nil
}

// ConsumeInviteGrant clears the one-shot grant and reports whether it was set
func (s *Service) ConsumeInviteGrant(ctx context.Context, chatID int64) (bool, error) {
	if chatID == 0 {
		return false, ErrInvalidChatID
	}
	return s.repo.ConsumeInviteGrant(ctx, chatID, s.clock.Now().UTC())
}

// ListBanned returns banned chats newest first with the total count
func (s *Service) ListBanned(ctx context.Context, limit int) ([]*BannedChat, int, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	chats, err := s.repo.ListBanned(ctx, limit)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.repo.CountBanned(ctx)
	if err != nil {
		return nil, 0, err
	}

	if chats == nil {
		chats = []*BannedChat{}
	}
	return chats, total, nil
}
