package ban

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Repository defines ban store data access
type Repository interface {
	Get(ctx context.Context, chatID int64) (*ChatBan, error)
	EnsureKnown(ctx context.Context, chatID int64, at time.Time) error
	MarkBanned(ctx context.Context, chatID int64, at time.Time) (*ChatBan, error)
	Unban(ctx context.Context, chatID int64, at time.Time) (*ChatBan, error)
	ConsumeInviteGrant(ctx context.Context, chatID int64, at time.Time) (bool, error)
	ListBanned(ctx context.Context, limit int) ([]*BannedChat, error)
	CountBanned(ctx context.Context) (int, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new ban repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Get(ctx context.Context, chatID int64) (*ChatBan, error) {
	query := `SELECT chat_id, banned, can_invite, updated_at FROM chat_bans WHERE chat_id = $1`
	var b ChatBan
	err := r.db.GetContext(ctx, &b, query, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat ban %d: %w", chatID, err)
	}
	return &b, nil
}

func (r *repository) EnsureKnown(ctx context.Context, chatID int64, at time.Time) error {
	query := `
		INSERT INTO chat_bans (chat_id, banned, can_invite, updated_at)
		VALUES ($1, FALSE, FALSE, $2)
		ON CONFLICT (chat_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, chatID, at); err != nil {
		return fmt.Errorf("ensure chat %d: %w", chatID, err)
	}
	return nil
}

// MarkBanned keeps the original ban time when the chat is already banned,
// so banning twice leaves an identical record.
func (r *repository) MarkBanned(ctx context.Context, chatID int64, at time.Time) (*ChatBan, error) {
	query := `
		INSERT INTO chat_bans (chat_id, banned, can_invite, updated_at)
		VALUES ($1, TRUE, FALSE, $2)
		ON CONFLICT (chat_id) DO UPDATE SET
			banned = TRUE,
			can_invite = FALSE,
			updated_at = CASE
				WHEN chat_bans.banned AND NOT chat_bans.can_invite THEN chat_bans.updated_at
				ELSE EXCLUDED.updated_at
			END
		RETURNING chat_id, banned, can_invite, updated_at
	`
	var b ChatBan
	if err := r.db.GetContext(ctx, &b, query, chatID, at); err != nil {
		return nil, fmt.Errorf("ban chat %d: %w", chatID, err)
	}
	return &b, nil
}

func (r *repository) Unban(ctx context.Context, chatID int64, at time.Time) (*ChatBan, error) {
	query := `
		INSERT INTO chat_bans (chat_id, banned, can_invite, updated_at)
		VALUES ($1, FALSE, TRUE, $2)
		ON CONFLICT (chat_id) DO UPDATE SET
			banned = FALSE,
			can_invite = TRUE,
			updated_at = EXCLUDED.updated_at
		RETURNING chat_id, banned, can_invite, updated_at
	`
	var b ChatBan
	if err := r.db.GetContext(ctx, &b, query, chatID, at); err != nil {
		return nil, fmt.Errorf("unban chat %d: %w", chatID, err)
	}
	return &b, nil
}

// ConsumeInviteGrant clears a pending grant; it reports whether one existed.
// The conditional update makes concurrent consumers race for a single row.
func (r *repository) ConsumeInviteGrant(ctx context.Context, chatID int64, at time.Time) (bool, error) {
	query := `
		UPDATE chat_bans
		SET can_invite = FALSE, updated_at = $2
		WHERE chat_id = $1 AND can_invite AND NOT banned
	`
	result, err := r.db.ExecContext(ctx, query, chatID, at)
	if err != nil {
		return false, fmt.Errorf("consume invite grant %d: %w", chatID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *repository) ListBanned(ctx context.Context, limit int) ([]*BannedChat, error) {
	query := `
		SELECT chat_id, updated_at FROM chat_bans
		WHERE banned
		ORDER BY updated_at DESC, chat_id DESC
		LIMIT $1
	`
	var chats []*BannedChat
	if err := r.db.SelectContext(ctx, &chats, query, limit); err != nil {
		return nil, fmt.Errorf("list banned chats: %w", err)
	}
	return chats, nil
}

func (r *repository) CountBanned(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chat_bans WHERE banned`); err != nil {
		return 0, fmt.Errorf("count banned chats: %w", err)
	}
	return count, nil
}
