package ban

import "time"

// State is the governor's view of a chat, derived from its ban record
type State string

const (
	StateUnknown       State = "unknown"
	StateActive        State = "active"
	StateBanned        State = "banned"
	StateUnbannedGrant State = "unbanned_grant"
)

// ChatBan is the durable ban/invite state of one chat
type ChatBan struct {
	ChatID    int64     `db:"chat_id" json:"chat_id"`
	Banned    bool      `db:"banned" json:"banned"`
	CanInvite bool      `db:"can_invite" json:"can_invite"`
	UpdatedAt time.Time `db:"updated_at" json:"last_updated"`
}

// State derives the state machine position from the record
func (b *ChatBan) State() State {
	switch {
	case b == nil:
		return StateUnknown
	case b.Banned:
		return StateBanned
	case b.CanInvite:
		return StateUnbannedGrant
	default:
		return StateActive
	}
}

// BannedChat is one row of the operator ban list
type BannedChat struct {
	ChatID int64     `db:"chat_id" json:"chat_id"`
	Since  time.Time `db:"updated_at" json:"since"`
}
