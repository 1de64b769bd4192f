package removal

import (
	"context"
	"errors"
)

// ErrAlreadyGone is returned by a Transport when the agent is no longer in the chat
var ErrAlreadyGone = errors.New("agent is not in the chat")

// Transport is the messaging side effect used to leave chats
type Transport interface {
	SendNotice(ctx context.Context, chatID int64, text string) error
	LeaveChat(ctx context.Context, chatID int64) error
}
