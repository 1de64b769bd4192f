package admission

import "errors"

var (
	ErrInvalidChat   = errors.New("invalid chat event")
	ErrChatBanned    = errors.New("chat is banned")
	ErrChatTooSmall  = errors.New("chat has too few members")
	ErrRemovalFailed = errors.New("failed to leave chat")
)
