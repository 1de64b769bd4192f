package ban

import "errors"

var (
	ErrInvalidChatID = errors.New("invalid chat id")
)
