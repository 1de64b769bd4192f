package discord

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogTransport stands in for the bot when no token is configured
type LogTransport struct{}

func (LogTransport) SendNotice(_ context.Context, chatID int64, text string) error {
	log.Info().Int64("chat_id", chatID).Str("text", text).Msg("Notice (transport disabled)")
	return nil
}

func (LogTransport) LeaveChat(_ context.Context, chatID int64) error {
	log.Info().Int64("chat_id", chatID).Msg("Leave chat (transport disabled)")
	return nil
}
