package removal

import (
	"context"
	"errors"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Outcome classifies a removal attempt
type Outcome int

const (
	OutcomeRemoved Outcome = iota
	OutcomeAlreadyGone
	OutcomePermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRemoved:
		return "removed"
	case OutcomeAlreadyGone:
		return "already_gone"
	default:
		return "permanent_failure"
	}
}

// Succeeded reports whether the agent is out of the chat
func (o Outcome) Succeeded() bool {
	return o == OutcomeRemoved || o == OutcomeAlreadyGone
}

// Remover sends a notice and leaves a chat. Calls for the same chat that
// overlap share one in-flight attempt; the first caller's notice is used.
type Remover struct {
	transport Transport
	limiter   *rate.Limiter
	group     singleflight.Group
}

// NewRemover creates a remover. A non-positive rate disables pacing.
func NewRemover(transport Transport, perSecond float64, burst int) *Remover {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Remover{
		transport: transport,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

// Remove takes the agent out of a chat
func (r *Remover) Remove(ctx context.Context, chatID int64, notice string) Outcome {
	v, _, shared := r.group.Do(strconv.FormatInt(chatID, 10), func() (interface{}, error) {
		return r.remove(ctx, chatID, notice), nil
	})

	outcome := v.(Outcome)
	if shared {
		log.Debug().Int64("chat_id", chatID).Str("outcome", outcome.String()).Msg("Shared in-flight removal")
	}
	return outcome
}

func (r *Remover) remove(ctx context.Context, chatID int64, notice string) Outcome {
	if err := r.limiter.Wait(ctx); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("Removal not attempted")
		return OutcomePermanentFailure
	}

	if notice != "" {
		if err := r.transport.SendNotice(ctx, chatID, notice); err != nil {
			log.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send removal notice")
		}
	}

	err := r.transport.LeaveChat(ctx, chatID)
	switch {
	case err == nil:
		log.Info().Int64("chat_id", chatID).Msg("Left chat")
		return OutcomeRemoved
	case errors.Is(err, ErrAlreadyGone):
		log.Info().Int64("chat_id", chatID).Msg("Chat already left")
		return OutcomeAlreadyGone
	default:
		log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to leave chat")
		return OutcomePermanentFailure
	}
}
