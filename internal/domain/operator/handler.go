package operator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/mwork/chat-governor/internal/domain/activity"
	"github.com/mwork/chat-governor/internal/domain/ban"
	"github.com/mwork/chat-governor/internal/domain/removal"
	"github.com/mwork/chat-governor/internal/pkg/logger"
	"github.com/mwork/chat-governor/internal/pkg/response"
	"github.com/mwork/chat-governor/internal/pkg/validator"
)

// BanService is the ban state the operator surface reads and changes
type BanService interface {
	Status(ctx context.Context, chatID int64) (*ban.ChatBan, error)
	Ban(ctx context.Context, chatID int64) (*ban.ChatBan, error)
	Unban(ctx context.Context, chatID int64) (*ban.ChatBan, error)
	ListBanned(ctx context.Context, limit int) ([]*ban.BannedChat, int, error)
}

// Admission answers auto-join questions
type Admission interface {
	ShouldAutoJoin(ctx context.Context, chatID int64, members int) (bool, error)
}

// Remover takes the agent out of a chat
type Remover interface {
	Remove(ctx context.Context, chatID int64, notice string) removal.Outcome
}

// PendingReader exposes not yet flushed activity
type PendingReader interface {
	Pending(chatID int64) activity.Counter
}

// Notices renders the text sent when an operator ban also leaves the chat
type Notices interface {
	Banned() string
}

// Handler handles operator HTTP requests
type Handler struct {
	bans    BanService
	gate    Admission
	remover Remover
	notices Notices
	stats   activity.Store
	pending PendingReader
	clock   clockwork.Clock
}

// NewHandler creates operator handler
func NewHandler(bans BanService, gate Admission, remover Remover, notices Notices, stats activity.Store, pending PendingReader, clk clockwork.Clock) *Handler {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Handler{
		bans:    bans,
		gate:    gate,
		remover: remover,
		notices: notices,
		stats:   stats,
		pending: pending,
		clock:   clk,
	}
}

// ListBanned handles GET /chats/banned
func (h *Handler) ListBanned(w http.ResponseWriter, r *http.Request) {
	query := ListQuery{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(w, "Invalid limit")
			return
		}
		query.Limit = limit
	}
	if errs := validator.Validate(&query); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	chats, total, err := h.bans.ListBanned(r.Context(), query.Limit)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("Failed to list banned chats")
		response.InternalError(w)
		return
	}

	items := make([]*BannedChatResponse, len(chats))
	for i, c := range chats {
		items[i] = BannedChatResponseFromEntity(c)
	}

	response.WithMeta(w, items, response.Meta{
		Total:   total,
		Page:    1,
		Limit:   len(items),
		Pages:   1,
		HasNext: total > len(items),
	})
}

// Get handles GET /chats/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	chatID, ok := parseChatID(w, r)
	if !ok {
		return
	}

	b, err := h.bans.Status(r.Context(), chatID)
	if err != nil {
		h.writeBanError(w, r, err)
		return
	}

	resp := ChatResponseFromEntity(chatID, b)
	h.attachActivity(r.Context(), resp)
	response.OK(w, resp)
}

// Admission handles GET /chats/{id}/admission
func (h *Handler) Admission(w http.ResponseWriter, r *http.Request) {
	chatID, ok := parseChatID(w, r)
	if !ok {
		return
	}

	members, err := strconv.Atoi(r.URL.Query().Get("members"))
	if err != nil {
		response.BadRequest(w, "Invalid members")
		return
	}
	query := AdmissionQuery{Members: members}
	if errs := validator.Validate(&query); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	allowed, err := h.gate.ShouldAutoJoin(r.Context(), chatID, query.Members)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Int64("chat_id", chatID).Msg("Admission check failed")
		response.InternalError(w)
		return
	}

	response.OK(w, &AdmissionResponse{ChatID: chatID, Members: query.Members, Allowed: allowed})
}

// Ban handles POST /chats/{id}/ban
func (h *Handler) Ban(w http.ResponseWriter, r *http.Request) {
	chatID, ok := parseChatID(w, r)
	if !ok {
		return
	}

	var req BanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	b, err := h.bans.Ban(r.Context(), chatID)
	if err != nil {
		h.writeBanError(w, r, err)
		return
	}

	resp := ChatResponseFromEntity(chatID, b)
	if req.Leave {
		resp.Removal = h.remover.Remove(r.Context(), chatID, h.notices.Banned()).String()
	}

	logger.FromContext(r.Context()).Info().
		Int64("chat_id", chatID).
		Bool("leave", req.Leave).
		Msg("Operator banned chat")
	response.OK(w, resp)
}

// Unban handles POST /chats/{id}/unban
func (h *Handler) Unban(w http.ResponseWriter, r *http.Request) {
	chatID, ok := parseChatID(w, r)
	if !ok {
		return
	}

	b, err := h.bans.Unban(r.Context(), chatID)
	if err != nil {
		h.writeBanError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info().Int64("chat_id", chatID).Msg("Operator unbanned chat")
	response.OK(w, ChatResponseFromEntity(chatID, b))
}

func (h *Handler) attachActivity(ctx context.Context, resp *ChatResponse) {
	if h.stats != nil {
		today, err := h.stats.Get(ctx, resp.ChatID, h.clock.Now())
		if err != nil {
			logger.FromContext(ctx).Warn().Err(err).Int64("chat_id", resp.ChatID).Msg("Daily activity unavailable")
		} else {
			resp.Today = &today
		}
	}
	if h.pending != nil {
		pending := h.pending.Pending(resp.ChatID)
		resp.Pending = &pending
	}
}

func (h *Handler) writeBanError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ban.ErrInvalidChatID) {
		response.BadRequest(w, "Invalid chat id")
		return
	}
	logger.FromContext(r.Context()).Error().Err(err).Msg("Ban store request failed")
	response.InternalError(w)
}

func parseChatID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || chatID == 0 {
		response.BadRequest(w, "Invalid chat id")
		return 0, false
	}
	return chatID, true
}
