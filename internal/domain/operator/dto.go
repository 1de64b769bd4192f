package operator

import (
	"time"

	"github.com/mwork/chat-governor/internal/domain/activity"
	"github.com/mwork/chat-governor/internal/domain/ban"
)

// BanRequest for POST /chats/{id}/ban
type BanRequest struct {
	Leave bool `json:"leave"`
}

// ListQuery for GET /chats/banned
type ListQuery struct {
	Limit int `json:"limit" validate:"gte=0,lte=500"`
}

// AdmissionQuery for GET /chats/{id}/admission
type AdmissionQuery struct {
	Members int `json:"members" validate:"gte=0"`
}

// ChatResponse is the operator view of one chat
type ChatResponse struct {
	ChatID      int64                  `json:"chat_id"`
	State       string                 `json:"state"`
	Banned      bool                   `json:"banned"`
	CanInvite   bool                   `json:"can_invite"`
	LastUpdated *string                `json:"last_updated,omitempty"`
	Today       *activity.DailyCounter `json:"today,omitempty"`
	Pending     *activity.Counter      `json:"pending,omitempty"`
	Removal     string                 `json:"removal,omitempty"`
}

// ChatResponseFromEntity converts a ban record, nil meaning unknown
func ChatResponseFromEntity(chatID int64, b *ban.ChatBan) *ChatResponse {
	resp := &ChatResponse{
		ChatID: chatID,
		State:  string(b.State()),
	}
	if b != nil {
		resp.Banned = b.Banned
		resp.CanInvite = b.CanInvite
		s := b.UpdatedAt.UTC().Format(time.RFC3339)
		resp.LastUpdated = &s
	}
	return resp
}

// BannedChatResponse is one row of the ban list
type BannedChatResponse struct {
	ChatID int64  `json:"chat_id"`
	Since  string `json:"since"`
}

func BannedChatResponseFromEntity(b *ban.BannedChat) *BannedChatResponse {
	return &BannedChatResponse{
		ChatID: b.ChatID,
		Since:  b.Since.UTC().Format(time.RFC3339),
	}
}

// AdmissionResponse for GET /chats/{id}/admission
type AdmissionResponse struct {
	ChatID  int64 `json:"chat_id"`
	Members int   `json:"members"`
	Allowed bool  `json:"allowed"`
}
