package ban

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps ban records in process memory.
// Useful for tests and local development without PostgreSQL; state is
// lost on restart.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[int64]ChatBan
}

// NewMemoryRepository creates an empty in-memory ban store
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[int64]ChatBan)}
}

func (r *MemoryRepository) Get(_ context.Context, chatID int64) (*ChatBan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.records[chatID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *MemoryRepository) EnsureKnown(_ context.Context, chatID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[chatID]; !ok {
		r.records[chatID] = ChatBan{ChatID: chatID, UpdatedAt: at}
	}
	return nil
}

func (r *MemoryRepository) MarkBanned(_ context.Context, chatID int64, at time.Time) (*ChatBan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.records[chatID]
	if !ok || !b.Banned || b.CanInvite {
		b = ChatBan{ChatID: chatID, UpdatedAt: at}
	}
	b.Banned = true
	b.CanInvite = false
	r.records[chatID] = b
	return &b, nil
}

func (r *MemoryRepository) Unban(_ context.Context, chatID int64, at time.Time) (*ChatBan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := ChatBan{ChatID: chatID, CanInvite: true, UpdatedAt: at}
	r.records[chatID] = b
	return &b, nil
}

func (r *MemoryRepository) ConsumeInviteGrant(_ context.Context, chatID int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.records[chatID]
	if !ok || !b.CanInvite || b.Banned {
		return false, nil
	}
	b.CanInvite = false
	b.UpdatedAt = at
	r.records[chatID] = b
	return true, nil
}

func (r *MemoryRepository) ListBanned(_ context.Context, limit int) ([]*BannedChat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var chats []*BannedChat
	for _, b := range r.records {
		if b.Banned {
			chats = append(chats, &BannedChat{ChatID: b.ChatID, Since: b.UpdatedAt})
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].Since.Equal(chats[j].Since) {
			return chats[i].Since.After(chats[j].Since)
		}
		return chats[i].ChatID > chats[j].ChatID
	})
	if limit > 0 && len(chats) > limit {
		chats = chats[:limit]
	}
	return chats, nil
}

func (r *MemoryRepository) CountBanned(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, b := range r.records {
		if b.Banned {
			count++
		}
	}
	return count, nil
}
