package admission

import "sync"

// SmallChatMarks tracks chats currently being left for low population
type SmallChatMarks struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func NewSmallChatMarks() *SmallChatMarks {
	return &SmallChatMarks{ids: make(map[int64]struct{})}
}

// Add marks a chat and reports false if it was already marked
func (m *SmallChatMarks) Add(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[chatID]; ok {
		return false
	}
	m.ids[chatID] = struct{}{}
	return true
}

func (m *SmallChatMarks) Remove(chatID int64) {
	m.mu.Lock()
	delete(m.ids, chatID)
	m.mu.Unlock()
}

func (m *SmallChatMarks) Has(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[chatID]
	return ok
}

func (m *SmallChatMarks) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}
