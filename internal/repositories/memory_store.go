package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-engine/internal/models"
)

type memorySession struct {
	session   models.ChatSession
	tombstone bool
}

// MemoryStore keeps sessions and messages in process memory. It backs the
// "memory" store driver and the service tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	pairs    map[string]string
	messages map[string][]models.ChatMessage
	users    map[string]models.UserSummary
	seq      int64
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		pairs:    make(map[string]string),
		messages: make(map[string][]models.ChatMessage),
		users:    make(map[string]models.UserSummary),
		now:      time.Now,
	}
}

// PutUser registers a profile used when expanding ids.
func (m *MemoryStore) PutUser(user models.UserSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (models.UserSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return models.UserSummary{}, ErrUserNotFound
	}
	return user, nil
}

func (m *MemoryStore) FindSessionsByParticipant(_ context.Context, userID string) ([]models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.ChatSession
	for _, s := range m.sessions {
		if !s.tombstone && s.session.HasParticipant(userID) {
			result = append(result, copySession(s.session))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	return result, nil
}

func (m *MemoryStore) FindSessionByExactParticipants(_ context.Context, userIDs []string) (models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := lo.Uniq(userIDs)
	for _, s := range m.sessions {
		if s.tombstone || s.session.IsGroup || len(s.session.Participants) != len(ids) {
			continue
		}
		if lo.Every(s.session.Participants, ids) {
			return copySession(s.session), nil
		}
	}
	return models.ChatSession{}, ErrSessionNotFound
}

func (m *MemoryStore) CreateSession(_ context.Context, session models.ChatSession) (models.ChatSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.PairKey != nil {
		if id, ok := m.pairs[*session.PairKey]; ok {
			return copySession(m.sessions[id].session), false, nil
		}
		m.pairs[*session.PairKey] = session.ID
	}

	now := m.now()
	session.Version = 1
	session.CreatedAt = now
	session.UpdatedAt = now
	session = copySession(session)
	m.sessions[session.ID] = &memorySession{session: session}
	return copySession(session), true, nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || s.tombstone {
		return models.ChatSession{}, ErrSessionNotFound
	}
	return copySession(s.session), nil
}

func (m *MemoryStore) UpdateParticipants(_ context.Context, sessionID string, participants []string, version int) (models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || s.tombstone {
		return models.ChatSession{}, ErrSessionNotFound
	}
	if s.session.Version != version {
		return models.ChatSession{}, ErrVersionConflict
	}
	s.session.Participants = append([]string(nil), participants...)
	s.session.Version++
	s.session.UpdatedAt = m.now()
	return copySession(s.session), nil
}

func (m *MemoryStore) TombstoneSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || s.tombstone {
		return ErrSessionNotFound
	}
	s.tombstone = true
	if s.session.PairKey != nil {
		delete(m.pairs, *s.session.PairKey)
		s.session.PairKey = nil
	}
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok && s.session.PairKey != nil {
		delete(m.pairs, *s.session.PairKey)
	}
	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	return nil
}

func (m *MemoryStore) ListTombstoned(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, s := range m.sessions {
		if s.tombstone && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) ResolveSessions(_ context.Context, sessions []models.ChatSession) ([]models.SessionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return buildViews(sessions, m.users), nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) CreateMessage(_ context.Context, sessionID string, senderID string, text string) (models.MessageView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || s.tombstone || !s.session.HasParticipant(senderID) {
		return models.MessageView{}, ErrNotParticipant
	}

	m.seq++
	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		SenderID:  senderID,
		Text:      text,
		Seq:       m.seq,
		CreatedAt: m.now(),
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return m.view(msg), nil
}

func (m *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]models.MessageView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := append([]models.ChatMessage(nil), m.messages[sessionID]...)
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].Seq < msgs[j].Seq
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return lo.Map(msgs, func(msg models.ChatMessage, _ int) models.MessageView { return m.view(msg) }), nil
}

func (m *MemoryStore) DeleteMessages(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := int64(len(m.messages[sessionID]))
	delete(m.messages, sessionID)
	return count, nil
}

func (m *MemoryStore) view(msg models.ChatMessage) models.MessageView {
	sender, ok := m.users[msg.SenderID]
	if !ok {
		sender = models.UserSummary{ID: msg.SenderID}
	}
	return models.MessageView{ID: msg.ID, SessionID: msg.SessionID, Sender: sender, Text: msg.Text, CreatedAt: msg.CreatedAt}
}

func copySession(s models.ChatSession) models.ChatSession {
	s.Participants = append([]string(nil), s.Participants...)
	return s
}

var (
	_ SessionRepository = (*MemoryStore)(nil)
	_ MessageRepository = (*MemoryStore)(nil)
	_ SessionRepository = (*SessionRepo)(nil)
	_ MessageRepository = (*MessageRepo)(nil)
	_ UserRepository    = (*MemoryStore)(nil)
	_ UserRepository    = (*UserRepo)(nil)
)
