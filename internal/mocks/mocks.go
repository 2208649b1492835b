package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
	"chat-engine/internal/services"
)

type SessionRepositoryMock struct {
	mock.Mock
}

func (m *SessionRepositoryMock) FindSessionsByParticipant(ctx context.Context, userID string) ([]models.ChatSession, error) {
	args := m.Called(ctx, userID)
	var list []models.ChatSession
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSession)
	}
	return list, args.Error(1)
}

func (m *SessionRepositoryMock) FindSessionByExactParticipants(ctx context.Context, userIDs []string) (models.ChatSession, error) {
	args := m.Called(ctx, userIDs)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) CreateSession(ctx context.Context, session models.ChatSession) (models.ChatSession, bool, error) {
	args := m.Called(ctx, session)
	var stored models.ChatSession
	if val := args.Get(0); val != nil {
		stored = val.(models.ChatSession)
	}
	return stored, args.Bool(1), args.Error(2)
}

func (m *SessionRepositoryMock) GetSession(ctx context.Context, sessionID string) (models.ChatSession, error) {
	args := m.Called(ctx, sessionID)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) UpdateParticipants(ctx context.Context, sessionID string, participants []string, version int) (models.ChatSession, error) {
	args := m.Called(ctx, sessionID, participants, version)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) TombstoneSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *SessionRepositoryMock) DeleteSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *SessionRepositoryMock) ListTombstoned(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(ctx, limit)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *SessionRepositoryMock) ResolveSessions(ctx context.Context, sessions []models.ChatSession) ([]models.SessionView, error) {
	args := m.Called(ctx, sessions)
	var views []models.SessionView
	if val := args.Get(0); val != nil {
		views = val.([]models.SessionView)
	}
	return views, args.Error(1)
}

func (m *SessionRepositoryMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, sessionID string, senderID string, text string) (models.MessageView, error) {
	args := m.Called(ctx, sessionID, senderID, text)
	var msg models.MessageView
	if val := args.Get(0); val != nil {
		msg = val.(models.MessageView)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, sessionID string) ([]models.MessageView, error) {
	args := m.Called(ctx, sessionID)
	var msgs []models.MessageView
	if val := args.Get(0); val != nil {
		msgs = val.([]models.MessageView)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) DeleteMessages(ctx context.Context, sessionID string) (int64, error) {
	args := m.Called(ctx, sessionID)
	var count int64
	if val := args.Get(0); val != nil {
		count = val.(int64)
	}
	return count, args.Error(1)
}

// NotifierMock records fan-out calls. Use AllowAll when a test only inspects some of them.
type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) PublishToSession(sessionID string, event models.ChatEvent) {
	m.Called(sessionID, event)
}

func (m *NotifierMock) PublishToUser(userID string, event models.ChatEvent) {
	m.Called(userID, event)
}

func (m *NotifierMock) SubscribeUser(userID, sessionID string) {
	m.Called(userID, sessionID)
}

func (m *NotifierMock) UnsubscribeUser(userID, sessionID string) {
	m.Called(userID, sessionID)
}

func (m *NotifierMock) DropSession(sessionID string) {
	m.Called(sessionID)
}

// AllowAll accepts any notifier call.
func (m *NotifierMock) AllowAll() *NotifierMock {
	m.On("PublishToSession", mock.Anything, mock.Anything).Maybe()
	m.On("PublishToUser", mock.Anything, mock.Anything).Maybe()
	m.On("SubscribeUser", mock.Anything, mock.Anything).Maybe()
	m.On("UnsubscribeUser", mock.Anything, mock.Anything).Maybe()
	m.On("DropSession", mock.Anything).Maybe()
	return m
}

// EventsTo returns the events published to the session channel, in call order.
func (m *NotifierMock) EventsTo(sessionID string) []models.ChatEvent {
	return m.collect("PublishToSession", sessionID)
}

// EventsFor returns the events sent directly to userID, in call order.
func (m *NotifierMock) EventsFor(userID string) []models.ChatEvent {
	return m.collect("PublishToUser", userID)
}

func (m *NotifierMock) collect(method, target string) []models.ChatEvent {
	var events []models.ChatEvent
	for _, call := range m.Calls {
		if call.Method == method && call.Arguments.String(0) == target {
			events = append(events, call.Arguments.Get(1).(models.ChatEvent))
		}
	}
	return events
}

var (
	_ repositories.SessionRepository = (*SessionRepositoryMock)(nil)
	_ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
	_ services.Notifier              = (*NotifierMock)(nil)
)
