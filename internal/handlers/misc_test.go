package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/apperrors"
	"chat-engine/internal/meet"
	"chat-engine/internal/mocks"
	"chat-engine/internal/telemetry"
)

type staticPresence []string

func (p staticPresence) Snapshot() []string { return p }

func (p staticPresence) IsOnline(userID string) bool {
	for _, id := range p {
		if id == userID {
			return true
		}
	}
	return false
}

type issuerFunc func(ctx context.Context, userID, roomName string) (meet.Room, error)

func (f issuerFunc) CreateRoom(ctx context.Context, userID, roomName string) (meet.Room, error) {
	return f(ctx, userID, roomName)
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	return r
}

func TestPresenceSnapshot(t *testing.T) {
	r := newTestRouter()
	r.GET("/api/presence", NewPresenceHandler(staticPresence{"A", "B"}).Snapshot)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/presence", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active_users":["A","B"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/presence?user_id=C", nil))
	assert.JSONEq(t, `{"user_id":"C","online":false}`, rec.Body.String())
}

func TestMeetCreate(t *testing.T) {
	r := newTestRouter()
	r.POST("/api/meet/create", NewMeetHandler(issuerFunc(func(_ context.Context, userID, roomName string) (meet.Room, error) {
		assert.Equal(t, "u1", userID)
		if roomName == "broken" {
			return meet.Room{}, apperrors.Server(assert.AnError)
		}
		return meet.Room{RoomName: roomName, Token: "tok", Domain: "meet.jit.si"}, nil
	})).Create)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/meet/create", strings.NewReader(`{"roomName":"standup"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"roomName":"standup","token":"tok","domain":"meet.jit.si"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/meet/create", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/meet/create", strings.NewReader(`{"roomName":"broken"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestMeetCreateNotConfigured(t *testing.T) {
	r := newTestRouter()
	r.POST("/api/meet/create", NewMeetHandler(nil).Create)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/meet/create", strings.NewReader(`{"roomName":"x"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDebugAuditRoute(t *testing.T) {
	publisher := &mocks.PublisherMock{}
	publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.UserID == "u1" && env.RequestID == "req-1" && env.Payload.Action == "debug.audit_test"
	})).Return(nil).Once()

	r := newTestRouter()
	RegisterDebugRoutes(r, telemetry.NewAuditEmitter(publisher, "audit.chat", "chat-engine", "test"), true)

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-1", resp["request_id"])
	publisher.AssertExpectations(t)
}

func TestDebugRoutesDisabled(t *testing.T) {
	r := newTestRouter()
	RegisterDebugRoutes(r, nil, false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
