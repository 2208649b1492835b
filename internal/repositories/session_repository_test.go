package repositories

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/models"
)

var sessionCols = []string{"id", "participants", "is_group", "group_name", "group_admin", "pair_key", "version", "created_at", "updated_at"}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return sqlx.NewDb(raw, "postgres"), mock
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, "a:b", PairKey([]string{"b", "a"}))
	assert.Equal(t, PairKey([]string{"x", "y"}), PairKey([]string{"y", "x"}))
}

func TestSessionRepo_CreateSessionInserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db)
	now := time.Now()
	key := "a:b"

	mock.ExpectQuery(`INSERT INTO chat_sessions`).
		WithArgs("s1", sqlmock.AnyArg(), false, nil, nil, &key).
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow("s1", "{a,b}", false, nil, nil, key, 1, now, now))

	session, created, err := repo.CreateSession(context.Background(), models.ChatSession{
		ID:           "s1",
		Participants: pq.StringArray{"a", "b"},
		PairKey:      &key,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"a", "b"}, []string(session.Participants))
	assert.Equal(t, 1, session.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_CreateSessionReturnsExistingPair(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db)
	now := time.Now()
	key := "a:b"

	mock.ExpectQuery(`INSERT INTO chat_sessions`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT .* FROM chat_sessions WHERE pair_key=\$1`).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow("existing", "{a,b}", false, nil, nil, key, 3, now, now))

	session, created, err := repo.CreateSession(context.Background(), models.ChatSession{
		ID:           "s2",
		Participants: pq.StringArray{"b", "a"},
		PairKey:      &key,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "existing", session.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_GetSessionNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db)

	mock.ExpectQuery(`SELECT .* FROM chat_sessions WHERE id=\$1 AND deleted_at IS NULL`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(sessionCols))

	_, err := repo.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_UpdateParticipantsVersionConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db)
	now := time.Now()

	mock.ExpectQuery(`UPDATE chat_sessions`).
		WithArgs("s1", sqlmock.AnyArg(), 2).
		WillReturnRows(sqlmock.NewRows(sessionCols))
	mock.ExpectQuery(`SELECT .* FROM chat_sessions WHERE id=\$1`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow("s1", "{a,b,c}", true, "Team", "a", nil, 3, now, now))

	_, err := repo.UpdateParticipants(context.Background(), "s1", []string{"a", "b"}, 2)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_UpdateParticipantsMissingSession(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db)

	mock.ExpectQuery(`UPDATE chat_sessions`).WillReturnRows(sqlmock.NewRows(sessionCols))
	mock.ExpectQuery(`SELECT .* FROM chat_sessions WHERE id=\$1`).WillReturnRows(sqlmock.NewRows(sessionCols))

	_, err := repo.UpdateParticipants(context.Background(), "gone", []string{"a"}, 1)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionRepo_TombstoneSession(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db)

	mock.ExpectExec(`UPDATE chat_sessions SET deleted_at = NOW\(\), pair_key = NULL`).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE chat_sessions SET deleted_at`).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.TombstoneSession(context.Background(), "s1"))
	assert.ErrorIs(t, repo.TombstoneSession(context.Background(), "s1"), ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_ResolveSessionsJoinsUsersOnce(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db)
	admin := "a"
	name := "Team"

	mock.ExpectQuery(`SELECT id, name, profile_image_url FROM users WHERE id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "profile_image_url"}).
			AddRow("a", "Alice", "a.png").
			AddRow("b", "Bob", ""))

	views, err := repo.ResolveSessions(context.Background(), []models.ChatSession{
		{ID: "g1", Participants: pq.StringArray{"a", "b", "c"}, IsGroup: true, GroupName: &name, GroupAdmin: &admin},
		{ID: "p1", Participants: pq.StringArray{"a", "b"}},
	})
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, "Team", views[0].GroupName)
	require.NotNil(t, views[0].GroupAdmin)
	assert.Equal(t, "Alice", views[0].GroupAdmin.Name)
	assert.Equal(t, models.UserSummary{ID: "c"}, views[0].Participants[2])
	assert.Nil(t, views[1].GroupAdmin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_ResolveSessionsEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	views, err := NewSessionRepo(db).ResolveSessions(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, views)
	assert.NoError(t, mock.ExpectationsWereMet())
}
