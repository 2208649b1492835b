package services_test

import (
	"context"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/apperrors"
	"chat-engine/internal/mocks"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
	"chat-engine/internal/services"
	"chat-engine/internal/telemetry"
)

type fixture struct {
	store       *repositories.MemoryStore
	notifier    *mocks.NotifierMock
	membership  *services.MembershipManager
	broadcaster *services.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repositories.NewMemoryStore()
	for _, u := range []string{"A", "B", "C", "D"} {
		store.PutUser(models.UserSummary{ID: u, Name: "user " + u})
	}
	notifier := (&mocks.NotifierMock{}).AllowAll()
	membership := services.NewMembershipManager(store, store, notifier, services.MembershipOptions{
		MaxRetries: 3,
		ClientURL:  "https://app.example.com/",
	})
	return &fixture{
		store:       store,
		notifier:    notifier,
		membership:  membership,
		broadcaster: services.NewBroadcaster(membership, store, notifier),
	}
}

func participantIDs(view models.SessionView) []string {
	ids := make([]string, 0, len(view.Participants))
	for _, p := range view.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestCreateSession_PrivateDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.membership.CreateSession(ctx, "A", []string{"B"}, false, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"B", "A"}, participantIDs(first))

	second, created, err := f.membership.CreateSession(ctx, "B", []string{"A"}, false, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	sessions, err := f.membership.ListSessions(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	assert.Len(t, f.notifier.EventsFor("B"), 1)
	assert.Empty(t, f.notifier.EventsFor("A"))
}

func TestCreateSession_PrivateDedupConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			requester, other := "A", "B"
			if i%2 == 1 {
				requester, other = "B", "A"
			}
			view, _, err := f.membership.CreateSession(ctx, requester, []string{other}, false, "")
			assert.NoError(t, err)
			ids[i] = view.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestCreateSession_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.membership.CreateSession(ctx, "A", []string{"B", "C"}, true, "  ")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, _, err = f.membership.CreateSession(ctx, "A", []string{"B", "C"}, false, "")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, _, err = f.membership.CreateSession(ctx, "A", []string{"A", " "}, false, "")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestCreateSession_GroupAdminIsRequester(t *testing.T) {
	f := newFixture(t)

	view, created, err := f.membership.CreateSession(context.Background(), "A", []string{"B", "C", "B"}, true, "Team")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Team", view.GroupName)
	require.NotNil(t, view.GroupAdmin)
	assert.Equal(t, "A", view.GroupAdmin.ID)
	assert.Equal(t, []string{"B", "C", "A"}, participantIDs(view))

	f.notifier.AssertCalled(t, "SubscribeUser", "C", view.ID)
	assert.Equal(t, models.EventSessionInvite, f.notifier.EventsFor("C")[0].Type)
}

func TestTeamScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	team, _, err := f.membership.CreateSession(ctx, "A", []string{"B", "C"}, true, "Team")
	require.NoError(t, err)

	_, err = f.membership.AddParticipants(ctx, "B", team.ID, []string{"D"})
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	updated, err := f.membership.AddParticipants(ctx, "A", team.ID, []string{"D"})
	require.NoError(t, err)
	assert.Len(t, updated.Participants, 4)
	f.notifier.AssertCalled(t, "SubscribeUser", "D", team.ID)
	assert.Equal(t, models.EventSessionInvite, f.notifier.EventsFor("D")[0].Type)

	before, err := f.store.GetSession(ctx, team.ID)
	require.NoError(t, err)
	_, err = f.membership.RemoveParticipant(ctx, "A", team.ID, "A")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	after, err := f.store.GetSession(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Participants, after.Participants)
	assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, after.Participants)

	result, err := f.membership.RemoveParticipant(ctx, "A", team.ID, "D")
	require.NoError(t, err)
	assert.False(t, result.Deleted)
	require.NotNil(t, result.Session)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, participantIDs(*result.Session))
	f.notifier.AssertCalled(t, "UnsubscribeUser", "D", team.ID)

	channel := f.notifier.EventsTo(team.ID)
	require.Len(t, channel, 2)
	assert.Equal(t, models.EventParticipantsAdded, channel[0].Type)
	assert.Equal(t, models.EventParticipantRemoved, channel[1].Type)
	assert.Equal(t, "D", channel[1].UserID)
}

func TestAddParticipants_DuplicateOnlyRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	team, _, err := f.membership.CreateSession(ctx, "A", []string{"B"}, true, "Team")
	require.NoError(t, err)

	_, err = f.membership.AddParticipants(ctx, "A", team.ID, []string{"B", "A", ""})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	stored, err := f.store.GetSession(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
	assert.Empty(t, f.notifier.EventsTo(team.ID))
}

func TestAddParticipants_PrivateRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, _, err := f.membership.CreateSession(ctx, "A", []string{"B"}, false, "")
	require.NoError(t, err)

	_, err = f.membership.AddParticipants(ctx, "A", pair.ID, []string{"C"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.membership.AddParticipants(ctx, "C", pair.ID, []string{"D"})
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	_, err = f.membership.AddParticipants(ctx, "A", "missing", []string{"D"})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestRemoveParticipant_PrivateCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, _, err := f.membership.CreateSession(ctx, "A", []string{"B"}, false, "")
	require.NoError(t, err)
	_, err = f.broadcaster.PostMessage(ctx, "A", pair.ID, "hello")
	require.NoError(t, err)

	result, err := f.membership.RemoveParticipant(ctx, "A", pair.ID, "B")
	require.NoError(t, err)
	assert.True(t, result.Deleted)
	assert.Nil(t, result.Session)

	_, err = f.membership.GetSession(ctx, "A", pair.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	msgs, err := f.store.ListMessages(ctx, pair.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	tombstoned, err := f.store.ListTombstoned(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tombstoned)

	channel := f.notifier.EventsTo(pair.ID)
	assert.Equal(t, models.EventSessionDeleted, channel[len(channel)-1].Type)
	f.notifier.AssertCalled(t, "DropSession", pair.ID)

	// The pair can start over with a fresh session.
	again, created, err := f.membership.CreateSession(ctx, "B", []string{"A"}, false, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, pair.ID, again.ID)
}

func TestRemoveParticipant_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	team, _, err := f.membership.CreateSession(ctx, "A", []string{"B", "C"}, true, "Team")
	require.NoError(t, err)

	_, err = f.membership.RemoveParticipant(ctx, "B", team.ID, "C")
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	_, err = f.membership.RemoveParticipant(ctx, "A", team.ID, "D")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.membership.RemoveParticipant(ctx, "A", "missing", "B")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestDeleteSession_Policy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	team, _, err := f.membership.CreateSession(ctx, "A", []string{"B"}, true, "Team")
	require.NoError(t, err)

	err = f.membership.DeleteSession(ctx, "B", team.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	err = f.membership.DeleteSession(ctx, "C", team.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	require.NoError(t, f.membership.DeleteSession(ctx, "A", team.ID))
	_, err = f.membership.AuthorizeAccess(ctx, "A", team.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	pair, _, err := f.membership.CreateSession(ctx, "C", []string{"D"}, false, "")
	require.NoError(t, err)
	require.NoError(t, f.membership.DeleteSession(ctx, "D", pair.ID))
}

func TestSessionLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, _, err := f.membership.CreateSession(ctx, "A", []string{"B"}, false, "")
	require.NoError(t, err)

	link, err := f.membership.SessionLink(ctx, "A", pair.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/chat?sessionId="+pair.ID, link)

	_, err = f.membership.SessionLink(ctx, "C", pair.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))
}

func TestAddParticipants_ConflictRetriesExhausted(t *testing.T) {
	repo := &mocks.SessionRepositoryMock{}
	admin := "A"
	name := "Team"
	session := models.ChatSession{ID: "g1", Participants: []string{"A", "B"}, IsGroup: true, GroupAdmin: &admin, GroupName: &name, Version: 4}

	repo.On("GetSession", mock.Anything, "g1").Return(session, nil).Times(2)
	repo.On("UpdateParticipants", mock.Anything, "g1", []string{"A", "B", "C"}, 4).Return(nil, repositories.ErrVersionConflict).Times(2)

	notifier := &mocks.NotifierMock{}
	manager := services.NewMembershipManager(repo, &mocks.MessageRepositoryMock{}, notifier, services.MembershipOptions{MaxRetries: 2})

	_, err := manager.AddParticipants(context.Background(), "A", "g1", []string{"C"})
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))
	repo.AssertExpectations(t)
	notifier.AssertNotCalled(t, "PublishToSession", mock.Anything, mock.Anything)
}

func TestAddParticipants_RetrySucceedsAfterConflict(t *testing.T) {
	repo := &mocks.SessionRepositoryMock{}
	admin := "A"
	name := "Team"
	v1 := models.ChatSession{ID: "g1", Participants: []string{"A", "B"}, IsGroup: true, GroupAdmin: &admin, GroupName: &name, Version: 1}
	v2 := v1
	v2.Participants = []string{"A", "B", "E"}
	v2.Version = 2
	v3 := v2
	v3.Participants = []string{"A", "B", "E", "C"}
	v3.Version = 3

	repo.On("GetSession", mock.Anything, "g1").Return(v1, nil).Once()
	repo.On("UpdateParticipants", mock.Anything, "g1", []string{"A", "B", "C"}, 1).Return(nil, repositories.ErrVersionConflict).Once()
	repo.On("GetSession", mock.Anything, "g1").Return(v2, nil).Once()
	repo.On("UpdateParticipants", mock.Anything, "g1", []string{"A", "B", "E", "C"}, 2).Return(v3, nil).Once()
	repo.On("ResolveSessions", mock.Anything, []models.ChatSession{v3}).Return([]models.SessionView{{ID: "g1"}}, nil).Once()

	notifier := (&mocks.NotifierMock{}).AllowAll()
	manager := services.NewMembershipManager(repo, &mocks.MessageRepositoryMock{}, notifier, services.MembershipOptions{MaxRetries: 3})

	view, err := manager.AddParticipants(context.Background(), "A", "g1", []string{"C"})
	require.NoError(t, err)
	assert.Equal(t, "g1", view.ID)
	repo.AssertExpectations(t)
	notifier.AssertCalled(t, "SubscribeUser", "C", "g1")
}

func TestDeleteSession_FinalDeleteFailureLeavesTombstone(t *testing.T) {
	repo := &mocks.SessionRepositoryMock{}
	msgs := &mocks.MessageRepositoryMock{}
	session := models.ChatSession{ID: "p1", Participants: []string{"A", "B"}}

	repo.On("GetSession", mock.Anything, "p1").Return(session, nil).Once()
	repo.On("TombstoneSession", mock.Anything, "p1").Return(nil).Once()
	msgs.On("DeleteMessages", mock.Anything, "p1").Return(int64(3), nil).Once()
	repo.On("DeleteSession", mock.Anything, "p1").Return(assert.AnError).Times(3)

	notifier := (&mocks.NotifierMock{}).AllowAll()
	manager := services.NewMembershipManager(repo, msgs, notifier, services.MembershipOptions{
		DeleteBackOff: func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) },
	})

	require.NoError(t, manager.DeleteSession(context.Background(), "A", "p1"))
	repo.AssertExpectations(t)
	msgs.AssertExpectations(t)
	notifier.AssertCalled(t, "PublishToSession", "p1", models.SessionDeleted("p1"))
}

func TestPurgeTombstoned(t *testing.T) {
	repo := &mocks.SessionRepositoryMock{}
	msgs := &mocks.MessageRepositoryMock{}

	repo.On("ListTombstoned", mock.Anything, 50).Return([]string{"s1", "s2"}, nil).Once()
	msgs.On("DeleteMessages", mock.Anything, "s1").Return(int64(0), nil).Once()
	repo.On("DeleteSession", mock.Anything, "s1").Return(nil).Once()
	msgs.On("DeleteMessages", mock.Anything, "s2").Return(int64(0), assert.AnError).Once()

	manager := services.NewMembershipManager(repo, msgs, &mocks.NotifierMock{}, services.MembershipOptions{
		DeleteBackOff: func() backoff.BackOff { return &backoff.StopBackOff{} },
	})

	purged, err := manager.PurgeTombstoned(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	repo.AssertExpectations(t)
	msgs.AssertExpectations(t)
}

func TestStorageFailureBecomesServerError(t *testing.T) {
	repo := &mocks.SessionRepositoryMock{}
	repo.On("FindSessionsByParticipant", mock.Anything, "A").Return(nil, assert.AnError).Once()

	manager := services.NewMembershipManager(repo, &mocks.MessageRepositoryMock{}, &mocks.NotifierMock{}, services.MembershipOptions{})
	_, err := manager.ListSessions(context.Background(), "A")

	assert.True(t, apperrors.Is(err, apperrors.KindServer))
	assert.Equal(t, "internal server error", apperrors.PublicMessage(err))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCreateSession_EmitsAudit(t *testing.T) {
	store := repositories.NewMemoryStore()
	pub := &mocks.PublisherMock{}
	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Action == "session.created" && env.UserID == "A"
	})).Return(nil).Once()

	manager := services.NewMembershipManager(store, store, (&mocks.NotifierMock{}).AllowAll(), services.MembershipOptions{
		Audit: telemetry.NewAuditEmitter(pub, "audit.chat", "chat-engine", "test"),
	})

	_, _, err := manager.CreateSession(context.Background(), "A", []string{"B"}, false, "")
	require.NoError(t, err)
	pub.AssertExpectations(t)
}
