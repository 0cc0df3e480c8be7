package sprintstore

import (
	"testing"
	"time"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/apierrors"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dao"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dto"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) (*Store, *dao.Sprint) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&dao.User{}, &dao.Sprint{}, &dao.SprintStory{}, &dao.SprintMember{}, &dao.SprintActivity{}))

	user := dao.User{ID: dao.GenID(), Email: "host@example.com", FirstName: "Host"}
	require.NoError(t, db.Create(&user).Error)

	sprint := dao.Sprint{Id: dao.GenUUID(), HostId: user.ID, Name: "Planning", Status: types.SprintActive, AllowGuestAccess: true}
	require.NoError(t, db.Create(&sprint).Error)

	return NewStore(db), &sprint
}

func TestSnapshotMissingSprint(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Snapshot(dao.GenUUID())
	assert.ErrorIs(t, err, apierrors.ErrSprintNotFound)
}

func TestSubscribePublishesSnapshots(t *testing.T) {
	store, sprint := newTestStore(t)

	var snapshots []*dto.Sprint
	unsubscribe := store.SubscribeToSprint(sprint.Id, func(s *dto.Sprint) {
		snapshots = append(snapshots, s)
	})
	defer unsubscribe()

	_, err := store.AddSprintParticipant(sprint.Id, "p1", "Sam")
	require.NoError(t, err)

	require.Len(t, snapshots, 1)
	require.Len(t, snapshots[0].Participants, 1)
	assert.Equal(t, "Sam", snapshots[0].Participants[0].Name)
	assert.NotEmpty(t, snapshots[0].Participants[0].Color)

	// После отписки снимки не приходят
	unsubscribe()
	unsubscribe() // повторная отписка безопасна
	_, err = store.AddSprintParticipant(sprint.Id, "p2", "Alex")
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}

func TestAddParticipantIdempotent(t *testing.T) {
	store, sprint := newTestStore(t)

	_, err := store.AddSprintParticipant(sprint.Id, "p1", "Sam")
	require.NoError(t, err)
	_, err = store.AddSprintParticipant(sprint.Id, "p1", "Sam")
	require.NoError(t, err)

	assert.Len(t, store.Participants(sprint.Id), 1)
}

func TestRemoveParticipantIdempotent(t *testing.T) {
	store, sprint := newTestStore(t)

	_, err := store.AddSprintParticipant(sprint.Id, "p1", "Sam")
	require.NoError(t, err)

	store.RemoveSprintParticipant(sprint.Id, "p1")
	store.RemoveSprintParticipant(sprint.Id, "p1")
	store.RemoveSprintParticipant(dao.GenUUID(), "p1")

	assert.Empty(t, store.Participants(sprint.Id))
}

func TestUpdateParticipantCursorLastWriteWins(t *testing.T) {
	store, sprint := newTestStore(t)

	_, err := store.AddSprintParticipant(sprint.Id, "p1", "Sam")
	require.NoError(t, err)

	require.NoError(t, store.UpdateParticipantCursor(sprint.Id, "p1", &types.Cursor{X: 10, Y: 20}))
	require.NoError(t, store.UpdateParticipantCursor(sprint.Id, "p1", &types.Cursor{X: 30, Y: 40, CardId: "card"}))

	participants := store.Participants(sprint.Id)
	require.Len(t, participants, 1)
	require.NotNil(t, participants[0].Cursor)
	assert.Equal(t, 30.0, participants[0].Cursor.X)
	assert.Equal(t, "card", participants[0].Cursor.CardId)

	err = store.UpdateParticipantCursor(sprint.Id, "ghost", &types.Cursor{})
	assert.ErrorIs(t, err, apierrors.ErrParticipantNotFound)
}

func TestSetParticipantActiveKeepsCursor(t *testing.T) {
	store, sprint := newTestStore(t)

	joined, err := store.AddSprintParticipant(sprint.Id, "p1", "Sam")
	require.NoError(t, err)
	require.NoError(t, store.UpdateParticipantCursor(sprint.Id, "p1", &types.Cursor{X: 1, Y: 2}))

	// Отматываем heartbeat назад: переключение видимости должно его продлить
	store.mu.Lock()
	store.rooms[sprint.Id].participants["p1"].LastSeen = time.Now().Add(-time.Minute)
	store.mu.Unlock()

	require.NoError(t, store.SetParticipantActive(sprint.Id, "p1", false))

	participants := store.Participants(sprint.Id)
	require.Len(t, participants, 1)
	if participants[0].IsActive {
		t.Error("участник должен быть помечен неактивным")
	}
	assert.NotNil(t, participants[0].Cursor)
	assert.Equal(t, joined.JoinedAt, participants[0].JoinedAt)
	assert.WithinDuration(t, time.Now(), participants[0].LastSeen, time.Second)
}

func TestNotifyWithoutWatchersLeavesNoState(t *testing.T) {
	store, sprint := newTestStore(t)

	// Мутации без единой сессии не должны накапливать комнаты
	require.NoError(t, store.NotifySprintChanged(sprint.Id))

	_, err := store.Snapshot(sprint.Id)
	require.NoError(t, err)

	store.mu.RLock()
	defer store.mu.RUnlock()
	assert.Empty(t, store.rooms)
}

func TestSweepStaleParticipants(t *testing.T) {
	store, sprint := newTestStore(t)

	_, err := store.AddSprintParticipant(sprint.Id, "stale", "Old")
	require.NoError(t, err)
	_, err = store.AddSprintParticipant(sprint.Id, "fresh", "New")
	require.NoError(t, err)

	store.mu.Lock()
	store.rooms[sprint.Id].participants["stale"].LastSeen = time.Now().Add(-time.Hour)
	store.mu.Unlock()

	removed := store.SweepStaleParticipants(3 * types.HeartbeatInterval)
	assert.Equal(t, 1, removed)

	participants := store.Participants(sprint.Id)
	require.Len(t, participants, 1)
	assert.Equal(t, "fresh", participants[0].Id)
}

func TestAppendActivityPublishesAndPersists(t *testing.T) {
	store, sprint := newTestStore(t)

	var received []*dto.SprintActivity
	unsubscribe := store.SubscribeToSprintActivities(sprint.Id, func(a *dto.SprintActivity) {
		received = append(received, a)
	})
	defer unsubscribe()

	act := dao.NewSprintActivity(sprint.Id, dao.ActivityParticipantJoined, "p1", "Sam", map[string]interface{}{"access_level": "view"})
	require.NoError(t, store.AppendActivity(&act))

	require.Len(t, received, 1)
	assert.Equal(t, dao.ActivityParticipantJoined, received[0].Type)
	assert.Equal(t, "view", received[0].Data["access_level"])

	stored, err := dao.LastSprintActivities(store.db, sprint.Id, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestNotifySprintChangedRefreshesDoc(t *testing.T) {
	store, sprint := newTestStore(t)

	var last *dto.Sprint
	unsubscribe := store.SubscribeToSprint(sprint.Id, func(s *dto.Sprint) { last = s })
	defer unsubscribe()

	require.NoError(t, store.db.Model(sprint).Update("name", "Renamed").Error)
	require.NoError(t, store.NotifySprintChanged(sprint.Id))

	require.NotNil(t, last)
	assert.Equal(t, "Renamed", last.Name)
}

func TestDropSprintNotifiesNil(t *testing.T) {
	store, sprint := newTestStore(t)

	got := false
	var last *dto.Sprint
	store.SubscribeToSprint(sprint.Id, func(s *dto.Sprint) {
		got = true
		last = s
	})

	store.DropSprint(sprint.Id)

	assert.True(t, got)
	assert.Nil(t, last)
}
