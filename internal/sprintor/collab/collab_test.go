package collab

import (
	"fmt"
	"path/filepath"
	"testing"

	accesstoken "github.com/ParashDev/sprintor-sub002/internal/sprintor/access-token"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/apierrors"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/config"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dao"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/presence"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/sessions"
	sprintstore "github.com/ParashDev/sprintor-sub002/internal/sprintor/sprint-store"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	store  *sprintstore.Store
	issuer *accesstoken.Issuer
	clock  *presence.FakeClock
	sprint *dao.Sprint
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&dao.User{}, &dao.Sprint{}, &dao.SprintStory{}, &dao.SprintMember{}, &dao.SprintActivity{}))

	user := dao.User{ID: dao.GenID(), Email: "host@example.com", FirstName: "Host"}
	require.NoError(t, db.Create(&user).Error)
	sprint := dao.Sprint{
		Id:               dao.GenUUID(),
		HostId:           user.ID,
		Name:             "Planning",
		Status:           types.SprintActive,
		AllowGuestAccess: true,
		PasswordHash:     dao.GenPasswordHash("secret"),
	}
	require.NoError(t, db.Create(&sprint).Error)

	cfg := &config.Config{SessionsDBPath: filepath.Join(t.TempDir(), "sessions.db")}
	sm := sessions.NewSessionsManager(cfg, types.SessionTokenExpiresPeriod)
	t.Cleanup(sm.Close)

	return &testEnv{
		store:  sprintstore.NewStore(db),
		issuer: accesstoken.NewIssuer([]byte("test-secret"), sm),
		clock:  presence.NewFakeClock(),
		sprint: &sprint,
	}
}

func (e *testEnv) grant(t *testing.T, name string) *accesstoken.Grant {
	t.Helper()
	// Вход по паролю: гостевой уровень не двигает курсоры
	access, err := e.issuer.IssueAccess(e.sprint, name, "secret", "")
	require.NoError(t, err)
	grant, err := e.issuer.VerifyAccessToken(e.sprint, access.SessionToken)
	require.NoError(t, err)
	return grant
}

func drain(f *Facade) State {
	var last State
	for {
		select {
		case st, ok := <-f.Updates():
			if !ok {
				return last
			}
			last = st
		default:
			return last
		}
	}
}

func TestConnectLifecycle(t *testing.T) {
	env := newTestEnv(t)

	f, err := Connect(env.store, env.clock, env.grant(t, "Sam"), nil)
	require.NoError(t, err)
	defer f.Close()

	st := f.State()
	assert.Equal(t, StatusConnected, st.Status)
	require.NotNil(t, st.Sprint)
	assert.Equal(t, "Planning", st.Sprint.Name)
	require.Len(t, st.Sprint.Participants, 1)
	assert.Equal(t, "Sam", st.Sprint.Participants[0].Name)

	f.Close()
	assert.Equal(t, StatusDisconnected, f.State().Status)
	assert.Empty(t, env.store.Participants(env.sprint.Id))
}

func TestTwoParticipantsSeeEachOther(t *testing.T) {
	env := newTestEnv(t)

	first, err := Connect(env.store, env.clock, env.grant(t, "Sam"), nil)
	require.NoError(t, err)
	defer first.Close()

	second, err := Connect(env.store, env.clock, env.grant(t, "Alex"), nil)
	require.NoError(t, err)
	defer second.Close()

	st := first.State()
	require.NotNil(t, st.Sprint)
	assert.Len(t, st.Sprint.Participants, 2)

	// Выход второго виден первому
	second.Close()
	st = first.State()
	assert.Len(t, st.Sprint.Participants, 1)
}

func TestCursorOverlayNoRubberBanding(t *testing.T) {
	env := newTestEnv(t)

	f, err := Connect(env.store, env.clock, env.grant(t, "Sam"), nil)
	require.NoError(t, err)
	defer f.Close()

	self := f.session.Identity().ParticipantId

	f.UpdateCursor(types.Cursor{X: 100, Y: 100})
	// Дебаунс еще не отправил курсор, но чужой снимок уже пришел
	require.NoError(t, env.store.NotifySprintChanged(env.sprint.Id))

	st := f.State()
	require.NotNil(t, st.Sprint)
	for _, p := range st.Sprint.Participants {
		if p.Id == self {
			require.NotNil(t, p.Cursor)
			assert.Equal(t, 100.0, p.Cursor.X)
		}
	}

	// После дебаунса общий стор получает тот же курсор
	env.clock.Advance(types.CursorDebounceWindow)
	participants := env.store.Participants(env.sprint.Id)
	require.Len(t, participants, 1)
	require.NotNil(t, participants[0].Cursor)
	assert.Equal(t, 100.0, participants[0].Cursor.X)
}

func TestActivityFeedStreams(t *testing.T) {
	env := newTestEnv(t)

	f, err := Connect(env.store, env.clock, env.grant(t, "Sam"), nil)
	require.NoError(t, err)
	defer f.Close()

	act := dao.NewSprintActivity(env.sprint.Id, dao.ActivityStoryCreated, "p1", "Sam", nil)
	require.NoError(t, env.store.AppendActivity(&act))

	st := f.State()
	require.NotEmpty(t, st.Activities)
	assert.Equal(t, dao.ActivityStoryCreated, st.Activities[0].Type)
}

func TestHeartbeatFailureMovesToError(t *testing.T) {
	env := newTestEnv(t)

	f, err := Connect(env.store, env.clock, env.grant(t, "Sam"), nil)
	require.NoError(t, err)
	defer f.Close()

	// Убираем участника из стора: heartbeat начнет отказывать
	env.store.RemoveSprintParticipant(env.sprint.Id, f.session.Identity().ParticipantId)

	env.clock.Advance(types.HeartbeatInterval)
	env.clock.Advance(types.HeartbeatInterval)

	st := f.State()
	assert.Equal(t, StatusError, st.Status)
	require.NotNil(t, st.Error)
	assert.Equal(t, apierrors.ErrConnectionLost.Code, st.Error.Code)

	// Из ошибки соединение не возвращается в connected
	f.Close()
	assert.Equal(t, StatusError, f.State().Status)
}

func TestHeartbeatRenewsToken(t *testing.T) {
	env := newTestEnv(t)

	calls := 0
	renew := func(current string) (string, error) {
		calls++
		return fmt.Sprintf("%s-%d", current, calls), nil
	}

	f, err := Connect(env.store, env.clock, env.grant(t, "Sam"), renew)
	require.NoError(t, err)
	defer f.Close()

	// Первый heartbeat уходит при входе, не дожидаясь интервала
	require.Equal(t, 1, calls)
	first := f.State().SessionToken
	require.NotEmpty(t, first)

	env.clock.Advance(types.HeartbeatInterval)
	assert.Equal(t, 2, calls)
	assert.NotEqual(t, first, f.State().SessionToken)
}

func TestRenewFailureEndsSession(t *testing.T) {
	env := newTestEnv(t)

	renew := func(string) (string, error) {
		return "", apierrors.ErrTokenRevoked
	}

	f, err := Connect(env.store, env.clock, env.grant(t, "Sam"), renew)
	require.NoError(t, err)
	defer f.Close()

	// Первая неудача при входе, вторая по интервалу
	env.clock.Advance(types.HeartbeatInterval)

	st := f.State()
	assert.Equal(t, StatusError, st.Status)
	require.NotNil(t, st.Error)
	assert.Equal(t, apierrors.ErrConnectionLost.Code, st.Error.Code)
}

func TestDroppedSprintDeniesAccess(t *testing.T) {
	env := newTestEnv(t)

	f, err := Connect(env.store, env.clock, env.grant(t, "Sam"), nil)
	require.NoError(t, err)
	defer f.Close()

	env.store.DropSprint(env.sprint.Id)

	st := f.State()
	assert.Equal(t, StatusError, st.Status)
	assert.True(t, st.AccessDenied)
	assert.Nil(t, st.Sprint)

	last := drain(f)
	assert.True(t, last.AccessDenied)
}

func TestUpdatesChannelDeliversStates(t *testing.T) {
	env := newTestEnv(t)

	f, err := Connect(env.store, env.clock, env.grant(t, "Sam"), nil)
	require.NoError(t, err)

	last := drain(f)
	assert.Equal(t, StatusConnected, last.Status)

	f.Close()
	_, ok := <-f.Updates()
	assert.False(t, ok)
}
