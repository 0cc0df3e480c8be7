package presence

import (
	"sync"
	"testing"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/apierrors"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dao"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoster struct {
	mu       sync.Mutex
	touches  int
	touchErr error
	cursors  []types.Cursor
	active   []bool
	added    int
	removed  int
}

func (f *fakeRoster) AddSprintParticipant(id uuid.UUID, participantId string, name string) (*types.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added++
	return &types.Participant{Id: participantId, Name: name, IsActive: true}, nil
}

func (f *fakeRoster) RemoveSprintParticipant(id uuid.UUID, participantId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
}

func (f *fakeRoster) UpdateParticipantCursor(id uuid.UUID, participantId string, cursor *types.Cursor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, *cursor)
	return nil
}

func (f *fakeRoster) SetParticipantActive(id uuid.UUID, participantId string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = append(f.active, active)
	return nil
}

func (f *fakeRoster) TouchParticipant(id uuid.UUID, participantId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	return f.touchErr
}

func (f *fakeRoster) touchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.touches
}

func (f *fakeRoster) setTouchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchErr = err
}

func newTestSession(t *testing.T) (*Session, *fakeRoster, *FakeClock) {
	t.Helper()
	roster := &fakeRoster{}
	clock := NewFakeClock()
	session := NewSession(roster, clock, Identity{
		SprintId:      dao.GenUUID(),
		ParticipantId: "p1",
		Name:          "Sam",
		AccessLevel:   types.ContributeAccess,
	})
	return session, roster, clock
}

func TestJoinValidatesParameters(t *testing.T) {
	roster := &fakeRoster{}
	clock := NewFakeClock()

	session := NewSession(roster, clock, Identity{ParticipantId: "p1", Name: "Sam"})
	assert.ErrorIs(t, session.Join(), apierrors.ErrMissingJoinParameters)

	session = NewSession(roster, clock, Identity{SprintId: dao.GenUUID(), Name: "Sam"})
	assert.ErrorIs(t, session.Join(), apierrors.ErrMissingJoinParameters)

	assert.Zero(t, roster.added)
}

func TestJoinIdempotent(t *testing.T) {
	session, roster, _ := newTestSession(t)

	require.NoError(t, session.Join())
	require.NoError(t, session.Join())

	assert.Equal(t, 1, roster.added)
	assert.Equal(t, StateActive, session.State())
}

func TestHeartbeatSchedule(t *testing.T) {
	session, roster, clock := newTestSession(t)
	require.NoError(t, session.Join())

	// Первый heartbeat уходит сразу при входе
	assert.Equal(t, 1, roster.touchCount())

	clock.Advance(types.HeartbeatInterval)
	assert.Equal(t, 2, roster.touchCount())

	// Внутри интервала повторов нет
	clock.Advance(types.HeartbeatInterval / 2)
	assert.Equal(t, 2, roster.touchCount())

	clock.Advance(types.HeartbeatInterval / 2)
	assert.Equal(t, 3, roster.touchCount())
}

func TestHeartbeatStopsAfterConsecutiveFailures(t *testing.T) {
	session, roster, clock := newTestSession(t)
	require.NoError(t, session.Join())

	var gotState SessionState
	var gotErr error
	session.OnStateChange = func(state SessionState, err error) {
		gotState = state
		gotErr = err
	}

	roster.setTouchErr(apierrors.ErrParticipantNotFound)

	clock.Advance(types.HeartbeatInterval)
	assert.Equal(t, StateActive, session.State(), "одна неудача еще не ошибка")

	clock.Advance(types.HeartbeatInterval)
	assert.Equal(t, StateError, session.State())
	assert.Equal(t, StateError, gotState)
	assert.ErrorIs(t, gotErr, apierrors.ErrConnectionLost)

	// Автоповтора нет
	touches := roster.touchCount()
	clock.Advance(10 * types.HeartbeatInterval)
	assert.Equal(t, touches, roster.touchCount())
}

func TestHeartbeatFailureCounterResets(t *testing.T) {
	session, roster, clock := newTestSession(t)
	require.NoError(t, session.Join())

	roster.setTouchErr(apierrors.ErrParticipantNotFound)
	clock.Advance(types.HeartbeatInterval)

	// Успешный heartbeat сбрасывает счетчик неудач
	roster.setTouchErr(nil)
	clock.Advance(types.HeartbeatInterval)

	roster.setTouchErr(apierrors.ErrParticipantNotFound)
	clock.Advance(types.HeartbeatInterval)
	assert.Equal(t, StateActive, session.State())
}

func TestRenewErrorCountsAsHeartbeatFailure(t *testing.T) {
	roster := &fakeRoster{}
	clock := NewFakeClock()
	session := NewSession(roster, clock, Identity{SprintId: dao.GenUUID(), ParticipantId: "p1", Name: "Sam"})

	renews := 0
	session.Renew = func() error {
		renews++
		if renews > 1 {
			return apierrors.ErrTokenRevoked
		}
		return nil
	}

	require.NoError(t, session.Join())
	assert.Equal(t, 1, roster.touchCount())

	// Неудачное продление: присутствие не трогаем
	clock.Advance(types.HeartbeatInterval)
	assert.Equal(t, 1, roster.touchCount())
	assert.Equal(t, StateActive, session.State())

	clock.Advance(types.HeartbeatInterval)
	assert.Equal(t, StateError, session.State())
}

func TestCursorDebounceLastCallWins(t *testing.T) {
	session, roster, clock := newTestSession(t)
	require.NoError(t, session.Join())

	session.UpdateCursor(types.Cursor{X: 1, Y: 1})
	session.UpdateCursor(types.Cursor{X: 2, Y: 2})
	session.UpdateCursor(types.Cursor{X: 3, Y: 3})

	assert.Empty(t, roster.cursors, "до конца окна обновление не уходит")

	clock.Advance(types.CursorDebounceWindow)
	require.Len(t, roster.cursors, 1)
	assert.Equal(t, 3.0, roster.cursors[0].X)
}

func TestCursorViewLevelNoop(t *testing.T) {
	roster := &fakeRoster{}
	clock := NewFakeClock()
	session := NewSession(roster, clock, Identity{
		SprintId:      dao.GenUUID(),
		ParticipantId: "p1",
		Name:          "Guest",
		AccessLevel:   types.ViewAccess,
	})
	require.NoError(t, session.Join())

	session.UpdateCursor(types.Cursor{X: 5, Y: 5})
	clock.Advance(types.CursorDebounceWindow)

	assert.Empty(t, roster.cursors)
}

func TestSetVisible(t *testing.T) {
	session, roster, _ := newTestSession(t)
	require.NoError(t, session.Join())

	session.SetVisible(false)
	session.SetVisible(true)

	assert.Equal(t, []bool{false, true}, roster.active)
}

func TestLeaveIdempotent(t *testing.T) {
	session, roster, clock := newTestSession(t)
	require.NoError(t, session.Join())

	session.Leave()
	session.Leave()

	assert.Equal(t, 1, roster.removed)
	assert.Equal(t, StateLeft, session.State())

	// Таймеры остановлены, heartbeat больше не ходит
	touches := roster.touchCount()
	clock.Advance(5 * types.HeartbeatInterval)
	assert.Equal(t, touches, roster.touchCount())

	// После выхода сессия не переиспользуется
	assert.ErrorIs(t, session.Join(), apierrors.ErrConnectionLost)
}

func TestLeaveDropsPendingCursor(t *testing.T) {
	session, roster, clock := newTestSession(t)
	require.NoError(t, session.Join())

	session.UpdateCursor(types.Cursor{X: 9, Y: 9})
	session.Leave()
	clock.Advance(types.CursorDebounceWindow)

	assert.Empty(t, roster.cursors)
}

func TestThrottleLeadingEdge(t *testing.T) {
	clock := NewFakeClock()
	throttle := NewThrottle(clock, types.PointerThrottleWindow)

	assert.True(t, throttle.Allow())
	assert.False(t, throttle.Allow())

	clock.Advance(types.PointerThrottleWindow / 2)
	assert.False(t, throttle.Allow())

	clock.Advance(types.PointerThrottleWindow / 2)
	assert.True(t, throttle.Allow())
}

func TestCoalescerStop(t *testing.T) {
	clock := NewFakeClock()
	fired := 0
	c := NewCoalescer(clock, types.CursorDebounceWindow, func(int) { fired++ })

	c.Trigger(1)
	c.Stop()
	clock.Advance(types.CursorDebounceWindow)

	assert.Zero(t, fired)
}
