// Package collab - фасад сессии совместной работы над спринтом. Склеивает
// проверенный доступ, presence-сессию и подписки sprint-store в единый
// поток состояний для одного подключения.
//
// Основные возможности:
//   - Единое состояние: статус соединения, снимок спринта, лента активностей.
//   - Жизненный цикл статуса: connecting -> connected -> error | disconnected.
//   - Наложение локального курсора поверх входящих снимков.
//   - Гарантированная отписка и выход из сессии при закрытии.
package collab

import (
	"sync"

	accesstoken "github.com/ParashDev/sprintor-sub002/internal/sprintor/access-token"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/apierrors"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dto"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/presence"
	sprintstore "github.com/ParashDev/sprintor-sub002/internal/sprintor/sprint-store"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
	StatusDisconnected Status = "disconnected"
)

// State - полное состояние сессии на момент выдачи. Каждое обновление
// несет состояние целиком, а не дельту.
type State struct {
	Status       Status               `json:"connection_status"`
	AccessDenied bool                 `json:"access_denied,omitempty"`
	Sprint       *dto.Sprint          `json:"sprint,omitempty"`
	Activities   []dto.SprintActivity `json:"activities,omitempty"`
	// Свежий токен после продления heartbeat'ом
	SessionToken string                  `json:"session_token,omitempty"`
	Error        *apierrors.DefinedError `json:"error,omitempty"`
}

// RenewFunc продлевает сессионный токен: принимает действующий токен,
// возвращает новый. Ошибка означает конец сессии.
type RenewFunc func(current string) (string, error)

// Facade обслуживает одно подключение участника.
type Facade struct {
	store   *sprintstore.Store
	session *presence.Session
	renew   RenewFunc

	mu            sync.Mutex
	state         State
	token         string
	pendingCursor *types.Cursor
	updates       chan State
	closed        bool

	unsubSprint     func()
	unsubActivities func()
	closeOnce       sync.Once
}

// Connect создает фасад по проверенному токену и вводит участника в сессию.
// renew может быть nil: тогда токен не продлевается и сессия живет до его
// истечения. Возвращенный фасад всегда нужно закрывать через Close.
func Connect(store *sprintstore.Store, clock presence.Clock, grant *accesstoken.Grant, renew RenewFunc) (*Facade, error) {
	f := &Facade{
		store:   store,
		renew:   renew,
		token:   grant.SignedString,
		updates: make(chan State, 16),
		state:   State{Status: StatusConnecting},
	}

	f.session = presence.NewSession(store, clock, presence.Identity{
		SprintId:      grant.SprintId,
		ParticipantId: grant.ParticipantId,
		Name:          grant.Name,
		AccessLevel:   grant.AccessLevel,
	})
	f.session.OnStateChange = f.onSessionState
	if renew != nil {
		f.session.Renew = f.renewToken
	}

	// Подписки до входа, чтобы не потерять снимок собственного появления
	f.unsubSprint = store.SubscribeToSprint(grant.SprintId, f.onSnapshot)
	f.unsubActivities = store.SubscribeToSprintActivities(grant.SprintId, f.onActivity)

	activities, err := store.RecentActivities(grant.SprintId, types.ActivityFeedLimit)
	if err == nil {
		f.mu.Lock()
		f.state.Activities = activities
		f.mu.Unlock()
	}

	if err := f.session.Join(); err != nil {
		f.fail(err)
		f.Close()
		return nil, err
	}

	f.mu.Lock()
	if f.state.Status == StatusConnecting {
		f.state.Status = StatusConnected
	}
	f.mu.Unlock()
	f.push()

	return f, nil
}

// State возвращает копию текущего состояния.
func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Updates - поток состояний для отправки клиенту. Закрывается в Close.
func (f *Facade) Updates() <-chan State {
	return f.updates
}

// UpdateCursor двигает курсор участника. Локально курсор применяется сразу,
// в общее состояние уходит через дебаунс presence-сессии.
func (f *Facade) UpdateCursor(cursor types.Cursor) {
	f.mu.Lock()
	c := cursor
	f.pendingCursor = &c
	f.mu.Unlock()

	f.session.UpdateCursor(cursor)
	f.push()
}

// SetVisible переключает присутствие участника (смена вкладки браузера).
func (f *Facade) SetVisible(visible bool) {
	f.session.SetVisible(visible)
}

// Close завершает сессию: отписка, выход участника, закрытие потока
// обновлений. Повторные вызовы безопасны.
func (f *Facade) Close() {
	f.closeOnce.Do(func() {
		f.unsubSprint()
		f.unsubActivities()
		f.session.Leave()

		f.mu.Lock()
		if f.state.Status != StatusError {
			f.state.Status = StatusDisconnected
		}
		f.closed = true
		close(f.updates)
		f.mu.Unlock()
	})
}

// onSnapshot принимает очередной снимок спринта. nil означает, что спринт
// удален или доступ отозван.
func (f *Facade) onSnapshot(snapshot *dto.Sprint) {
	if snapshot == nil {
		f.fail(apierrors.ErrSprintAccessDenied)
		f.mu.Lock()
		f.state.AccessDenied = true
		f.state.Sprint = nil
		f.mu.Unlock()
		f.push()
		return
	}

	f.mu.Lock()
	f.overlayCursorLocked(snapshot)
	f.state.Sprint = snapshot
	f.mu.Unlock()
	f.push()
}

func (f *Facade) onActivity(activity *dto.SprintActivity) {
	f.mu.Lock()
	feed := make([]dto.SprintActivity, 0, len(f.state.Activities)+1)
	feed = append(feed, *activity)
	feed = append(feed, f.state.Activities...)
	if len(feed) > types.ActivityFeedLimit {
		feed = feed[:types.ActivityFeedLimit]
	}
	f.state.Activities = feed
	f.mu.Unlock()
	f.push()
}

// renewToken продлевает токен и отдает свежий клиенту через поток состояний.
func (f *Facade) renewToken() error {
	f.mu.Lock()
	current := f.token
	f.mu.Unlock()

	fresh, err := f.renew(current)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.token = fresh
	f.state.SessionToken = fresh
	f.mu.Unlock()
	f.push()
	return nil
}

func (f *Facade) onSessionState(state presence.SessionState, err error) {
	if state == presence.StateError {
		f.fail(err)
		f.push()
	}
}

// overlayCursorLocked накладывает последний локальный курсор на снимок,
// чтобы собственный курсор не прыгал назад из-за дебаунса.
func (f *Facade) overlayCursorLocked(snapshot *dto.Sprint) {
	if f.pendingCursor == nil {
		return
	}
	self := f.session.Identity().ParticipantId
	for i := range snapshot.Participants {
		if snapshot.Participants[i].Id == self {
			cursor := *f.pendingCursor
			snapshot.Participants[i].Cursor = &cursor
			return
		}
	}
}

func (f *Facade) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Из ошибки обратно в connected пути нет
	f.state.Status = StatusError
	if defined, ok := err.(apierrors.DefinedError); ok {
		f.state.Error = &defined
	} else if err != nil {
		e := apierrors.ErrGeneric
		f.state.Error = &e
	}
}

// push кладет текущее состояние в канал обновлений. Медленный получатель
// теряет промежуточные состояния, но всегда получит самое свежее.
func (f *Facade) push() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	st := f.state

	select {
	case f.updates <- st:
	default:
		// Канал полон: выбрасываем самое старое состояние
		select {
		case <-f.updates:
		default:
		}
		select {
		case f.updates <- st:
		default:
		}
	}
}
