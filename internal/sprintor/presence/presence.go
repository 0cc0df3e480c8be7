// Package presence ведет сессию участника спринта: heartbeat присутствия,
// дебаунс курсора и корректный выход.
//
// Основные возможности:
//   - Жизненный цикл сессии: подключение, активность, выход, ошибка.
//   - Heartbeat с немедленным первым сигналом: продление токена и присутствия.
//   - Остановка после двух подряд неудачных heartbeat без автоповтора.
//   - Дебаунс обновлений курсора по принципу last-call-wins.
package presence

import (
	"sync"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/apierrors"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/gofrs/uuid"
)

type SessionState string

const (
	StateNew    SessionState = "new"
	StateActive SessionState = "active"
	StateLeft   SessionState = "left"
	StateError  SessionState = "error"
)

// Roster - операции над составом участников сессии. Реализуется sprint-store.
type Roster interface {
	AddSprintParticipant(id uuid.UUID, participantId string, name string) (*types.Participant, error)
	RemoveSprintParticipant(id uuid.UUID, participantId string)
	UpdateParticipantCursor(id uuid.UUID, participantId string, cursor *types.Cursor) error
	SetParticipantActive(id uuid.UUID, participantId string, active bool) error
	TouchParticipant(id uuid.UUID, participantId string) error
}

// Identity - кто и в каком спринте участвует. Берется из проверенного токена.
type Identity struct {
	SprintId      uuid.UUID
	ParticipantId string
	Name          string
	AccessLevel   types.AccessLevel
}

// Session - сессия одного участника. Все методы безопасны для
// конкурентного вызова; Join и Leave идемпотентны.
type Session struct {
	roster   Roster
	clock    Clock
	identity Identity

	// Вызывается при смене состояния; err != nil только для StateError
	OnStateChange func(state SessionState, err error)

	// Продление токена доступа; вызывается каждым heartbeat до обновления
	// присутствия. Ошибка продления считается неудачей heartbeat.
	Renew func() error

	mu         sync.Mutex
	state      SessionState
	hbTimer    Timer
	hbFailures int

	cursor *Coalescer[types.Cursor]
}

func NewSession(roster Roster, clock Clock, identity Identity) *Session {
	s := &Session{
		roster:   roster,
		clock:    clock,
		identity: identity,
		state:    StateNew,
	}
	s.cursor = NewCoalescer(clock, types.CursorDebounceWindow, func(c types.Cursor) {
		s.roster.UpdateParticipantCursor(s.identity.SprintId, s.identity.ParticipantId, &c)
	})
	return s
}

// Join вводит участника в сессию и запускает heartbeat. Первый heartbeat
// уходит сразу, не дожидаясь интервала. Повторный вызов ничего не делает.
func (s *Session) Join() error {
	if s.identity.SprintId == uuid.Nil || s.identity.ParticipantId == "" || s.identity.Name == "" {
		return apierrors.ErrMissingJoinParameters
	}

	s.mu.Lock()
	switch s.state {
	case StateActive:
		s.mu.Unlock()
		return nil
	case StateLeft, StateError:
		s.mu.Unlock()
		return apierrors.ErrConnectionLost
	}
	s.mu.Unlock()

	if _, err := s.roster.AddSprintParticipant(s.identity.SprintId, s.identity.ParticipantId, s.identity.Name); err != nil {
		s.setState(StateError, err)
		return err
	}

	s.setState(StateActive, nil)
	s.beat()
	return nil
}

// Leave выводит участника из сессии и останавливает таймеры. Идемпотентен,
// безопасен из любого состояния.
func (s *Session) Leave() {
	s.mu.Lock()
	if s.state == StateLeft {
		s.mu.Unlock()
		return
	}
	wasError := s.state == StateError
	s.state = StateLeft
	if s.hbTimer != nil {
		s.hbTimer.Stop()
		s.hbTimer = nil
	}
	s.mu.Unlock()

	s.cursor.Stop()
	s.roster.RemoveSprintParticipant(s.identity.SprintId, s.identity.ParticipantId)

	if !wasError && s.OnStateChange != nil {
		s.OnStateChange(StateLeft, nil)
	}
}

// UpdateCursor ставит обновление курсора в дебаунс-окно. Для участника с
// уровнем view вызов молча игнорируется.
func (s *Session) UpdateCursor(cursor types.Cursor) {
	if s.identity.AccessLevel == types.ViewAccess {
		return
	}
	s.mu.Lock()
	active := s.state == StateActive
	s.mu.Unlock()
	if !active {
		return
	}
	s.cursor.Trigger(cursor)
}

// SetVisible переключает флаг присутствия, не выходя из сессии.
func (s *Session) SetVisible(visible bool) {
	s.mu.Lock()
	active := s.state == StateActive
	s.mu.Unlock()
	if !active {
		return
	}
	s.roster.SetParticipantActive(s.identity.SprintId, s.identity.ParticipantId, visible)
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() Identity {
	return s.identity
}

func (s *Session) beat() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	var err error
	if s.Renew != nil {
		err = s.Renew()
	}
	if err == nil {
		err = s.roster.TouchParticipant(s.identity.SprintId, s.identity.ParticipantId)
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.hbFailures++
		if s.hbFailures >= types.HeartbeatFailureLimit {
			// Сессия погибла; переподключение - забота клиента
			s.state = StateError
			s.hbTimer = nil
			s.mu.Unlock()
			s.cursor.Stop()
			if s.OnStateChange != nil {
				s.OnStateChange(StateError, apierrors.ErrConnectionLost)
			}
			return
		}
	} else {
		s.hbFailures = 0
	}
	s.hbTimer = s.clock.AfterFunc(types.HeartbeatInterval, s.beat)
	s.mu.Unlock()
}

func (s *Session) setState(state SessionState, err error) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if s.OnStateChange != nil {
		s.OnStateChange(state, err)
	}
}
