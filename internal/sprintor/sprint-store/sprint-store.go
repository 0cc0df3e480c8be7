// Package sprintstore хранит живое состояние спринтов и рассылает его подписчикам.
//
// Постоянная часть состояния (спринт, карточки, команда, лента активностей)
// лежит в базе; эфемерная часть (участники сессии, их курсоры) живет только
// в памяти процесса. Подписка на спринт отдает полный снимок состояния при
// каждом изменении, подписка на активности — отдельные события ленты.
//
// Основные возможности:
//   - Снимок состояния спринта с участниками текущей сессии.
//   - Подписка на изменения спринта и на ленту активностей.
//   - Идемпотентное добавление и удаление участников сессии.
//   - Обновление курсоров и присутствия по принципу last-write-wins.
//   - Чистка участников, переставших посылать heartbeat.
package sprintstore

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/apierrors"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dao"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dto"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	participantsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sprintor",
		Name:      "session_participants",
		Help:      "Participants currently present in sprint sessions",
	})
	subscriptionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sprintor",
		Name:      "sprint_subscriptions",
		Help:      "Active sprint state subscriptions",
	})
)

func init() {
	prometheus.Register(participantsGauge)
	prometheus.Register(subscriptionsGauge)
}

type Store struct {
	db      *gorm.DB
	reloads singleflight.Group

	mu    sync.RWMutex
	rooms map[uuid.UUID]*room
}

type room struct {
	doc          *dto.Sprint
	participants map[string]*types.Participant

	nextSubId    int
	subs         map[int]func(*dto.Sprint)
	activitySubs map[int]func(*dto.SprintActivity)
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:    db,
		rooms: make(map[uuid.UUID]*room),
	}
}

// GetSprint читает спринт из базы со всеми ассоциациями.
func (s *Store) GetSprint(id uuid.UUID) (*dao.Sprint, error) {
	var sprint dao.Sprint
	if err := s.db.
		Preload("Host").
		Preload("Stories", func(db *gorm.DB) *gorm.DB {
			return db.Order("board_column, position, created_at")
		}).
		Preload("Members").
		Where("id = ?", id).
		First(&sprint).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apierrors.ErrSprintNotFound
		}
		return nil, err
	}
	return &sprint, nil
}

// Snapshot возвращает полный снимок состояния спринта вместе с участниками сессии.
func (s *Store) Snapshot(id uuid.UUID) (*dto.Sprint, error) {
	s.mu.RLock()
	r, ok := s.rooms[id]
	if ok && r.doc != nil {
		snapshot := s.snapshotLocked(id, r)
		s.mu.RUnlock()
		return snapshot, nil
	}
	s.mu.RUnlock()

	doc, err := s.reloadDoc(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rooms[id]; ok {
		return s.snapshotLocked(id, r), nil
	}
	snapshot := *doc
	snapshot.Participants = []types.Participant{}
	return &snapshot, nil
}

// snapshotLocked собирает снимок под уже взятой блокировкой чтения.
func (s *Store) snapshotLocked(id uuid.UUID, r *room) *dto.Sprint {
	if r == nil || r.doc == nil {
		return nil
	}
	snapshot := *r.doc
	snapshot.Participants = make([]types.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		snapshot.Participants = append(snapshot.Participants, *p)
	}
	return &snapshot
}

// SubscribeToSprint подписывает на изменения состояния спринта. Колбек
// получает полный снимок при каждом изменении. Возвращенная функция
// отписывает; вызывать ее обязательно при завершении сессии.
func (s *Store) SubscribeToSprint(id uuid.UUID, cb func(*dto.Sprint)) func() {
	s.mu.Lock()
	r := s.roomLocked(id)
	subId := r.nextSubId
	r.nextSubId++
	r.subs[subId] = cb
	s.mu.Unlock()

	subscriptionsGauge.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if r, ok := s.rooms[id]; ok {
				delete(r.subs, subId)
				s.dropRoomIfEmptyLocked(id)
			}
			s.mu.Unlock()
			subscriptionsGauge.Dec()
		})
	}
}

// SubscribeToSprintActivities подписывает на новые события ленты активностей.
func (s *Store) SubscribeToSprintActivities(id uuid.UUID, cb func(*dto.SprintActivity)) func() {
	s.mu.Lock()
	r := s.roomLocked(id)
	subId := r.nextSubId
	r.nextSubId++
	r.activitySubs[subId] = cb
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if r, ok := s.rooms[id]; ok {
				delete(r.activitySubs, subId)
				s.dropRoomIfEmptyLocked(id)
			}
			s.mu.Unlock()
		})
	}
}

// AddSprintParticipant добавляет участника сессии. Повторный вызов с тем же
// participantId обновляет метку присутствия, не создавая дубликата.
func (s *Store) AddSprintParticipant(id uuid.UUID, participantId string, name string) (*types.Participant, error) {
	if _, err := s.ensureDoc(id); err != nil {
		return nil, err
	}

	now := time.Now()

	s.mu.Lock()
	r := s.roomLocked(id)
	p, ok := r.participants[participantId]
	if ok {
		p.LastSeen = now
		p.IsActive = true
	} else {
		p = &types.Participant{
			Id:       participantId,
			Name:     name,
			Color:    types.ParticipantPalette[rand.IntN(len(types.ParticipantPalette))],
			IsActive: true,
			JoinedAt: now,
			LastSeen: now,
		}
		r.participants[participantId] = p
		participantsGauge.Inc()
	}
	joined := *p
	s.mu.Unlock()

	s.publish(id)
	return &joined, nil
}

// RemoveSprintParticipant удаляет участника сессии. Идемпотентно.
func (s *Store) RemoveSprintParticipant(id uuid.UUID, participantId string) {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, ok := r.participants[participantId]; !ok {
		s.mu.Unlock()
		return
	}
	delete(r.participants, participantId)
	s.dropRoomIfEmptyLocked(id)
	s.mu.Unlock()

	participantsGauge.Dec()
	s.publish(id)
}

// UpdateParticipantCursor обновляет курсор участника. Последняя запись
// побеждает; конкурирующие обновления не сливаются.
func (s *Store) UpdateParticipantCursor(id uuid.UUID, participantId string, cursor *types.Cursor) error {
	return s.updateParticipant(id, participantId, func(p *types.Participant) {
		p.Cursor = cursor
		p.LastSeen = time.Now()
	})
}

// SetParticipantActive переключает флаг присутствия, не трогая остальные поля.
func (s *Store) SetParticipantActive(id uuid.UUID, participantId string, active bool) error {
	return s.updateParticipant(id, participantId, func(p *types.Participant) {
		p.IsActive = active
		p.LastSeen = time.Now()
	})
}

// TouchParticipant продлевает присутствие участника (heartbeat).
func (s *Store) TouchParticipant(id uuid.UUID, participantId string) error {
	return s.updateParticipant(id, participantId, func(p *types.Participant) {
		p.LastSeen = time.Now()
	})
}

func (s *Store) updateParticipant(id uuid.UUID, participantId string, apply func(*types.Participant)) error {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return apierrors.ErrParticipantNotFound
	}
	p, ok := r.participants[participantId]
	if !ok {
		s.mu.Unlock()
		return apierrors.ErrParticipantNotFound
	}
	apply(p)
	s.mu.Unlock()

	s.publish(id)
	return nil
}

// Participants возвращает участников текущей сессии спринта.
func (s *Store) Participants(id uuid.UUID) []types.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return nil
	}
	participants := make([]types.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		participants = append(participants, *p)
	}
	return participants
}

// SweepStaleParticipants убирает участников, чей heartbeat молчит дольше
// максимального возраста. Возвращает число убранных.
func (s *Store) SweepStaleParticipants(maxAge time.Duration) int {
	deadline := time.Now().Add(-maxAge)
	changed := []uuid.UUID{}
	removed := 0

	s.mu.Lock()
	for id, r := range s.rooms {
		before := len(r.participants)
		for participantId, p := range r.participants {
			if p.LastSeen.Before(deadline) {
				delete(r.participants, participantId)
				participantsGauge.Dec()
			}
		}
		if len(r.participants) != before {
			removed += before - len(r.participants)
			changed = append(changed, id)
		}
	}
	s.mu.Unlock()

	for _, id := range changed {
		s.publish(id)
	}
	return removed
}

// AppendActivity записывает событие в ленту и рассылает его подписчикам.
func (s *Store) AppendActivity(activity *dao.SprintActivity) error {
	if err := s.db.Create(activity).Error; err != nil {
		return err
	}

	if err := dao.TrimSprintActivities(s.db, activity.SprintId, types.ActivityFeedLimit); err != nil {
		slog.Error("Trim sprint activities", "sprintId", activity.SprintId, "err", err)
	}

	s.mu.RLock()
	r, ok := s.rooms[activity.SprintId]
	var cbs []func(*dto.SprintActivity)
	if ok {
		cbs = make([]func(*dto.SprintActivity), 0, len(r.activitySubs))
		for _, cb := range r.activitySubs {
			cbs = append(cbs, cb)
		}
	}
	s.mu.RUnlock()

	activityDTO := activity.ToDTO()
	for _, cb := range cbs {
		cb(activityDTO)
	}
	return nil
}

// RecentActivities возвращает хвост ленты активностей в обратном
// хронологическом порядке.
func (s *Store) RecentActivities(id uuid.UUID, limit int) ([]dto.SprintActivity, error) {
	activities, err := dao.LastSprintActivities(s.db, id, limit)
	if err != nil {
		return nil, err
	}
	return dao.SliceToSlice(&activities, func(a *dao.SprintActivity) dto.SprintActivity {
		return *a.ToDTO()
	}), nil
}

// NotifySprintChanged перечитывает спринт из базы и рассылает свежий снимок.
// Вызывается после любой мутации спринта или его карточек. Без подписчиков
// и участников ничего не делает: снимок соберется при первом обращении.
func (s *Store) NotifySprintChanged(id uuid.UUID) error {
	s.mu.RLock()
	_, watched := s.rooms[id]
	s.mu.RUnlock()
	if !watched {
		return nil
	}

	if _, err := s.reloadDoc(id); err != nil {
		return err
	}
	s.publish(id)
	return nil
}

// DropSprint выбрасывает состояние удаленного спринта; подписчики получают nil.
func (s *Store) DropSprint(id uuid.UUID) {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	participantsGauge.Sub(float64(len(r.participants)))
	r.participants = map[string]*types.Participant{}
	r.doc = nil
	cbs := make([]func(*dto.Sprint), 0, len(r.subs))
	for _, cb := range r.subs {
		cbs = append(cbs, cb)
	}
	delete(s.rooms, id)
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(nil)
	}
}

func (s *Store) roomLocked(id uuid.UUID) *room {
	r, ok := s.rooms[id]
	if !ok {
		r = &room{
			participants: map[string]*types.Participant{},
			subs:         map[int]func(*dto.Sprint){},
			activitySubs: map[int]func(*dto.SprintActivity){},
		}
		s.rooms[id] = r
	}
	return r
}

func (s *Store) dropRoomIfEmptyLocked(id uuid.UUID) {
	r, ok := s.rooms[id]
	if !ok {
		return
	}
	if len(r.subs) == 0 && len(r.activitySubs) == 0 && len(r.participants) == 0 {
		delete(s.rooms, id)
	}
}

func (s *Store) ensureDoc(id uuid.UUID) (*dto.Sprint, error) {
	s.mu.RLock()
	if r, ok := s.rooms[id]; ok && r.doc != nil {
		doc := r.doc
		s.mu.RUnlock()
		return doc, nil
	}
	s.mu.RUnlock()
	return s.reloadDoc(id)
}

// Конкурирующие перечитывания одного спринта схлопываются в один запрос к базе.
func (s *Store) reloadDoc(id uuid.UUID) (*dto.Sprint, error) {
	doc, err, _ := s.reloads.Do(id.String(), func() (interface{}, error) {
		sprint, err := s.GetSprint(id)
		if err != nil {
			return nil, err
		}
		doc := sprint.ToDTO()

		// Кэш снимка живет только пока на спринт кто-то смотрит
		s.mu.Lock()
		if r, ok := s.rooms[id]; ok {
			r.doc = doc
		}
		s.mu.Unlock()

		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return doc.(*dto.Sprint), nil
}

func (s *Store) publish(id uuid.UUID) {
	s.mu.RLock()
	r, ok := s.rooms[id]
	if !ok {
		s.mu.RUnlock()
		return
	}
	snapshot := s.snapshotLocked(id, r)
	cbs := make([]func(*dto.Sprint), 0, len(r.subs))
	for _, cb := range r.subs {
		cbs = append(cbs, cb)
	}
	s.mu.RUnlock()

	for _, cb := range cbs {
		cb(snapshot)
	}
}
