// Базовые типы предметной области: уровни доступа к спринту, статусы жизненного
// цикла спринта, палитра цветов участников и временные окна протокола совместной
// работы.
//
// Основные возможности:
//   - Уровни доступа view/contribute/admin с упорядочиванием прав.
//   - Статусы спринта с проверкой монотонности переходов.
//   - Фиксированная палитра цветов для участников сессии.
//   - Константы протокола: время жизни токена, интервал heartbeat, окна debounce/throttle.
package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

const (
	// Время жизни сессионного токена и окно его продления
	SessionTokenExpiresPeriod = time.Minute * 5
	SessionTokenRenewPeriod   = time.Minute * 5

	// Время жизни пользовательского токена (вход хоста по email)
	UserTokenExpiresPeriod = time.Hour * 24

	HeartbeatInterval = time.Second * 30
	// Два пропущенных heartbeat подряд переводят сессию в error
	HeartbeatFailureLimit = 2

	CursorDebounceWindow  = time.Millisecond * 100
	PointerThrottleWindow = time.Millisecond * 100

	// Максимальный размер ленты активностей спринта
	ActivityFeedLimit = 100

	ParticipantNameMaxLen = 50
)

type AccessLevel string

const (
	ViewAccess       AccessLevel = "view"
	ContributeAccess AccessLevel = "contribute"
	AdminAccess      AccessLevel = "admin"
)

var accessLevelRank = map[AccessLevel]int{
	ViewAccess:       1,
	ContributeAccess: 2,
	AdminAccess:      3,
}

func (al AccessLevel) Valid() bool {
	_, ok := accessLevelRank[al]
	return ok
}

// CanMutate Возвращает true, если уровень доступа позволяет изменять состояние доски.
func (al AccessLevel) CanMutate() bool {
	return accessLevelRank[al] >= accessLevelRank[ContributeAccess]
}

func (al AccessLevel) IsAdmin() bool {
	return al == AdminAccess
}

func (al AccessLevel) String() string {
	return string(al)
}

type SprintStatus string

const (
	SprintDraft     SprintStatus = "draft"
	SprintActive    SprintStatus = "active"
	SprintCompleted SprintStatus = "completed"
	SprintCancelled SprintStatus = "cancelled"
)

var sprintStatusOrder = map[SprintStatus]int{
	SprintDraft:     0,
	SprintActive:    1,
	SprintCompleted: 2,
	SprintCancelled: 2,
}

func (ss SprintStatus) Valid() bool {
	_, ok := sprintStatusOrder[ss]
	return ok
}

// CanTransitionTo Проверяет монотонность перехода статуса спринта.
// Реактивация завершенного спринта намеренно не поддерживается.
func (ss SprintStatus) CanTransitionTo(next SprintStatus) bool {
	if !ss.Valid() || !next.Valid() {
		return false
	}
	if ss == next {
		return true
	}
	return sprintStatusOrder[next] > sprintStatusOrder[ss]
}

// ParticipantPalette - фиксированная палитра цветов участников.
// Цвет выбирается один раз при входе и не меняется до конца сессии.
var ParticipantPalette = []string{
	"#ef4444", "#f97316", "#f59e0b", "#84cc16",
	"#22c55e", "#14b8a6", "#06b6d4", "#3b82f6",
	"#6366f1", "#8b5cf6", "#d946ef", "#ec4899",
}

type Cursor struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	CardId string  `json:"card_id,omitempty"`
}

// Participant - эфемерная запись присутствия одного подключенного участника.
// Живет только внутри сессии, в базу данных не сохраняется.
type Participant struct {
	Id       string  `json:"id"`
	Name     string  `json:"name"`
	Color    string  `json:"color"`
	Cursor   *Cursor `json:"cursor,omitempty"`
	IsActive bool    `json:"is_active"`

	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen"`
}

// StringList - JSON колонка для упорядоченного списка (колонки доски спринта).
type StringList []string

func (sl StringList) Value() (driver.Value, error) {
	if sl == nil {
		sl = StringList{}
	}
	return json.Marshal(sl)
}

func (sl *StringList) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, sl)
	case string:
		return json.Unmarshal([]byte(v), sl)
	case nil:
		*sl = StringList{}
		return nil
	}
	return errors.New("unsupported string list column type")
}

// DefaultBoardColumns - колонки доски нового спринта, если хост не задал свои.
var DefaultBoardColumns = StringList{"To Do", "In Progress", "Done"}
