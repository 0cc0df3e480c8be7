// Содержит структуры данных (DTO) для представления спринтов, карточек доски,
// пользователей и активностей. Используется для обмена данными между слоями
// приложения и для выдачи состояния спринта подписчикам в реальном времени.
//
// Основные возможности:
//   - Легкие и полные представления спринта.
//   - Представление карточек доски с привязкой к колонкам.
//   - Лента активностей спринта.
package dto

import (
	"time"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/gofrs/uuid"
)

type SprintLight struct {
	Id         uuid.UUID          `json:"id"`
	Name       string             `json:"name"`
	SequenceId int                `json:"sequence_id"`
	Status     types.SprintStatus `json:"status"`

	AllowGuestAccess bool `json:"allow_guest_access"`
	PasswordRequired bool `json:"password_required"`

	Columns types.StringList `json:"columns"`
}

type Sprint struct {
	SprintLight

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	Host    *UserLight     `json:"host"`
	Stories []SprintStory  `json:"stories,omitempty"`
	Members []SprintMember `json:"members,omitempty"`

	// Эфемерные участники текущей сессии; восстанавливаются из sprint-store,
	// в базе не хранятся
	Participants []types.Participant `json:"participants,omitempty"`
}

type SprintStory struct {
	Id        uuid.UUID  `json:"id"`
	SprintId  uuid.UUID  `json:"sprint_id"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	Column    string     `json:"column"`
	Position  int        `json:"position"`
	Points    *int       `json:"points,omitempty" extensions:"x-nullable"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type SprintMember struct {
	Id       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	TeamId   *string   `json:"team_id,omitempty" extensions:"x-nullable"`
	JoinedAt time.Time `json:"joined_at"`
}

type SprintActivity struct {
	Id        uuid.UUID              `json:"id"`
	Type      string                 `json:"type"`
	SprintId  uuid.UUID              `json:"sprint_id"`
	UserId    string                 `json:"user_id"`
	UserName  string                 `json:"user_name"`
	CreatedAt time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// SprintAccess - выданное разрешение на участие в сессии спринта.
type SprintAccess struct {
	SprintId         uuid.UUID         `json:"sprint_id"`
	ParticipantId    string            `json:"participant_id"`
	AccessLevel      types.AccessLevel `json:"access_level"`
	PasswordRequired bool              `json:"password_required"`
	SessionToken     string            `json:"session_token,omitempty"`
	ExpiresAt        time.Time         `json:"expires_at"`
	GrantedAt        time.Time         `json:"granted_at"`
	GrantedBy        string            `json:"granted_by"`
}
