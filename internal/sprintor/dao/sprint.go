package dao

import (
	"database/sql"
	"time"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dto"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// Sprint - корневой агрегат. Ровно один HostId; политика доступа задается
// полями PasswordHash и AllowGuestAccess. Участники сессий (participants) в
// агрегате базы не хранятся: они эфемерны и живут в sprint-store.
type Sprint struct {
	Id        uuid.UUID `gorm:"primaryKey;type:uuid"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`

	HostId string `gorm:"index;uniqueIndex:sprint_uniq_idx,priority:1,where:deleted_at is NULL"`
	Host   *User  `gorm:"foreignKey:HostId"`

	Name       string             `json:"name"`
	SequenceId int                `json:"sequence_id" gorm:"default:1;uniqueIndex:sprint_uniq_idx,priority:2,where:deleted_at is NULL"`
	Status     types.SprintStatus `json:"status" gorm:"default:draft"`

	PasswordHash     string `json:"-"`
	AllowGuestAccess bool   `json:"allow_guest_access" gorm:"default:false"`

	Columns types.StringList `json:"columns" gorm:"type:text"`

	Stories []SprintStory  `gorm:"foreignKey:SprintId"`
	Members []SprintMember `gorm:"foreignKey:SprintId"`
}

func (Sprint) TableName() string { return "sprints" }

// GetId Возвращает идентификатор спринта в виде строки.
func (s Sprint) GetId() string {
	return s.Id.String()
}

// GetString Возвращает заголовок спринта.
func (s Sprint) GetString() string {
	return s.Name
}

func (s Sprint) PasswordRequired() bool {
	return s.PasswordHash != "" && !s.AllowGuestAccess
}

func (s *Sprint) BeforeCreate(tx *gorm.DB) (err error) {
	// Calculate sequence id
	var lastId sql.NullInt64
	row := tx.Model(Sprint{}).
		Select("max(sequence_id)").
		Where("host_id = ?", s.HostId).
		Row()
	if err := row.Scan(&lastId); err != nil {
		return err
	}

	if lastId.Valid {
		s.SequenceId = int(lastId.Int64 + 1)
	} else {
		s.SequenceId = 1
	}

	if len(s.Columns) == 0 {
		s.Columns = types.DefaultBoardColumns
	}

	return nil
}

func (s *Sprint) BeforeDelete(tx *gorm.DB) (err error) {
	if err := tx.Where("sprint_id = ?", s.Id).
		Unscoped().Delete(&SprintActivity{}).Error; err != nil {
		return err
	}

	if err := tx.Where("sprint_id = ?", s.Id).
		Delete(&SprintMember{}).Error; err != nil {
		return err
	}

	return tx.Where("sprint_id = ?", s.Id).Delete(&SprintStory{}).Error
}

func (s *Sprint) ToLightDTO() *dto.SprintLight {
	if s == nil {
		return nil
	}
	return &dto.SprintLight{
		Id:               s.Id,
		Name:             s.Name,
		SequenceId:       s.SequenceId,
		Status:           s.Status,
		AllowGuestAccess: s.AllowGuestAccess,
		PasswordRequired: s.PasswordRequired(),
		Columns:          s.Columns,
	}
}

func (s *Sprint) ToDTO() *dto.Sprint {
	if s == nil {
		return nil
	}
	return &dto.Sprint{
		SprintLight: *s.ToLightDTO(),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   &s.UpdatedAt,
		Host:        s.Host.ToLightDTO(),
		Stories: SliceToSlice(&s.Stories, func(st *SprintStory) dto.SprintStory {
			return *st.ToDTO()
		}),
		Members: SliceToSlice(&s.Members, func(m *SprintMember) dto.SprintMember {
			return *m.ToDTO()
		}),
	}
}

// SprintStory - карточка доски спринта, привязана к колонке и позиции в ней.
type SprintStory struct {
	Id        uuid.UUID `gorm:"primaryKey;type:uuid"`
	CreatedAt time.Time
	UpdatedAt time.Time

	SprintId uuid.UUID `gorm:"type:uuid;not null;index"`
	Sprint   *Sprint   `gorm:"foreignKey:SprintId;references:Id"`

	Title    string `json:"title"`
	Body     string `json:"body"`
	Column   string `json:"column" gorm:"column:board_column"`
	Position int    `json:"position" gorm:"default:0;index"`
	Points   *int   `json:"points" extensions:"x-nullable"`

	CreatedById string `json:"created_by_id"`
}

func (SprintStory) TableName() string { return "sprint_stories" }

func (st *SprintStory) ToDTO() *dto.SprintStory {
	if st == nil {
		return nil
	}
	return &dto.SprintStory{
		Id:        st.Id,
		SprintId:  st.SprintId,
		Title:     st.Title,
		Body:      st.Body,
		Column:    st.Column,
		Position:  st.Position,
		Points:    st.Points,
		CreatedAt: st.CreatedAt,
		UpdatedAt: &st.UpdatedAt,
	}
}

// SprintMember - постоянный участник команды спринта. В отличие от
// эфемерного participant переживает завершение сессии.
type SprintMember struct {
	Id        uuid.UUID `gorm:"primaryKey;type:uuid"`
	CreatedAt time.Time

	SprintId uuid.UUID `gorm:"type:uuid;index;uniqueIndex:sprint_member_uniq_idx,priority:1"`
	Sprint   *Sprint   `gorm:"foreignKey:SprintId" extensions:"x-nullable"`

	Name   string  `json:"name" gorm:"uniqueIndex:sprint_member_uniq_idx,priority:2"`
	TeamId *string `json:"team_id" extensions:"x-nullable"`
}

func (SprintMember) TableName() string { return "sprint_members" }

func (m *SprintMember) ToDTO() *dto.SprintMember {
	if m == nil {
		return nil
	}
	return &dto.SprintMember{
		Id:       m.Id,
		Name:     m.Name,
		TeamId:   m.TeamId,
		JoinedAt: m.CreatedAt,
	}
}
