package dao

import (
	"encoding/json"
	"time"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dto"
	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// Типы событий ленты активностей спринта.
const (
	ActivityParticipantJoined = "participant_joined"
	ActivityParticipantLeft   = "participant_left"
	ActivityStoryCreated      = "story_created"
	ActivityStoryUpdated      = "story_updated"
	ActivityStoryMoved        = "story_moved"
	ActivityStoryDeleted      = "story_deleted"
	ActivitySprintUpdated     = "sprint_updated"
)

// SprintActivity - запись ленты активностей. Лента ограничена по размеру и
// не является журналом аудита: старые записи вычищаются фоновой задачей.
type SprintActivity struct {
	Id        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	CreatedAt time.Time `json:"created_at" gorm:"index:sprint_activities_sprint_index,sort:desc,priority:2"`

	Type     string    `json:"type"`
	SprintId uuid.UUID `json:"sprint_id" gorm:"type:uuid;index:sprint_activities_sprint_index,priority:1"`

	UserId   string `json:"user_id"`
	UserName string `json:"user_name"`

	// Произвольные детали события в формате JSON
	Data string `json:"-"`

	Sprint *Sprint `json:"-" gorm:"foreignKey:SprintId" extensions:"x-nullable"`
}

func (SprintActivity) TableName() string { return "sprint_activities" }

func (a *SprintActivity) ToDTO() *dto.SprintActivity {
	if a == nil {
		return nil
	}
	var data map[string]interface{}
	if a.Data != "" {
		// Сломанные детали не должны уронить всю ленту
		_ = json.Unmarshal([]byte(a.Data), &data)
	}
	return &dto.SprintActivity{
		Id:        a.Id,
		Type:      a.Type,
		SprintId:  a.SprintId,
		UserId:    a.UserId,
		UserName:  a.UserName,
		CreatedAt: a.CreatedAt,
		Data:      data,
	}
}

// NewSprintActivity Создает запись активности с сериализованными деталями.
func NewSprintActivity(sprintId uuid.UUID, activityType, userId, userName string, data map[string]interface{}) SprintActivity {
	act := SprintActivity{
		Id:        GenUUID(),
		CreatedAt: time.Now(),
		Type:      activityType,
		SprintId:  sprintId,
		UserId:    userId,
		UserName:  userName,
	}
	if len(data) > 0 {
		if raw, err := json.Marshal(data); err == nil {
			act.Data = string(raw)
		}
	}
	return act
}

// TrimSprintActivities Удаляет записи ленты сверх лимита, начиная с самых старых.
func TrimSprintActivities(db *gorm.DB, sprintId uuid.UUID, keep int) error {
	return db.
		Where("sprint_id = ?", sprintId).
		Where("id NOT IN (?)", db.
			Model(&SprintActivity{}).
			Select("id").
			Where("sprint_id = ?", sprintId).
			Order("created_at desc").
			Limit(keep)).
		Unscoped().
		Delete(&SprintActivity{}).Error
}

// LastSprintActivities Возвращает последние записи ленты в обратном
// хронологическом порядке.
func LastSprintActivities(db *gorm.DB, sprintId uuid.UUID, limit int) ([]SprintActivity, error) {
	var activities []SprintActivity
	err := db.
		Where("sprint_id = ?", sprintId).
		Order("created_at desc").
		Limit(limit).
		Find(&activities).Error
	return activities, err
}
