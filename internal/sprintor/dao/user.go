package dao

import (
	"time"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dto"
	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// User - хост спринтов. Обычные участники сессий не имеют учетных записей,
// их присутствие эфемерно и живет только внутри сессии.
type User struct {
	ID        string `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Email    string `json:"email" gorm:"uniqueIndex"`
	Password string `json:"-"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`

	LastActive      *time.Time `json:"last_active" extensions:"x-nullable"`
	LastLoginTime   *time.Time `json:"last_login_time" extensions:"x-nullable"`
	LastLoginIp     string     `json:"last_login_ip"`
	LastLoginUagent string     `json:"last_login_uagent"`

	IsActive    bool `json:"is_active" gorm:"default:true"`
	IsSuperuser bool `json:"is_superuser" gorm:"default:false"`
}

func (User) TableName() string { return "users" }

func (u User) String() string {
	return u.Email
}

func (u *User) GetName() string {
	if u.FirstName != "" && u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.Email
}

func (u *User) ToLightDTO() *dto.UserLight {
	if u == nil {
		return nil
	}
	id, _ := uuid.FromString(u.ID)
	return &dto.UserLight{
		ID:          id,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		LastActive:  u.LastActive,
		CreatedAt:   u.CreatedAt,
		IsSuperuser: u.IsSuperuser,
		IsActive:    u.IsActive,
	}
}

// UpdateUserLastActivityTime Обновляет время последней активности пользователя,
// если с прошлого обновления прошло больше минуты.
func UpdateUserLastActivityTime(db *gorm.DB, user *User) error {
	if user.LastActive != nil && time.Since(*user.LastActive) < time.Minute {
		return nil
	}
	tm := time.Now()
	user.LastActive = &tm
	return db.Model(user).Select("LastActive").Updates(user).Error
}
