package dto

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

type UserLight struct {
	ID         uuid.UUID  `json:"id"`
	Email      string     `json:"email"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	LastActive *time.Time `json:"last_active" extensions:"x-nullable"`
	CreatedAt  time.Time  `json:"created_at"`

	IsSuperuser bool `json:"is_superuser"`
	IsActive    bool `json:"is_active"`
}

func (u *UserLight) GetName() string {
	if u.FirstName != "" && u.LastName != "" {
		return fmt.Sprintf("%s %s", u.FirstName, u.LastName)
	}
	return u.Email
}
