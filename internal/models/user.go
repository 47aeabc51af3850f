package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the local account. Accounts are issued by the auth service; this
// service only resolves them by id or username.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"uniqueIndex;size:50;not null" json:"username"`
	Name      string         `gorm:"size:100" json:"name"`
	Nickname  *string        `gorm:"uniqueIndex;size:50" json:"nickname"`
	Role      string         `gorm:"size:20;not null;default:'user'" json:"role"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
