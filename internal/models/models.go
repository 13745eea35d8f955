package models

import (
	"time"

	"gorm.io/gorm"
)

// Organization — арендатор (tenant). Все доменные записи привязаны к организации.
type Organization struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"size:255;not null" json:"name"`
	Email     string         `gorm:"size:255" json:"email"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// User — сотрудник организации. Пароль храним только bcrypt-хэшем.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	OrgID        uint      `gorm:"index;not null" json:"org_id"`
	Email        string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash []byte    `gorm:"not null" json:"-"`
	Name         string    `gorm:"size:255" json:"name"`
	Role         string    `gorm:"size:64;not null;default:'staff'" json:"role"` // owner|staff|viewer
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Customer — внешний контрагент, адресат КП. Не логинится: действует по capability-ссылкам.
type Customer struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	OrgID     uint           `gorm:"index;not null" json:"org_id"`
	Name      string         `gorm:"size:255;not null" json:"name"`
	Email     string         `gorm:"size:255;not null" json:"email"`
	Phone     string         `gorm:"size:64" json:"phone,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
