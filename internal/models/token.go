package models

import (
	"time"

	"gorm.io/gorm"
)

// Статусы токена акцепта. USED и INVALIDATED — необратимы.
const (
	TokenStatusActive      = "active"
	TokenStatusUsed        = "used"
	TokenStatusInvalidated = "invalidated"
)

// AcceptanceToken — одноразовый bearer-токен для акцепта/отказа по КП.
// Храним только bcrypt-хэш секрета; сам секрет один раз уходит в письмо.
// Записи не удаляются (аудит): при перевыпуске старые переводятся в INVALIDATED.
type AcceptanceToken struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	QuoteID    uint   `gorm:"index;not null" json:"quote_id"`
	OrgID      uint   `gorm:"index;not null" json:"org_id"`
	IssuedBy   uint   `gorm:"not null" json:"issued_by"`
	SecretHash []byte `gorm:"not null" json:"-"`

	Status    string     `gorm:"size:32;not null;default:'active';index" json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	RedeemedBy      string     `gorm:"size:255" json:"redeemed_by,omitempty"` // email контрагента
	RedeemedAt      *time.Time `json:"redeemed_at,omitempty"`
	RedemptionIP    string     `gorm:"size:64" json:"redemption_ip,omitempty"`
	RedemptionNotes string     `gorm:"size:1024" json:"redemption_notes,omitempty"`
}

// BookingToken — capability на запись на встречу, выдаётся best-effort
// после акцепта КП. Сбой выдачи не откатывает акцепт.
type BookingToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	QuoteID   uint       `gorm:"index;not null" json:"quote_id"`
	OrgID     uint       `gorm:"index;not null" json:"org_id"`
	Token     string     `gorm:"uniqueIndex;size:64;not null" json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
