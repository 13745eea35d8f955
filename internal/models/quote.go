package models

import (
	"time"

	"gorm.io/gorm"
)

// Статусы КП. Переходы только вперёд:
// DRAFT → SENT → ACCEPTED|REJECTED, SENT → EXPIRED (фоновый sweep).
// ACCEPTED, REJECTED, EXPIRED — терминальные.
const (
	QuoteStatusDraft    = "draft"
	QuoteStatusSent     = "sent"
	QuoteStatusAccepted = "accepted"
	QuoteStatusRejected = "rejected"
	QuoteStatusExpired  = "expired"
)

// Quote — коммерческое предложение клиенту.
// Плейнтекст токена акцепта здесь НЕ храним — только в таблице acceptance_tokens
// лежит его bcrypt-хэш. PublicViewToken — несекретный, только для отметки просмотра.
type Quote struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrgID      uint   `gorm:"index;not null" json:"org_id"`
	CustomerID uint   `gorm:"index;not null" json:"customer_id"`
	Status     string `gorm:"size:32;not null;default:'draft'" json:"status"`
	Currency   string `gorm:"size:8;not null;default:'EUR'" json:"currency"`
	// Total — сумма в минимальных единицах валюты (центы).
	Total int64  `json:"total"`
	Notes string `gorm:"size:2048" json:"notes,omitempty"`

	Items    []QuoteItem `gorm:"foreignKey:QuoteID" json:"items"`
	Customer *Customer   `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`

	PublicViewToken string `gorm:"index;size:64" json:"-"`

	SentAt     *time.Time `json:"sent_at,omitempty"`
	ViewedAt   *time.Time `json:"viewed_at,omitempty"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
	ExpiresAt  *time.Time `gorm:"index" json:"expires_at,omitempty"`

	RejectionReason string `gorm:"size:1024" json:"rejection_reason,omitempty"`
}

type QuoteItem struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	QuoteID uint `gorm:"index;not null" json:"quote_id"`

	Description string `gorm:"size:512;not null" json:"description"`
	Quantity    int    `gorm:"not null;default:1" json:"quantity"`
	// UnitPrice — цена за единицу в центах.
	UnitPrice int64 `gorm:"not null" json:"unit_price"`
}

// Amount — сумма строки в центах.
func (it QuoteItem) Amount() int64 { return int64(it.Quantity) * it.UnitPrice }

// ComputeTotal пересчитывает сумму КП по строкам.
func (q *Quote) ComputeTotal() int64 {
	var sum int64
	for _, it := range q.Items {
		sum += it.Amount()
	}
	return sum
}

// QuoteStatusTerminal — из статуса нет дальнейших переходов.
func QuoteStatusTerminal(status string) bool {
	switch status {
	case QuoteStatusAccepted, QuoteStatusRejected, QuoteStatusExpired:
		return true
	}
	return false
}
