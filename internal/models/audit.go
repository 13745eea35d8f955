package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog — журнал переходов. Только добавление, никогда не читается
// бизнес-логикой. Before/After — JSON-снимки сущности.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`

	OrgID      uint           `gorm:"index"`
	ActorID    uint           // сотрудник; 0 — действие контрагента или фоновой задачи
	Actor      string         `gorm:"size:255"`         // "user:42" | "customer:cust@example.com" | "sweep"
	EntityType string         `gorm:"size:64;not null"` // "quote" | "acceptance_token"
	EntityID   uint           `gorm:"index;not null"`
	Action     string         `gorm:"size:64;not null"` // "send" | "accept" | "reject" | "expire" | ...
	Before     datatypes.JSON `gorm:"type:json"`
	After      datatypes.JSON `gorm:"type:json"`
}
