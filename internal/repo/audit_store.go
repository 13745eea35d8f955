package repo

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tally/internal/models"
)

type AuditStore struct{ db *gorm.DB }

func NewAuditStore(db *gorm.DB) *AuditStore { return &AuditStore{db: db} }

type AuditEntry struct {
	OrgID      uint
	ActorID    uint
	Actor      string
	EntityType string
	EntityID   uint
	Action     string
	Before     any
	After      any
}

// Record пишет строку журнала. Снимки сериализуем в JSON здесь,
// чтобы вызывающий передавал сами сущности.
func (s *AuditStore) Record(ctx context.Context, e AuditEntry) error {
	before, _ := json.Marshal(e.Before)
	after, _ := json.Marshal(e.After)
	return s.db.WithContext(ctx).Create(&models.AuditLog{
		OrgID:      e.OrgID,
		ActorID:    e.ActorID,
		Actor:      e.Actor,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		Before:     datatypes.JSON(before),
		After:      datatypes.JSON(after),
	}).Error
}
