package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"tally/internal/models"
)

type TokenStore struct{ db *gorm.DB }

func NewTokenStore(db *gorm.DB) *TokenStore { return &TokenStore{db: db} }

func (s *TokenStore) Create(ctx context.Context, t *models.AcceptanceToken) error {
	return s.db.WithContext(ctx).Create(t).Error
}

// ActiveForQuote — токены в статусе ACTIVE. Срок действия здесь не фильтруем:
// истечение перепроверяется при верификации (fail closed), а истёкшие записи
// остаются видимыми для аудита.
func (s *TokenStore) ActiveForQuote(ctx context.Context, quoteID uint) ([]models.AcceptanceToken, error) {
	var rows []models.AcceptanceToken
	err := s.db.WithContext(ctx).
		Where("quote_id = ? AND status = ?", quoteID, models.TokenStatusActive).
		Order("id desc").
		Find(&rows).Error
	return rows, err
}

// ForQuote — все токены КП независимо от статуса. Нужен погашению:
// предъявление уже использованного секрета должно отличаться от
// обращения с произвольной строкой.
func (s *TokenStore) ForQuote(ctx context.Context, quoteID uint) ([]models.AcceptanceToken, error) {
	var rows []models.AcceptanceToken
	err := s.db.WithContext(ctx).
		Where("quote_id = ?", quoteID).
		Order("id desc").
		Find(&rows).Error
	return rows, err
}

type RedemptionInput struct {
	By    string // email контрагента
	IP    string
	Notes string
}

// MarkUsed переводит токен ACTIVE→USED с метаданными погашения.
// Guard по статусу в WHERE: проигравший из двух конкурентных акцептов
// не найдёт активной записи и получит ErrNotFound.
func (s *TokenStore) MarkUsed(ctx context.Context, tokenID uint, in RedemptionInput) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.AcceptanceToken{}).
		Where("id = ? AND status = ?", tokenID, models.TokenStatusActive).
		Updates(map[string]any{
			"status":           models.TokenStatusUsed,
			"redeemed_by":      in.By,
			"redeemed_at":      now,
			"redemption_ip":    in.IP,
			"redemption_notes": in.Notes,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// InvalidateAll гасит все активные токены КП (отказ, истечение срока).
func (s *TokenStore) InvalidateAll(ctx context.Context, quoteID uint) error {
	return s.db.WithContext(ctx).Model(&models.AcceptanceToken{}).
		Where("quote_id = ? AND status = ?", quoteID, models.TokenStatusActive).
		Update("status", models.TokenStatusInvalidated).Error
}

// InvalidateOthers гасит все активные токены, кроме только что выпущенного
// (перевыпуск при повторной отправке).
func (s *TokenStore) InvalidateOthers(ctx context.Context, quoteID, keepID uint) error {
	return s.db.WithContext(ctx).Model(&models.AcceptanceToken{}).
		Where("quote_id = ? AND status = ? AND id <> ?", quoteID, models.TokenStatusActive, keepID).
		Update("status", models.TokenStatusInvalidated).Error
}
