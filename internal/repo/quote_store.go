package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"tally/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
)

type QuoteStore struct{ db *gorm.DB }

func NewQuoteStore(db *gorm.DB) *QuoteStore { return &QuoteStore{db: db} }

type CreateQuoteInput struct {
	OrgID      uint
	CustomerID uint
	Currency   string
	Notes      string
	Items      []models.QuoteItem
}

// Create заводит черновик КП со строками. Сумма считается по строкам.
func (s *QuoteStore) Create(ctx context.Context, in CreateQuoteInput) (*models.Quote, error) {
	q := models.Quote{
		OrgID:      in.OrgID,
		CustomerID: in.CustomerID,
		Status:     models.QuoteStatusDraft,
		Currency:   strings.ToUpper(strings.TrimSpace(in.Currency)),
		Notes:      in.Notes,
		Items:      in.Items,
	}
	if q.Currency == "" {
		q.Currency = "EUR"
	}
	q.Total = q.ComputeTotal()
	if err := s.db.WithContext(ctx).Create(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// GetForOrg возвращает КП со строками и клиентом в границах организации.
func (s *QuoteStore) GetForOrg(ctx context.Context, orgID, id uint) (*models.Quote, error) {
	var q models.Quote
	err := s.db.WithContext(ctx).
		Preload("Items").
		Preload("Customer").
		Where("org_id = ? AND id = ?", orgID, id).
		First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Get — без привязки к организации (публичные accept/reject идут по capability,
// а не по сессии сотрудника).
func (s *QuoteStore) Get(ctx context.Context, id uint) (*models.Quote, error) {
	var q models.Quote
	err := s.db.WithContext(ctx).
		Preload("Items").
		Preload("Customer").
		First(&q, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

type ListQuotesInput struct {
	OrgID  uint
	Status string
	Limit  int
	Offset int
}

func (s *QuoteStore) ListForOrg(ctx context.Context, in ListQuotesInput) ([]models.Quote, int64, error) {
	limit := in.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	dbq := s.db.WithContext(ctx).Where("org_id = ?", in.OrgID)
	if st := strings.TrimSpace(in.Status); st != "" {
		dbq = dbq.Where("status = ?", strings.ToLower(st))
	}
	var total int64
	if err := dbq.Model(&models.Quote{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.Quote
	err := dbq.Preload("Items").Order("id desc").
		Limit(limit).Offset(in.Offset).Find(&rows).Error
	return rows, total, err
}

// MarkViewed отмечает первый просмотр по несекретному view-токену.
// Повторные просмотры дату не сдвигают.
func (s *QuoteStore) MarkViewed(ctx context.Context, id uint, viewToken string) (*models.Quote, error) {
	var q models.Quote
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("id = ? AND public_view_token = ? AND public_view_token <> ''", id, viewToken).
		First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if q.ViewedAt == nil {
		now := time.Now().UTC()
		if err := s.db.WithContext(ctx).Model(&q).Update("viewed_at", now).Error; err != nil {
			return nil, err
		}
		q.ViewedAt = &now
	}
	return &q, nil
}

// ListExpiredSent — отправленные КП с истёкшим сроком (кандидаты на EXPIRED).
func (s *QuoteStore) ListExpiredSent(ctx context.Context, now time.Time) ([]models.Quote, error) {
	var rows []models.Quote
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.QuoteStatusSent, now).
		Find(&rows).Error
	return rows, err
}
