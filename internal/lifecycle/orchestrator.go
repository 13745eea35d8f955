package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tally/internal/logs"
	"tally/internal/mail"
	"tally/internal/models"
	"tally/internal/repo"
	"tally/internal/token"
)

// Orchestrator — единственная точка записи в пару «строка КП + строка токена».
// Каждый переход выполняется в одной gorm-транзакции; уведомления уходят
// строго после коммита и не влияют на результат операции.
type Orchestrator struct {
	db       *gorm.DB
	mailer   mail.Dispatcher
	baseURL  string
	validFor time.Duration
}

func New(db *gorm.DB, mailer mail.Dispatcher, baseURL string, validFor time.Duration) *Orchestrator {
	return &Orchestrator{db: db, mailer: mailer, baseURL: baseURL, validFor: validFor}
}

type SendOptions struct {
	// ValidFor перекрывает срок действия из конфигурации (0 — дефолт).
	ValidFor time.Duration
}

// SendQuote переводит DRAFT→SENT (или перевыпускает токен для уже
// отправленного КП). В транзакции: строка КП + новый токен + гашение
// прежних активных токенов + запись аудита. Письмо — после коммита.
func (o *Orchestrator) SendQuote(ctx context.Context, orgID, quoteID, actorID uint, opts SendOptions) (*models.Quote, *models.AcceptanceToken, error) {
	q, err := repo.NewQuoteStore(o.db).GetForOrg(ctx, orgID, quoteID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, errf(KindNotFound, "quote %d not found", quoteID)
	}
	if err != nil {
		return nil, nil, err
	}

	if !CanTransition(q.Status, models.QuoteStatusSent) {
		return nil, nil, errf(KindConflict, "quote must be in DRAFT or SENT status, got %s", q.Status)
	}
	if len(q.Items) == 0 {
		return nil, nil, errf(KindValidation, "quote has no line items")
	}
	if q.Customer == nil {
		return nil, nil, errf(KindNotFound, "customer %d not found", q.CustomerID)
	}
	if q.Customer.Email == "" {
		return nil, nil, errf(KindValidation, "customer has no email address")
	}
	var org models.Organization
	if err := o.db.WithContext(ctx).First(&org, orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, errf(KindNotFound, "organization %d not found", orgID)
		}
		return nil, nil, err
	}

	// bcrypt медленный — генерируем до открытия транзакции
	secret, hash, err := token.Issue()
	if err != nil {
		return nil, nil, err
	}

	validFor := o.validFor
	if opts.ValidFor > 0 {
		validFor = opts.ValidFor
	}
	now := time.Now().UTC()
	expiresAt := now.Add(validFor)

	before := *q
	tok := models.AcceptanceToken{
		QuoteID:    q.ID,
		OrgID:      orgID,
		IssuedBy:   actorID,
		SecretHash: hash,
		Status:     models.TokenStatusActive,
		ExpiresAt:  &expiresAt,
	}

	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q.Status = models.QuoteStatusSent
		q.SentAt = &now
		q.ExpiresAt = &expiresAt
		if q.PublicViewToken == "" {
			q.PublicViewToken = token.NewViewToken()
		}
		// guard по статусу: между предварительной проверкой и транзакцией
		// проходит bcrypt (~сотни мс) — за это время КП мог акцептовать
		// контрагент, и терминальный статус откатывать нельзя
		res := tx.Model(&models.Quote{}).
			Where("id = ? AND status IN ?", q.ID,
				[]string{models.QuoteStatusDraft, models.QuoteStatusSent}).
			Updates(map[string]any{
				"status":            q.Status,
				"sent_at":           q.SentAt,
				"expires_at":        q.ExpiresAt,
				"public_view_token": q.PublicViewToken,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errf(KindConflict, "quote %d changed state concurrently", q.ID)
		}
		ts := repo.NewTokenStore(tx)
		if err := ts.Create(ctx, &tok); err != nil {
			return err
		}
		if err := ts.InvalidateOthers(ctx, q.ID, tok.ID); err != nil {
			return err
		}
		return repo.NewAuditStore(tx).Record(ctx, repo.AuditEntry{
			OrgID: orgID, ActorID: actorID, Actor: fmt.Sprintf("user:%d", actorID),
			EntityType: "quote", EntityID: q.ID, Action: "send",
			Before: before, After: q,
		})
	})
	if err != nil {
		return nil, nil, err
	}

	msg := mail.QuoteSent(q.Customer.Name, org.Name,
		o.acceptURL(q.ID, secret), o.rejectURL(q.ID, secret), o.viewURL(q.ID, q.PublicViewToken),
		formatMoney(q.Total, q.Currency))
	msg.To = []string{q.Customer.Email}
	mail.Async(o.mailer, msg)

	logs.Logger.Infof("quote %d sent to %s (org %d), token %d issued", q.ID, q.Customer.Email, orgID, tok.ID)
	return q, &tok, nil
}

// AcceptQuote — акцепт по bearer-секрету из письма. SENT→ACCEPTED, токен→USED.
// Гонка двух акцептов решается guard-ами по статусу в UPDATE: проигравший
// получает ErrInvalidToken.
func (o *Orchestrator) AcceptQuote(ctx context.Context, quoteID uint, secret, email, notes, ip string) (*models.Quote, error) {
	q, matched, err := o.loadForRedemption(ctx, quoteID, secret)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	before := *q
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Quote{}).
			Where("id = ? AND status = ?", q.ID, models.QuoteStatusSent).
			Updates(map[string]any{"status": models.QuoteStatusAccepted, "accepted_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidToken
		}
		if err := repo.NewTokenStore(tx).MarkUsed(ctx, matched.ID, repo.RedemptionInput{
			By: email, IP: ip, Notes: notes,
		}); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrInvalidToken
			}
			return err
		}
		q.Status = models.QuoteStatusAccepted
		q.AcceptedAt = &now
		return repo.NewAuditStore(tx).Record(ctx, repo.AuditEntry{
			OrgID: q.OrgID, Actor: "customer:" + email,
			EntityType: "quote", EntityID: q.ID, Action: "accept",
			Before: before, After: q,
		})
	})
	if err != nil {
		return nil, err
	}

	// best-effort: capability на запись на встречу; сбой не откатывает акцепт
	bookingURL := ""
	if bt, err := o.issueBookingToken(ctx, q); err != nil {
		logs.Logger.Errorf("booking token for quote %d failed: %v", q.ID, err)
	} else {
		bookingURL = fmt.Sprintf("%s/booking?token=%s", o.baseURL, bt.Token)
	}

	name := email
	if q.Customer != nil {
		name = q.Customer.Name
	}
	msg := mail.QuoteAccepted(name, q.ID, bookingURL)
	msg.To = []string{email}
	mail.Async(o.mailer, msg)

	logs.Logger.Infof("quote %d accepted by %s, token %d used", q.ID, email, matched.ID)
	return q, nil
}

// RejectQuote — отказ. В отличие от акцепта гасим ВСЕ активные токены:
// отказ окончателен, и старые ссылки из писем не должны оставаться живыми.
func (o *Orchestrator) RejectQuote(ctx context.Context, quoteID uint, secret, email, reason, ip string) (*models.Quote, error) {
	q, matched, err := o.loadForRedemption(ctx, quoteID, secret)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	before := *q
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Quote{}).
			Where("id = ? AND status = ?", q.ID, models.QuoteStatusSent).
			Updates(map[string]any{
				"status":           models.QuoteStatusRejected,
				"rejected_at":      now,
				"rejection_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidToken
		}
		ts := repo.NewTokenStore(tx)
		if err := ts.MarkUsed(ctx, matched.ID, repo.RedemptionInput{
			By: email, IP: ip, Notes: reason,
		}); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrInvalidToken
			}
			return err
		}
		if err := ts.InvalidateAll(ctx, q.ID); err != nil {
			return err
		}
		q.Status = models.QuoteStatusRejected
		q.RejectedAt = &now
		q.RejectionReason = reason
		return repo.NewAuditStore(tx).Record(ctx, repo.AuditEntry{
			OrgID: q.OrgID, Actor: "customer:" + email,
			EntityType: "quote", EntityID: q.ID, Action: "reject",
			Before: before, After: q,
		})
	})
	if err != nil {
		return nil, err
	}

	name := email
	if q.Customer != nil {
		name = q.Customer.Name
	}
	msg := mail.QuoteRejected(name, q.ID, reason)
	msg.To = []string{email}
	mail.Async(o.mailer, msg)

	logs.Logger.Infof("quote %d rejected by %s", q.ID, email)
	return q, nil
}

// ExpireOldQuotes — фоновая уборка: SENT с истёкшим сроком → EXPIRED,
// активные токены гасятся. Идемпотентна: повторный прогон даёт 0 строк.
func (o *Orchestrator) ExpireOldQuotes(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	rows, err := repo.NewQuoteStore(o.db).ListExpiredSent(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range rows {
		q := rows[i]
		before := q
		err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Quote{}).
				Where("id = ? AND status = ?", q.ID, models.QuoteStatusSent).
				Update("status", models.QuoteStatusExpired)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil // кто-то успел раньше — не считаем
			}
			if err := repo.NewTokenStore(tx).InvalidateAll(ctx, q.ID); err != nil {
				return err
			}
			q.Status = models.QuoteStatusExpired
			expired++
			return repo.NewAuditStore(tx).Record(ctx, repo.AuditEntry{
				OrgID: q.OrgID, Actor: "sweep",
				EntityType: "quote", EntityID: q.ID, Action: "expire",
				Before: before, After: q,
			})
		})
		if err != nil {
			return expired, err
		}
	}
	if expired > 0 {
		logs.Logger.Infof("expired %d quotes", expired)
	}
	return expired, nil
}

// MarkViewed — отметка просмотра по несекретному view-токену.
func (o *Orchestrator) MarkViewed(ctx context.Context, quoteID uint, viewToken string) (*models.Quote, error) {
	q, err := repo.NewQuoteStore(o.db).MarkViewed(ctx, quoteID, viewToken)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errf(KindNotFound, "quote %d not found", quoteID)
	}
	return q, err
}

// loadForRedemption — общие проверки accept/reject: статус SENT,
// верификация секрета по активным токенам, срок действия самого КП.
// Порядок важен: срок токена проверяется внутри верификации (fail closed),
// срок КП — отдельной проверкой после неё.
func (o *Orchestrator) loadForRedemption(ctx context.Context, quoteID uint, secret string) (*models.Quote, *models.AcceptanceToken, error) {
	q, err := repo.NewQuoteStore(o.db).Get(ctx, quoteID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, errf(KindNotFound, "quote %d not found", quoteID)
	}
	if err != nil {
		return nil, nil, err
	}
	if q.Status != models.QuoteStatusSent {
		// повтор уже погашенного секрета — одноразовость, а не конфликт
		// статусов: отвечаем так же, как на неверный секрет
		all, err := repo.NewTokenStore(o.db).ForQuote(ctx, q.ID)
		if err != nil {
			return nil, nil, err
		}
		for i := range all {
			if token.Verify(all[i].SecretHash, secret) {
				return nil, nil, ErrInvalidToken
			}
		}
		return nil, nil, errf(KindConflict, "quote must be in SENT status, got %s", q.Status)
	}

	active, err := repo.NewTokenStore(o.db).ActiveForQuote(ctx, q.ID)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	var matched *models.AcceptanceToken
	for i := range active {
		if token.Verify(active[i].SecretHash, secret) {
			if active[i].ExpiresAt != nil && active[i].ExpiresAt.Before(now) {
				// хэш совпал, но срок токена вышел — отказ без уточнений
				return nil, nil, ErrInvalidToken
			}
			matched = &active[i]
			break
		}
	}
	if matched == nil {
		return nil, nil, ErrInvalidToken
	}
	if q.ExpiresAt != nil && q.ExpiresAt.Before(now) {
		// срок КП проверяется независимо от валидности токена
		return nil, nil, errf(KindExpired, "quote %d has expired", q.ID)
	}
	return q, matched, nil
}

func (o *Orchestrator) issueBookingToken(ctx context.Context, q *models.Quote) (*models.BookingToken, error) {
	exp := time.Now().UTC().Add(30 * 24 * time.Hour)
	bt := models.BookingToken{
		QuoteID:   q.ID,
		OrgID:     q.OrgID,
		Token:     token.NewViewToken(),
		ExpiresAt: &exp,
	}
	if err := o.db.WithContext(ctx).Create(&bt).Error; err != nil {
		return nil, err
	}
	return &bt, nil
}

func (o *Orchestrator) acceptURL(id uint, secret string) string {
	return fmt.Sprintf("%s/quotes/%d/accept?token=%s", o.baseURL, id, secret)
}
func (o *Orchestrator) rejectURL(id uint, secret string) string {
	return fmt.Sprintf("%s/quotes/%d/reject?token=%s", o.baseURL, id, secret)
}
func (o *Orchestrator) viewURL(id uint, viewToken string) string {
	return fmt.Sprintf("%s/quotes/%d/view?token=%s", o.baseURL, id, viewToken)
}

func formatMoney(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}
