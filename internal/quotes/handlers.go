package quotes

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"tally/internal/auth"
	"tally/internal/lifecycle"
	"tally/internal/models"
	"tally/internal/repo"
)

type Handler struct {
	db     *gorm.DB
	quotes *repo.QuoteStore
	orch   *lifecycle.Orchestrator
}

func NewHandler(db *gorm.DB, quotes *repo.QuoteStore, orch *lifecycle.Orchestrator) *Handler {
	return &Handler{db: db, quotes: quotes, orch: orch}
}

// writeLifecycleError маппит структурный класс ошибки в HTTP-код.
func writeLifecycleError(w http.ResponseWriter, err error) {
	switch lifecycle.KindOf(err) {
	case lifecycle.KindNotFound:
		models.WriteProblem(w, http.StatusNotFound, "Not Found", err.Error(), nil)
	case lifecycle.KindConflict:
		models.WriteProblem(w, http.StatusConflict, "Conflict", err.Error(), nil)
	case lifecycle.KindValidation:
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
	case lifecycle.KindToken:
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), nil)
	case lifecycle.KindExpired:
		models.WriteProblem(w, http.StatusUnprocessableEntity, "Expired", err.Error(), nil)
	default:
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed", nil)
	}
}

func pathID(r *http.Request) uint {
	n, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	return uint(n)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ---------- Staff: клиенты ----------

type createCustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// POST /api/v1/customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req createCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "name and email are required", nil)
		return
	}
	c := models.Customer{
		OrgID: id.OrgID,
		Name:  strings.TrimSpace(req.Name),
		Email: strings.ToLower(strings.TrimSpace(req.Email)),
		Phone: strings.TrimSpace(req.Phone),
	}
	if err := h.db.WithContext(r.Context()).Create(&c).Error; err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to create customer", nil)
		return
	}
	models.WriteJSON(w, http.StatusCreated, c)
}

// GET /api/v1/customers/{id}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var c models.Customer
	err := h.db.WithContext(r.Context()).
		Where("org_id = ? AND id = ?", id.OrgID, pathID(r)).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "customer not found", nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to load customer", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, c)
}

// GET /api/v1/customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var rows []models.Customer
	if err := h.db.WithContext(r.Context()).
		Where("org_id = ?", id.OrgID).Order("id desc").Limit(200).
		Find(&rows).Error; err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to list customers", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"items": rows})
}

// ---------- Staff: КП ----------

type createQuoteRequest struct {
	CustomerID uint   `json:"customer_id"`
	Currency   string `json:"currency"`
	Notes      string `json:"notes"`
	Items      []struct {
		Description string `json:"description"`
		Quantity    int    `json:"quantity"`
		UnitPrice   int64  `json:"unit_price"`
	} `json:"items"`
}

// POST /api/v1/quotes — черновик со строками.
func (h *Handler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req createQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	if req.CustomerID == 0 {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "customer_id is required", nil)
		return
	}
	// клиент должен принадлежать той же организации
	var cust models.Customer
	err := h.db.WithContext(r.Context()).
		Where("org_id = ? AND id = ?", id.OrgID, req.CustomerID).
		First(&cust).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "customer not found", nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to create quote", nil)
		return
	}
	items := make([]models.QuoteItem, 0, len(req.Items))
	for _, it := range req.Items {
		if strings.TrimSpace(it.Description) == "" || it.Quantity <= 0 || it.UnitPrice < 0 {
			models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid line item", nil)
			return
		}
		items = append(items, models.QuoteItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	q, err := h.quotes.Create(r.Context(), repo.CreateQuoteInput{
		OrgID:      id.OrgID,
		CustomerID: req.CustomerID,
		Currency:   req.Currency,
		Notes:      req.Notes,
		Items:      items,
	})
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to create quote", nil)
		return
	}
	models.WriteJSON(w, http.StatusCreated, q)
}

// GET /api/v1/quotes?status=&limit=&page=
func (h *Handler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	offset := 0
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			offset = (n - 1) * limit
		}
	}
	rows, total, err := h.quotes.ListForOrg(r.Context(), repo.ListQuotesInput{
		OrgID:  id.OrgID,
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to list quotes", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"items": rows, "total": total, "limit": limit, "offset": offset,
	})
}

// GET /api/v1/quotes/{id}
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	q, err := h.quotes.GetForOrg(r.Context(), id.OrgID, pathID(r))
	if errors.Is(err, repo.ErrNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "quote not found", nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to load quote", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, q)
}

type sendQuoteRequest struct {
	ValidForHours int `json:"valid_for_hours"`
}

// POST /api/v1/quotes/{id}/send — DRAFT→SENT, выпуск токена, письмо.
func (h *Handler) SendQuote(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req sendQuoteRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // тело опционально
	}
	opts := lifecycle.SendOptions{}
	if req.ValidForHours > 0 {
		opts.ValidFor = time.Duration(req.ValidForHours) * time.Hour
	}
	q, tok, err := h.orch.SendQuote(r.Context(), id.OrgID, pathID(r), id.UserID, opts)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	// секрет в ответ не попадает: он уже ушёл в письмо
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"quote": q,
		"token": map[string]any{
			"id":         tok.ID,
			"status":     tok.Status,
			"expires_at": tok.ExpiresAt,
		},
	})
}

// POST /api/v1/quotes/expire-sweep — ручной запуск уборки (обычно по таймеру).
func (h *Handler) ExpireSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.orch.ExpireOldQuotes(r.Context())
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "sweep failed", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"expired": n})
}

// ---------- Public: действия контрагента ----------

// GET /quotes/{id}/view?token=...
func (h *Handler) ViewQuote(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "missing view token", nil)
		return
	}
	q, err := h.orch.MarkViewed(r.Context(), pathID(r), tok)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"id": q.ID, "status": q.Status, "currency": q.Currency,
		"total": q.Total, "items": q.Items,
		"sent_at": q.SentAt, "expires_at": q.ExpiresAt,
	})
}

type redemptionRequest struct {
	Token  string `json:"token"`
	Email  string `json:"email"`
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

// секрет принимаем и из query (ссылка в письме), и из JSON-тела
func (req *redemptionRequest) secretFrom(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return req.Token
}

// POST /quotes/{id}/accept?token=...
func (h *Handler) AcceptQuote(w http.ResponseWriter, r *http.Request) {
	var req redemptionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	secret := req.secretFrom(r)
	if secret == "" {
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "missing acceptance token", nil)
		return
	}
	q, err := h.orch.AcceptQuote(r.Context(), pathID(r), secret, req.Email, req.Notes, clientIP(r))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"id": q.ID, "status": q.Status, "accepted_at": q.AcceptedAt,
	})
}

// POST /quotes/{id}/reject?token=...
func (h *Handler) RejectQuote(w http.ResponseWriter, r *http.Request) {
	var req redemptionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	secret := req.secretFrom(r)
	if secret == "" {
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "missing acceptance token", nil)
		return
	}
	q, err := h.orch.RejectQuote(r.Context(), pathID(r), secret, req.Email, req.Reason, clientIP(r))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"id": q.ID, "status": q.Status, "rejected_at": q.RejectedAt,
	})
}
