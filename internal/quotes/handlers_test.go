package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tally/internal/auth"
	"tally/internal/lifecycle"
	"tally/internal/logs"
	"tally/internal/mail"
	"tally/internal/models"
	"tally/internal/repo"
)

const testJWTSecret = "test-secret"

type capturingDispatcher struct {
	mu sync.Mutex
	ch chan mail.Message
}

func (d *capturingDispatcher) Send(_ context.Context, msg mail.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ch <- msg
	return nil
}

func (d *capturingDispatcher) wait(t *testing.T) mail.Message {
	t.Helper()
	select {
	case m := <-d.ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("no mail dispatched")
		return mail.Message{}
	}
}

type testEnv struct {
	db     *gorm.DB
	router *mux.Router
	mails  *capturingDispatcher
	user   models.User
	org    models.Organization
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	logs.Init(logs.Options{Level: "error"})
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Organization{}, &models.User{}, &models.Customer{},
		&models.Quote{}, &models.QuoteItem{},
		&models.AcceptanceToken{}, &models.BookingToken{}, &models.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	org := models.Organization{Name: "Acme LLC"}
	require.NoError(t, db.Create(&org).Error)
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), 10)
	require.NoError(t, err)
	user := models.User{OrgID: org.ID, Email: "staff@acme.test", PasswordHash: hash, Name: "Staff"}
	require.NoError(t, db.Create(&user).Error)

	mails := &capturingDispatcher{ch: make(chan mail.Message, 16)}
	orch := lifecycle.New(db, mails, "https://tally.test", 30*24*time.Hour)
	h := NewHandler(db, repo.NewQuoteStore(db), orch)
	ah := auth.NewHandler(repo.NewUserStore(db), testJWTSecret, time.Hour, 24*time.Hour)

	r := mux.NewRouter().StrictSlash(true)
	api := r.PathPrefix("/api/v1").Subrouter()
	auth.RegisterRoutes(api, ah)
	RegisterStaffRoutes(api, h, testJWTSecret)
	RegisterPublicRoutes(r, h)

	return &testEnv{db: db, router: r, mails: mails, user: user, org: org}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/auth/login", "",
		`{"email":"staff@acme.test","password":"secret123"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func (e *testEnv) createCustomer(t *testing.T, jwt string) uint {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/customers", jwt,
		`{"name":"Client Co","email":"cust@example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var c models.Customer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	return c.ID
}

func (e *testEnv) createQuote(t *testing.T, jwt string, custID uint) uint {
	t.Helper()
	body := fmt.Sprintf(`{"customer_id":%d,"currency":"EUR","items":[{"description":"Works","quantity":2,"unit_price":25000}]}`, custID)
	w := e.do(t, http.MethodPost, "/api/v1/quotes", jwt, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var q models.Quote
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	require.EqualValues(t, 50000, q.Total)
	return q.ID
}

var acceptTokenRe = regexp.MustCompile(`/accept\?token=([0-9a-f]{64})`)
var viewTokenRe = regexp.MustCompile(`/view\?token=([0-9a-f]{32})`)

// Полный путь контрагента: логин → клиент → черновик → отправка →
// секрет из письма → публичный акцепт по capability-ссылке.
func TestQuoteLifecycleOverHTTP(t *testing.T) {
	e := setupEnv(t)
	jwt := e.login(t)
	custID := e.createCustomer(t, jwt)
	quoteID := e.createQuote(t, jwt, custID)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/quotes/%d/send", quoteID), jwt, `{}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	// секрет в ответе отсутствует — только в письме
	assert.NotContains(t, w.Body.String(), "secret")

	msg := e.mails.wait(t)
	m := acceptTokenRe.FindStringSubmatch(msg.HTML)
	require.Len(t, m, 2, "accept URL not found in mail body")
	secret := m[1]

	// просмотр по несекретному view-токену
	v := viewTokenRe.FindStringSubmatch(msg.HTML)
	require.Len(t, v, 2)
	w = e.do(t, http.MethodGet, fmt.Sprintf("/quotes/%d/view?token=%s", quoteID, v[1]), "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// акцепт
	w = e.do(t, http.MethodPost,
		fmt.Sprintf("/quotes/%d/accept?token=%s", quoteID, secret), "",
		`{"email":"cust@example.com","notes":"go ahead"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"accepted"`)
	e.mails.wait(t) // подтверждение

	// повтор того же токена — 401, статус не трогается
	w = e.do(t, http.MethodPost,
		fmt.Sprintf("/quotes/%d/accept?token=%s", quoteID, secret), "",
		`{"email":"cust@example.com"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	w = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/quotes/%d", quoteID), jwt, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"accepted"`)
}

func TestRejectOverHTTP(t *testing.T) {
	e := setupEnv(t)
	jwt := e.login(t)
	custID := e.createCustomer(t, jwt)
	quoteID := e.createQuote(t, jwt, custID)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/quotes/%d/send", quoteID), jwt, `{}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	msg := e.mails.wait(t)
	secret := acceptTokenRe.FindStringSubmatch(msg.HTML)[1]

	w = e.do(t, http.MethodPost,
		fmt.Sprintf("/quotes/%d/reject?token=%s", quoteID, secret), "",
		`{"email":"cust@example.com","reason":"too expensive"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"rejected"`)
	e.mails.wait(t)

	// после отказа тот же секрет мёртв — 401, как и любой погашенный токен
	w = e.do(t, http.MethodPost,
		fmt.Sprintf("/quotes/%d/accept?token=%s", quoteID, secret), "",
		`{"email":"cust@example.com"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	// а произвольный токен по отклонённому КП — 409
	w = e.do(t, http.MethodPost,
		fmt.Sprintf("/quotes/%d/accept?token=bogus", quoteID), "",
		`{"email":"cust@example.com"}`)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestGetCustomer(t *testing.T) {
	e := setupEnv(t)
	jwt := e.login(t)
	custID := e.createCustomer(t, jwt)

	w := e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/customers/%d", custID), jwt, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var c models.Customer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Equal(t, "Client Co", c.Name)
	assert.Equal(t, e.org.ID, c.OrgID)

	// клиент чужой организации не виден
	other := models.Customer{OrgID: e.org.ID + 1, Name: "Foreign", Email: "f@example.com"}
	require.NoError(t, e.db.Create(&other).Error)
	w = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/customers/%d", other.ID), jwt, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorMapping(t *testing.T) {
	e := setupEnv(t)
	jwt := e.login(t)

	// not found
	w := e.do(t, http.MethodPost, "/api/v1/quotes/999/send", jwt, `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// validation: черновик без строк
	custID := e.createCustomer(t, jwt)
	body := fmt.Sprintf(`{"customer_id":%d,"items":[]}`, custID)
	w = e.do(t, http.MethodPost, "/api/v1/quotes", jwt, body)
	require.Equal(t, http.StatusCreated, w.Code)
	var q models.Quote
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/quotes/%d/send", q.ID), jwt, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// conflict: акцепт черновика (токена ещё нет)
	w = e.do(t, http.MethodPost, fmt.Sprintf("/quotes/%d/accept?token=abc", q.ID), "", `{}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	// без токена — 401
	w = e.do(t, http.MethodPost, fmt.Sprintf("/quotes/%d/accept", q.ID), "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// без JWT staff-роуты закрыты
	w = e.do(t, http.MethodGet, "/api/v1/quotes", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExpiredQuoteOverHTTP(t *testing.T) {
	e := setupEnv(t)
	jwt := e.login(t)
	custID := e.createCustomer(t, jwt)
	quoteID := e.createQuote(t, jwt, custID)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/quotes/%d/send", quoteID), jwt, `{}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	msg := e.mails.wait(t)
	secret := acceptTokenRe.FindStringSubmatch(msg.HTML)[1]

	// КП просрочено, токен формально жив — 422, статус остаётся SENT
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, e.db.Model(&models.Quote{}).Where("id = ?", quoteID).
		Update("expires_at", past).Error)

	w = e.do(t, http.MethodPost,
		fmt.Sprintf("/quotes/%d/accept?token=%s", quoteID, secret), "",
		`{"email":"cust@example.com"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	// ручной запуск уборки переводит его в EXPIRED
	w = e.do(t, http.MethodPost, "/api/v1/quotes/expire-sweep", jwt, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"expired":1`)

	w = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/quotes/%d", quoteID), jwt, "")
	assert.Contains(t, w.Body.String(), `"expired"`)
}
