package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tally/internal/logs"
	"tally/internal/models"
	"tally/internal/repo"
)

func setupAuth(t *testing.T) (*mux.Router, *gorm.DB) {
	t.Helper()
	logs.Init(logs.Options{Level: "error"})
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Organization{}, &models.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	org := models.Organization{Name: "Acme LLC"}
	require.NoError(t, db.Create(&org).Error)
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), 10)
	require.NoError(t, err)
	user := models.User{OrgID: org.ID, Email: "staff@acme.test", PasswordHash: hash, Name: "Staff", Role: "staff"}
	require.NoError(t, db.Create(&user).Error)

	r := mux.NewRouter()
	RegisterRoutes(r, NewHandler(repo.NewUserStore(db), "k", time.Hour, 24*time.Hour))
	return r, db
}

func post(r *mux.Router, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type pairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func TestLoginIssuesTokenPair(t *testing.T) {
	r, _ := setupAuth(t)

	w := post(r, "/auth/login", `{"email":"staff@acme.test","password":"secret123"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp pairResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)

	access, err := ParseJWT("k", resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, TokenKindAccess, access.Kind)
	refresh, err := ParseJWT("k", resp.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, TokenKindRefresh, refresh.Kind)
}

func TestLoginInvalidCredentials(t *testing.T) {
	r, _ := setupAuth(t)

	// неверный пароль и несуществующий адрес отвечают одинаково
	w := post(r, "/auth/login", `{"email":"staff@acme.test","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w2 := post(r, "/auth/login", `{"email":"nobody@acme.test","password":"secret123"}`)
	assert.Equal(t, http.StatusUnauthorized, w2.Code)
	assert.Equal(t, w.Body.String(), w2.Body.String())
}

func TestRefreshRotatesPair(t *testing.T) {
	r, _ := setupAuth(t)

	w := post(r, "/auth/login", `{"email":"staff@acme.test","password":"secret123"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var first pairResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	w = post(r, "/auth/refresh", fmt.Sprintf(`{"refresh_token":%q}`, first.RefreshToken))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var next pairResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
	require.NotEmpty(t, next.AccessToken)
	require.NotEmpty(t, next.RefreshToken)

	claims, err := ParseJWT("k", next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, TokenKindAccess, claims.Kind)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	r, _ := setupAuth(t)

	w := post(r, "/auth/login", `{"email":"staff@acme.test","password":"secret123"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var pair pairResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))

	// access-токен на refresh-эндпоинте не принимается
	w = post(r, "/auth/refresh", fmt.Sprintf(`{"refresh_token":%q}`, pair.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// пустое тело — bad request
	w = post(r, "/auth/refresh", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshDeletedUser(t *testing.T) {
	r, db := setupAuth(t)

	w := post(r, "/auth/login", `{"email":"staff@acme.test","password":"secret123"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var pair pairResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))

	require.NoError(t, db.Unscoped().Where("email = ?", "staff@acme.test").Delete(&models.User{}).Error)

	w = post(r, "/auth/refresh", fmt.Sprintf(`{"refresh_token":%q}`, pair.RefreshToken))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
