package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"tally/internal/models"
	"tally/internal/repo"
)

type Handler struct {
	users      *repo.UserStore
	jwtSecret  string
	tokenTTL   time.Duration
	refreshTTL time.Duration
}

func NewHandler(users *repo.UserStore, jwtSecret string, ttl, refreshTTL time.Duration) *Handler {
	return &Handler{users: users, jwtSecret: jwtSecret, tokenTTL: ttl, refreshTTL: refreshTTL}
}

func RegisterRoutes(r *mux.Router, h *Handler) {
	r.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.Refresh).Methods(http.MethodPost)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenPair — ответ логина и перевыпуска: access для staff-роутов
// и refresh для POST /auth/refresh.
type tokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (h *Handler) issuePair(w http.ResponseWriter, u *models.User) {
	access, err := IssueJWT(h.jwtSecret, u, h.tokenTTL)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "login failed", nil)
		return
	}
	refresh, err := IssueRefreshJWT(h.jwtSecret, u, h.refreshTTL)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "login failed", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, tokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().UTC().Add(h.tokenTTL),
	})
}

// POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	u, err := h.users.GetByEmail(r.Context(), req.Email)
	if errors.Is(err, repo.ErrNotFound) {
		// тот же ответ, что и на неверный пароль — не раскрываем, что именно не так
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials", nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "login failed", nil)
		return
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(req.Password)) != nil {
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials", nil)
		return
	}
	h.issuePair(w, u)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// POST /api/v1/auth/refresh — перевыпуск пары по refresh-токену.
// Пользователь перечитывается из базы: роль могла измениться,
// а удалённый сотрудник новых токенов не получает.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "refresh_token is required", nil)
		return
	}
	claims, err := ParseJWT(h.jwtSecret, req.RefreshToken)
	if err != nil || claims.Kind != TokenKindRefresh {
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired refresh token", nil)
		return
	}
	u, err := h.users.Get(r.Context(), claims.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired refresh token", nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "refresh failed", nil)
		return
	}
	h.issuePair(w, u)
}
