package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"tally/internal/models"
)

// Разновидности выпускаемых JWT: сессионный access и долгоживущий
// refresh для его перевыпуска. Refresh к staff-роутам не допускается.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// Claims — полезная нагрузка JWT сотрудника.
type Claims struct {
	UserID uint   `json:"uid"`
	OrgID  uint   `json:"org"`
	Role   string `json:"role"`
	Kind   string `json:"typ"`
	jwt.RegisteredClaims
}

// Identity кладётся в контекст запроса после проверки токена.
type Identity struct {
	UserID uint
	OrgID  uint
	Role   string
}

type ctxKey string

const identityKey ctxKey = "identity"

// IssueJWT подписывает сессионный access-токен (HS256).
func IssueJWT(secret string, u *models.User, ttl time.Duration) (string, error) {
	return issue(secret, u, ttl, TokenKindAccess)
}

// IssueRefreshJWT подписывает refresh-токен для POST /auth/refresh.
func IssueRefreshJWT(secret string, u *models.User, ttl time.Duration) (string, error) {
	return issue(secret, u, ttl, TokenKindRefresh)
}

func issue(secret string, u *models.User, ttl time.Duration, kind string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID: u.ID,
		OrgID:  u.OrgID,
		Role:   u.Role,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseJWT проверяет подпись и срок и возвращает claims.
func ParseJWT(secret, raw string) (*Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return &claims, nil
}

// JWTAuth — middleware для staff-роутов: Authorization: Bearer <jwt>.
func JWTAuth(secret string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			raw := r.Header.Get("Authorization")
			if !strings.HasPrefix(raw, p) {
				models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token", nil)
				return
			}
			claims, err := ParseJWT(secret, strings.TrimPrefix(raw, p))
			if err != nil {
				models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired session", nil)
				return
			}
			if claims.Kind != TokenKindAccess {
				models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "refresh token is not a session token", nil)
				return
			}
			id := Identity{UserID: claims.UserID, OrgID: claims.OrgID, Role: claims.Role}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
		})
	}
}

// FromContext достаёт личность сотрудника; ok=false — запрос без авторизации.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
