package token

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Cost — рабочий фактор bcrypt для хэшей секретов.
// Не ниже 10: хэш должен выдерживать оффлайн-перебор.
const Cost = 12

// Issue генерирует секрет (32 случайных байта в hex, ~256 бит энтропии)
// и его bcrypt-хэш. Секрет один раз уходит в письмо и нигде не сохраняется
// и не логируется; в БД кладём только хэш.
func Issue() (secret string, hash []byte, err error) {
	var raw [32]byte
	if _, err = rand.Read(raw[:]); err != nil {
		return "", nil, err
	}
	secret = hex.EncodeToString(raw[:])
	// bcrypt хэширует не более 72 байт — hex-строка из 64 символов укладывается
	hash, err = bcrypt.GenerateFromPassword([]byte(secret), Cost)
	if err != nil {
		return "", nil, err
	}
	return secret, hash, nil
}

// Verify сверяет кандидата с хэшем. Медленная (bcrypt) проверка.
func Verify(hash []byte, candidate string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(candidate)) == nil
}

// NewViewToken — несекретный токен просмотра. Нужен только чтобы отметить
// viewed_at, поэтому достаточно uuid без хэширования.
func NewViewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
