package models

import (
	"encoding/json"
	"net/http"
)

// Problem — тело ошибки по RFC 7807; отдаётся всеми хендлерами сервиса.
type Problem struct {
	Type     string `json:"type,omitempty"` // URI типа проблемы, обычно пуст
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Extra    any    `json:"extra,omitempty"` // произвольные дополнительные поля
}

// WriteProblem пишет application/problem+json с указанным статусом.
func WriteProblem(w http.ResponseWriter, status int, title, detail string, extra any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Title:  title,
		Status: status,
		Detail: detail,
		Extra:  extra,
	})
}

// WriteJSON пишет успешный JSON-ответ.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
