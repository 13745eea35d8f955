package quotes

import (
	"net/http"

	"github.com/gorilla/mux"

	"tally/internal/auth"
)

// RegisterStaffRoutes — авторизованный API сотрудников (JWT).
func RegisterStaffRoutes(r *mux.Router, h *Handler, jwtSecret string) {
	s := r.PathPrefix("").Subrouter()
	s.Use(auth.JWTAuth(jwtSecret))

	s.HandleFunc("/customers", h.CreateCustomer).Methods(http.MethodPost)
	s.HandleFunc("/customers", h.ListCustomers).Methods(http.MethodGet)
	s.HandleFunc("/customers/{id:[0-9]+}", h.GetCustomer).Methods(http.MethodGet)

	s.HandleFunc("/quotes", h.CreateQuote).Methods(http.MethodPost)
	s.HandleFunc("/quotes", h.ListQuotes).Methods(http.MethodGet)
	s.HandleFunc("/quotes/{id:[0-9]+}", h.GetQuote).Methods(http.MethodGet)
	s.HandleFunc("/quotes/{id:[0-9]+}/send", h.SendQuote).Methods(http.MethodPost)
	s.HandleFunc("/quotes/expire-sweep", h.ExpireSweep).Methods(http.MethodPost)
}

// RegisterPublicRoutes — действия контрагента по capability-ссылкам из письма.
// Авторизация — сам токен в запросе, сессий нет.
func RegisterPublicRoutes(r *mux.Router, h *Handler) {
	r.HandleFunc("/quotes/{id:[0-9]+}/view", h.ViewQuote).Methods(http.MethodGet)
	r.HandleFunc("/quotes/{id:[0-9]+}/accept", h.AcceptQuote).Methods(http.MethodPost)
	r.HandleFunc("/quotes/{id:[0-9]+}/reject", h.RejectQuote).Methods(http.MethodPost)
}
