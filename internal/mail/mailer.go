package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tally/internal/logs"
)

// Message — письмо для отправки. Тело уже отрендерено вызывающим.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

// Dispatcher — best-effort доставка уведомлений. Ядро жизненного цикла
// вызывает его ТОЛЬКО после коммита и никогда не блокируется на результате.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// --- HTTP-реализация (Resend-совместимый API) ---

type HTTPDispatcher struct {
	apiKey string
	from   string
	url    string
	client *http.Client
}

func NewHTTPDispatcher(apiKey, from string) *HTTPDispatcher {
	return &HTTPDispatcher{
		apiKey: apiKey,
		from:   from,
		url:    "https://api.resend.com/emails",
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *HTTPDispatcher) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"from":    d.from,
		"to":      msg.To,
		"subject": msg.Subject,
		"html":    msg.HTML,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail api: status %d", resp.StatusCode)
	}
	return nil
}

// --- Заглушка для окружений без почтового ключа ---

type NopDispatcher struct{}

func (NopDispatcher) Send(_ context.Context, msg Message) error {
	logs.Logger.Infof("mail disabled, dropping message to=%v subject=%q", msg.To, msg.Subject)
	return nil
}

// FromConfig выбирает реализацию: без ключа — заглушка.
func FromConfig(apiKey, from string) Dispatcher {
	if apiKey == "" {
		return NopDispatcher{}
	}
	return NewHTTPDispatcher(apiKey, from)
}

// Async отправляет письмо в отдельной горутине с собственной границей ошибок:
// сбой доставки логируется и никогда не доходит до вызывающего.
func Async(d Dispatcher, msg Message) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logs.Logger.Errorf("mail dispatch panic: %v", rec)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.Send(ctx, msg); err != nil {
			logs.Logger.Errorf("mail dispatch failed to=%v subject=%q: %v", msg.To, msg.Subject, err)
		}
	}()
}
