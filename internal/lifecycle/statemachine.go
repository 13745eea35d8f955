package lifecycle

import "tally/internal/models"

// Таблица допустимых переходов. Движение только вперёд:
// повторная отправка в SENT — перевыпуск токена, не переход.
var transitions = map[string][]string{
	models.QuoteStatusDraft: {models.QuoteStatusSent},
	models.QuoteStatusSent: {
		models.QuoteStatusSent, // re-send: новый токен, статус не меняется
		models.QuoteStatusAccepted,
		models.QuoteStatusRejected,
		models.QuoteStatusExpired,
	},
	// терминальные статусы — пустые списки
	models.QuoteStatusAccepted: {},
	models.QuoteStatusRejected: {},
	models.QuoteStatusExpired:  {},
}

// CanTransition проверяет переход по таблице.
func CanTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
