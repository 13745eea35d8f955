package mail

import "fmt"

// Шаблоны писем. Секрет токена попадает только в URL внутри письма.

func QuoteSent(customerName, orgName, acceptURL, rejectURL, viewURL string, total string) Message {
	html := fmt.Sprintf(`<p>Здравствуйте, %s!</p>
<p>Компания <strong>%s</strong> подготовила для вас коммерческое предложение на сумму <strong>%s</strong>.</p>
<p><a href="%s">Посмотреть предложение</a></p>
<p><a href="%s">Принять</a> &nbsp;|&nbsp; <a href="%s">Отклонить</a></p>
<p>Ссылка действует ограниченное время.</p>`,
		customerName, orgName, total, viewURL, acceptURL, rejectURL)
	return Message{Subject: fmt.Sprintf("Коммерческое предложение от %s", orgName), HTML: html}
}

func QuoteAccepted(customerName string, quoteID uint, bookingURL string) Message {
	html := fmt.Sprintf(`<p>%s принял(а) предложение №%d.</p>`, customerName, quoteID)
	if bookingURL != "" {
		html += fmt.Sprintf(`<p>Запись на встречу: <a href="%s">%s</a></p>`, bookingURL, bookingURL)
	}
	return Message{Subject: fmt.Sprintf("Предложение №%d принято", quoteID), HTML: html}
}

func QuoteRejected(customerName string, quoteID uint, reason string) Message {
	html := fmt.Sprintf(`<p>%s отклонил(а) предложение №%d.</p>`, customerName, quoteID)
	if reason != "" {
		html += fmt.Sprintf(`<p>Причина: %s</p>`, reason)
	}
	return Message{Subject: fmt.Sprintf("Предложение №%d отклонено", quoteID), HTML: html}
}
