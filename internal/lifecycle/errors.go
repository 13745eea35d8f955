package lifecycle

import "fmt"

// Kind — структурный класс ошибки жизненного цикла. HTTP-слой маппит Kind
// в код ответа; по тексту сообщения ничего не разбираем.
type Kind int

const (
	KindInternal   Kind = iota
	KindNotFound        // КП/клиент/организация не найдены → 404
	KindConflict        // недопустимый для перехода статус → 409
	KindValidation      // пустые строки, кривой запрос → 400
	KindToken           // невалидный/истёкший/погашенный токен → 401
	KindExpired         // срок самого КП истёк → 422
)

// Error — типизированная ошибка оркестратора.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf возвращает класс ошибки; всё нераспознанное считаем внутренним.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternal
}

// ErrInvalidToken — единый ответ на любой дефект токена (нет совпадения,
// истёк, уже погашен). Нарочно не уточняем, какая именно проверка не прошла.
var ErrInvalidToken = &Error{Kind: KindToken, Msg: "invalid or expired acceptance token"}
