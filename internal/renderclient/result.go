package renderclient

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Result — результат рендеринга: Success или Failure.
// Закрытый набор вариантов, разбирается через type switch.
type Result interface {
	isResult()
}

// Success — документ отрендерен.
type Success struct {
	// PDF — байты документа
	PDF []byte
	// RenderedAt — момент, напечатанный в документе
	RenderedAt time.Time
	// Attempts — число выполненных попыток
	Attempts int
}

// Failure — рендеринг не удался (сеть, 4xx, слишком большой документ или исчерпаны повторы 5xx).
type Failure struct {
	// Reason — описание для логов: статус и усечённое тело ответа
	Reason string
	// StatusCode — HTTP-статус последней попытки, 0 при сетевой ошибке
	StatusCode int
	// Attempts — число выполненных попыток
	Attempts int
}

func (Success) isResult() {}
func (Failure) isResult() {}

var norwegianMonths = [...]string{
	"januar", "februar", "mars", "april", "mai", "juni",
	"juli", "august", "september", "oktober", "november", "desember",
}

// osloLocation — часовой пояс документов.
var osloLocation = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// FormatTimestamp форматирует момент архивирования по-норвежски
// ("5. mars 2024 kl. 14:31") в часовом поясе Europe/Oslo.
func FormatTimestamp(t time.Time) string {
	t = t.In(osloLocation)
	return fmt.Sprintf("%d. %s %d kl. %02d:%02d",
		t.Day(), norwegianMonths[t.Month()-1], t.Year(), t.Hour(), t.Minute())
}
