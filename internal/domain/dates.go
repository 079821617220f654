package domain

import (
	"strings"
	"time"
)

// DateLayout задаёт формат календарной даты.
const DateLayout = "2006-01-02"

// DateOf отбрасывает время суток и часовой пояс.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate разбирает дату YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// MustDate используется в тестах и константах.
func MustDate(s string) time.Time {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DatePtr возвращает указатель на календарную дату.
func DatePtr(s string) *time.Time {
	d := MustDate(s)
	return &d
}

// DaysApart возвращает модуль разницы в календарных днях.
func DaysApart(a, b time.Time) int {
	diff := DateOf(a).Sub(DateOf(b))
	days := int(diff.Round(time.Hour).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}

// SameDate сравнивает две необязательные даты; две пустые считаются равными.
func SameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return DateOf(*a).Equal(DateOf(*b))
}

// ContainsDate проверяет, есть ли дата среди кандидатов.
func ContainsDate(dates []time.Time, d *time.Time) bool {
	if d == nil {
		return false
	}
	for _, candidate := range dates {
		if DateOf(candidate).Equal(DateOf(*d)) {
			return true
		}
	}
	return false
}

// FormatDate печатает дату или пустую строку.
func FormatDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(DateLayout)
}
