package location

import (
	"strings"
	"unicode"
)

// Endpoint хранит каноническое название и его варианты написания.
type Endpoint struct {
	Name     string
	Variants []string
}

// DefaultEndpoints содержит направления, встречающиеся в группах.
var DefaultEndpoints = []Endpoint{
	{Name: "Houston IAH", Variants: []string{
		"iah", "bush", "george bush", "houston airport", "houston intl",
		"iah (houston airport)", "iah (houston)", "houston iah", "bush intercontinental",
	}},
	{Name: "Houston Hobby", Variants: []string{"hobby", "hou airport"}},
	{Name: "Houston", Variants: []string{"houston"}},
	{Name: "Dallas DFW", Variants: []string{"dfw", "dallas airport", "dallas/fort worth", "dallas fort worth", "dallas-fort worth"}},
	{Name: "Dallas", Variants: []string{"dallas", "plano", "richardson", "frisco", "irving"}},
	{Name: "Austin", Variants: []string{"austin"}},
	{Name: "Austin Airport", Variants: []string{"austin airport", "austin-bergstrom", "abia", "aus airport"}},
	{Name: "San Antonio", Variants: []string{"san antonio", "sa"}},
	{Name: "College Station", Variants: []string{"cs", "cstat", "c station", "college station", "bryan"}},
}

// Normalizer приводит названия мест к каноническим точкам маршрута.
// Побеждает самый длинный вариант, найденный в тексте как отдельное слово.
type Normalizer struct {
	endpoints []Endpoint
}

// New создаёт нормализатор; без аргументов используется DefaultEndpoints.
func New(endpoints ...Endpoint) *Normalizer {
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	prepared := make([]Endpoint, 0, len(endpoints))
	for _, e := range endpoints {
		variants := make([]string, 0, len(e.Variants))
		for _, v := range e.Variants {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				variants = append(variants, v)
			}
		}
		prepared = append(prepared, Endpoint{Name: e.Name, Variants: variants})
	}
	return &Normalizer{endpoints: prepared}
}

// Normalize возвращает каноническое название; неизвестное место возвращается
// обрезанным и в нижнем регистре, пустое превращается в пустую строку.
func (n *Normalizer) Normalize(place string) string {
	s := strings.ToLower(strings.TrimSpace(place))
	if s == "" {
		return ""
	}
	best, bestLen := "", 0
	for _, e := range n.endpoints {
		for _, v := range e.Variants {
			if len(v) > bestLen && containsWord(s, v) {
				best, bestLen = e.Name, len(v)
			}
		}
		if canonical := strings.ToLower(e.Name); s == canonical && len(canonical) > bestLen {
			best, bestLen = e.Name, len(canonical)
		}
	}
	if best == "" {
		return s
	}
	return best
}

// Equal сравнивает два места после нормализации.
func (n *Normalizer) Equal(a, b string) bool {
	return strings.EqualFold(n.Normalize(a), n.Normalize(b))
}

func containsWord(s, word string) bool {
	for from := 0; from <= len(s)-len(word); {
		i := strings.Index(s[from:], word)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(word)
		if boundaryBefore(s, i) && boundaryAfter(s, end) {
			return true
		}
		from = i + 1
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := rune(s[i-1])
	return r < 0x80 && !isWordRune(r)
}

func boundaryAfter(s string, end int) bool {
	if end >= len(s) {
		return true
	}
	r := rune(s[end])
	return r < 0x80 && !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
