package telegram

import "strings"

const messageLimit = 4096

// blockRule задаёт символ линии, которой дайджест отделяет блоки матчей.
const blockRule = '━'

// SplitMessage режет текст на части не длиннее лимита Telegram.
// Сначала ищется граница блоков дайджеста (строка из blockRule), она сама
// в части не попадает; затем пустая строка, затем любой перевод строки.
func SplitMessage(text string) []string {
	return splitText(text, messageLimit)
}

func splitText(text string, limit int) []string {
	var parts []string
	rest := strings.Trim(strings.TrimSpace(text), "\n")
	for rest != "" {
		runes := []rune(rest)
		if len(runes) <= limit {
			parts = append(parts, rest)
			break
		}
		window := string(runes[:limit])
		end, next := cutPoint(window)
		if chunk := strings.Trim(strings.TrimRight(rest[:end], " \t\n"), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		rest = strings.TrimLeft(rest[next:], "\n")
	}
	return parts
}

// cutPoint возвращает конец части и начало остатка в байтах окна.
func cutPoint(window string) (end, next int) {
	if start, stop, ok := lastRuleLine(window); ok {
		return start, stop
	}
	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return i, i + 2
	}
	if i := strings.LastIndex(window, "\n"); i > 0 {
		return i, i + 1
	}
	return len(window), len(window)
}

// lastRuleLine находит последнюю целую строку-разделитель, не первую в окне.
func lastRuleLine(window string) (start, stop int, ok bool) {
	lineStart := 0
	for lineStart < len(window) {
		nl := strings.IndexByte(window[lineStart:], '\n')
		if nl < 0 {
			break
		}
		lineEnd := lineStart + nl
		if lineStart > 0 && isRuleLine(window[lineStart:lineEnd]) {
			start, stop, ok = lineStart, lineEnd+1, true
		}
		lineStart = lineEnd + 1
	}
	return start, stop, ok
}

func isRuleLine(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, r := range line {
		if r != blockRule {
			return false
		}
	}
	return true
}
