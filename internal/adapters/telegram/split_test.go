package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageBreaksOnDigestBlocks(t *testing.T) {
	rule := "\n\n" + strings.Repeat("━", 20) + "\n\n"
	block := func(c string) string {
		return strings.Repeat(c, 900) + "\n" + strings.Repeat(c, 900)
	}
	text := block("a") + rule + block("b") + rule + block("c")

	parts := SplitMessage(text)
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	if parts[0] != block("a")+rule+block("b") {
		t.Fatalf("первая часть должна содержать два первых блока целиком")
	}
	if parts[1] != block("c") {
		t.Fatalf("вторая часть должна начинаться с блока без разделителя: %q", parts[1][:10])
	}
}

func TestSplitMessagePrefersBlankLine(t *testing.T) {
	text := strings.Repeat("a", 2000) + "\n" + strings.Repeat("b", 1000) + "\n\n" +
		strings.Repeat("c", 500) + "\n" + strings.Repeat("d", 2000)

	parts := SplitMessage(text)
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	if parts[0] != strings.Repeat("a", 2000)+"\n"+strings.Repeat("b", 1000) {
		t.Fatalf("разрез должен пройти по пустой строке")
	}
	if !strings.HasPrefix(parts[1], "c") || !strings.HasSuffix(parts[1], strings.Repeat("d", 2000)) {
		t.Fatalf("неверная вторая часть")
	}
}

func TestSplitMessageHardCutCountsRunes(t *testing.T) {
	parts := SplitMessage(strings.Repeat("я", 5000))
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	if n := len([]rune(parts[0])); n != messageLimit {
		t.Fatalf("первая часть должна быть ровно по лимиту, получили %d", n)
	}
	if n := len([]rune(parts[1])); n != 5000-messageLimit {
		t.Fatalf("неверная длина второй части: %d", n)
	}
}

func TestSplitMessageShortAndEmpty(t *testing.T) {
	if parts := SplitMessage("  hello world\n"); len(parts) != 1 || parts[0] != "hello world" {
		t.Fatalf("короткий текст должен остаться одной частью: %q", parts)
	}
	if parts := SplitMessage("   \n  "); len(parts) != 0 {
		t.Fatalf("пустой текст не должен давать частей, получили %d", len(parts))
	}
}
