package digest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ride-match-bot/internal/domain"
)

const (
	blockRule  = "──────────────"
	digestRule = "━━━━━━━━━━━━━━━━━━━━"
)

// FormatPhone приводит номер к виду +1 979-555-0101.
func FormatPhone(contact string) string {
	if contact == "" {
		return "Unknown"
	}
	var b strings.Builder
	for _, r := range contact {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case len(digits) == 11 && digits[0] == '1':
		return "+1 " + digits[1:4] + "-" + digits[4:7] + "-" + digits[7:]
	case len(digits) == 10:
		return "+1 " + digits[0:3] + "-" + digits[3:6] + "-" + digits[6:]
	}
	return "+" + digits
}

// FormatDate возвращает «Friday, Mar 6» или «Flexible date».
func FormatDate(d *time.Time) string {
	if d == nil {
		return "Flexible date"
	}
	return d.Format("Monday, Jan 2")
}

// FormatTime переводит «HH:MM» в 12-часовой формат; нераспознанное время возвращается как есть.
func FormatTime(value string) string {
	if value == "" {
		return ""
	}
	parts := strings.SplitN(value, ":", 3)
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return value
	}
	m := 0
	if len(parts) > 1 {
		if m, err = strconv.Atoi(parts[1]); err != nil {
			return value
		}
	}
	ampm := "AM"
	if h >= 12 {
		ampm = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, m, ampm)
}

// FirstName возвращает первое слово имени.
func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func whenPhrase(r domain.Request) string {
	s := "soon"
	if r.Date != nil {
		s = FormatDate(r.Date)
	}
	if r.Time != "" {
		s += " around " + FormatTime(r.Time)
	}
	return s
}

// RiderMessage возвращает шаблон первого сообщения пассажиру.
func RiderMessage(need, offer domain.Request) string {
	dest := firstNonEmpty(need.Destination, offer.Destination, "your destination")
	return "Hey! Someone’s offering a ride to " + dest + " " + whenPhrase(offer) +
		". Interested? Let me know and I’ll connect you both 🙂"
}

// DriverMessage возвращает шаблон первого сообщения водителю.
func DriverMessage(need, offer domain.Request) string {
	dest := firstNonEmpty(offer.Destination, need.Destination, "your destination")
	return "Hey! Someone needs a ride to " + dest + " " + whenPhrase(need) +
		" — same as you. Want me to connect you both? 🙂"
}

func qualityMark(q domain.QualityTier) string {
	switch q {
	case domain.QualityStrong:
		return "🟢"
	case domain.QualityMedium:
		return "🟡"
	case domain.QualityLow:
		return "🔴"
	}
	return "⚪"
}

func timeNote(r domain.Request) string {
	if r.Time == "" {
		return ""
	}
	return " (" + FormatTime(r.Time) + ")"
}

func quoted(s string) string {
	if strings.TrimSpace(s) == "" {
		s = "No message"
	}
	return `"` + s + `"`
}

// MatchBlock формирует блок одного матча для дайджеста.
func MatchBlock(m domain.MatchDetails) string {
	need, offer := m.Need, m.Offer
	date := need.Date
	if date == nil {
		date = offer.Date
	}

	groupLine := qualityMark(m.Match.Quality) + " Groups: " + groupName(need) + " / " + groupName(offer)
	if groupName(need) == groupName(offer) {
		groupLine = qualityMark(m.Match.Quality) + " Same group: " + groupName(need)
	}

	lines := []string{
		"📅 " + FormatDate(date),
		firstNonEmpty(need.Origin, offer.Origin, "?") + " → " + firstNonEmpty(need.Destination, offer.Destination, "?"),
		groupLine,
		"",
		"👋 " + firstNonEmpty(need.SenderName, need.SourceContact, "Unknown") + " (" + FormatPhone(need.SourceContact) + ")" + timeNote(need),
		quoted(need.RawMessage),
		"",
		"🚗 " + firstNonEmpty(offer.SenderName, offer.SourceContact, "Unknown") + " (" + FormatPhone(offer.SourceContact) + ")" + timeNote(offer),
		quoted(offer.RawMessage),
		"",
		blockRule,
		"📨 Message to send " + FirstName(need.SenderName) + ":",
		quoted(RiderMessage(need, offer)),
		"",
		"📨 Message to send " + FirstName(offer.SenderName) + ":",
		quoted(DriverMessage(need, offer)),
		"",
		blockRule,
		"🔵 Reply INTERESTED / NOT NEEDED to track",
	}
	return strings.Join(lines, "\n")
}

func groupName(r domain.Request) string {
	if r.SourceGroup == "" {
		return "Unknown Group"
	}
	return r.SourceGroup
}

// FormatDigest собирает дайджест из блоков матчей; пустой список даёт сообщение «всё чисто».
func FormatDigest(matches []domain.MatchDetails, at time.Time) string {
	if len(matches) == 0 {
		return "✅ Ride digest: no new matches right now. All clear!"
	}
	plural := "es"
	if len(matches) == 1 {
		plural = ""
	}
	header := fmt.Sprintf("🎯 Ride digest — %d open match%s\n%s\n", len(matches), plural, at.Format("Monday, January 2, 3:04 PM MST"))

	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, MatchBlock(m))
	}
	divider := "\n" + digestRule + "\n"
	return header + divider + strings.Join(blocks, "\n"+divider+"\n")
}

// FormatAnnouncement формирует короткое уведомление о новом матче.
func FormatAnnouncement(m domain.MatchDetails) string {
	tier := strings.ToUpper(string(m.Match.Quality))
	if tier == "" {
		tier = "MEDIUM"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Match Found! [%s]\n\n", tier)
	if m.Need.Category == "" || m.Need.Category == domain.CategoryRide {
		fmt.Fprintf(&b, "Ride to %s\n", firstNonEmpty(m.Need.Destination, "TBD"))
		date := domain.FormatDate(m.Need.Date)
		if date == "" {
			date = "Flexible"
		}
		fmt.Fprintf(&b, "Date: %s\n\n", date)
		fmt.Fprintf(&b, "Looking: %s\n", m.Need.SourceContact)
		fmt.Fprintf(&b, "Offering: %s\n", m.Offer.SourceContact)
		return b.String()
	}
	desc, _ := m.Need.Details["description"].(string)
	fmt.Fprintf(&b, "%s: %s\n\n", m.Need.Category, firstNonEmpty(desc, "Help needed"))
	fmt.Fprintf(&b, "Needs help: %s\n", m.Need.SourceContact)
	fmt.Fprintf(&b, "Can help: %s\n", m.Offer.SourceContact)
	return b.String()
}
