package digest

import (
	"strings"
	"testing"
	"time"

	"ride-match-bot/internal/domain"
)

func TestFormatPhone(t *testing.T) {
	cases := map[string]string{
		"":             "Unknown",
		"+19795550101": "+1 979-555-0101",
		"9795550101":   "+1 979-555-0101",
		"+447700900":   "+447700900",
	}
	for in, want := range cases {
		if got := FormatPhone(in); got != want {
			t.Fatalf("FormatPhone(%q) = %q, ожидали %q", in, got, want)
		}
	}
}

func TestFormatTime(t *testing.T) {
	cases := map[string]string{
		"":      "",
		"00:05": "12:05 AM",
		"09:30": "9:30 AM",
		"12:00": "12:00 PM",
		"17:45": "5:45 PM",
		"noon":  "noon",
	}
	for in, want := range cases {
		if got := FormatTime(in); got != want {
			t.Fatalf("FormatTime(%q) = %q, ожидали %q", in, got, want)
		}
	}
}

func TestFormatDateAndFirstName(t *testing.T) {
	if got := FormatDate(nil); got != "Flexible date" {
		t.Fatalf("пустая дата: %q", got)
	}
	if got := FormatDate(domain.DatePtr("2025-03-06")); got != "Thursday, Mar 6" {
		t.Fatalf("неверный формат даты: %q", got)
	}
	if FirstName("  Maria Lopez ") != "Maria" || FirstName("") != "there" {
		t.Fatalf("неверное имя")
	}
}

func sampleMatch() domain.MatchDetails {
	need := domain.Request{
		ID:            "n1",
		ParsedRequest: domain.ParsedRequest{Type: domain.RequestNeed, Category: domain.CategoryRide, Date: domain.DatePtr("2025-03-06"), Origin: "College Station", Destination: "Houston IAH"},
		SourceGroup:   "Aggie Rides",
		SourceContact: "+19795550101",
		SenderName:    "Maria Lopez",
		RawMessage:    "need a ride to IAH friday",
	}
	offer := domain.Request{
		ID:            "o1",
		ParsedRequest: domain.ParsedRequest{Type: domain.RequestOffer, Category: domain.CategoryRide, Date: domain.DatePtr("2025-03-06"), Time: "14:00", Origin: "College Station", Destination: "Houston IAH"},
		SourceGroup:   "Aggie Rides",
		SourceContact: "+19795550202",
		SenderName:    "Sam",
		RawMessage:    "driving to Houston airport friday",
	}
	return domain.MatchDetails{
		Match: domain.Match{ID: "m1", NeedID: "n1", OfferID: "o1", Score: 1, Quality: domain.QualityMedium},
		Need:  need,
		Offer: offer,
	}
}

func TestMatchBlock(t *testing.T) {
	block := MatchBlock(sampleMatch())
	for _, want := range []string{
		"📅 Thursday, Mar 6",
		"College Station → Houston IAH",
		"🟡 Same group: Aggie Rides",
		"👋 Maria Lopez (+1 979-555-0101)",
		"🚗 Sam (+1 979-555-0202) (2:00 PM)",
		"Message to send Maria:",
		"Someone’s offering a ride to Houston IAH Thursday, Mar 6 around 2:00 PM",
		"Someone needs a ride to Houston IAH Thursday, Mar 6 —",
	} {
		if !strings.Contains(block, want) {
			t.Fatalf("ожидали %q в блоке:\n%s", want, block)
		}
	}
}

func TestFormatDigest(t *testing.T) {
	at := time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)
	if got := FormatDigest(nil, at); !strings.Contains(got, "All clear") {
		t.Fatalf("пустой дайджест: %q", got)
	}
	got := FormatDigest([]domain.MatchDetails{sampleMatch()}, at)
	if !strings.Contains(got, "1 open match\n") {
		t.Fatalf("неверный заголовок: %q", got)
	}
	got = FormatDigest([]domain.MatchDetails{sampleMatch(), sampleMatch()}, at)
	if !strings.Contains(got, "2 open matches") || strings.Count(got, digestRule) != 2 {
		t.Fatalf("неверная сборка дайджеста: %q", got)
	}
}

func TestFormatAnnouncement(t *testing.T) {
	got := FormatAnnouncement(sampleMatch())
	want := "Match Found! [MEDIUM]\n\nRide to Houston IAH\nDate: 2025-03-06\n\nLooking: +19795550101\nOffering: +19795550202\n"
	if got != want {
		t.Fatalf("неверное уведомление:\n%q\n%q", got, want)
	}
}
