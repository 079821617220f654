package cluster

import (
	"sort"
	"time"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/usecase/location"
)

const unknownPlace = "?"

// Подсказки о том, чего не хватает кластеру до поездки.
const (
	GapNoDriver     = "No driver yet — someone could offer this route"
	GapFlexibleDate = "Someone's date is flexible — confirm to lock in"
	GapOneDayApart  = "Dates are 1 day apart — one person can flex"
	GapNoTimes      = "Neither side has confirmed time yet"
	GapDriverTime   = "Driver hasn't shared departure time"
	GapRiderTime    = "Rider(s) haven't shared their time"
)

// DatesOverlap проверяет совместимость дат двух заявок.
// В строгом режиме пустая дата с одной стороны и соседние дни несовместимы.
func DatesOverlap(a, b domain.ParsedRequest, strict bool) bool {
	if a.Date == nil && b.Date == nil {
		return true
	}
	if a.Date == nil || b.Date == nil {
		return !strict
	}
	if domain.SameDate(a.Date, b.Date) {
		return true
	}
	if a.DateFuzzy && domain.ContainsDate(a.PossibleDates, b.Date) {
		return true
	}
	if b.DateFuzzy && domain.ContainsDate(b.PossibleDates, a.Date) {
		return true
	}
	if strict {
		return false
	}
	return domain.DaysApart(*a.Date, *b.Date) <= 1
}

// BuildClusters группирует снимок открытых заявок по маршруту и дате.
// Поглощение за один проход не транзитивно: заявка сравнивается только
// с первой заявкой кластера, поэтому форма кластеров зависит от порядка входа.
func BuildClusters(requests []domain.Request, strict bool, n *location.Normalizer) []domain.Cluster {
	if n == nil {
		n = location.New()
	}

	type route struct {
		origin, destination string
		members             []domain.Request
	}
	var routes []*route
	index := make(map[string]*route)
	for _, r := range requests {
		origin := placeOrUnknown(n.Normalize(r.Origin))
		destination := placeOrUnknown(n.Normalize(r.Destination))
		key := origin + "|" + destination
		rt, ok := index[key]
		if !ok {
			rt = &route{origin: origin, destination: destination}
			index[key] = rt
			routes = append(routes, rt)
		}
		rt.members = append(rt.members, r)
	}

	var clusters []domain.Cluster
	for _, rt := range routes {
		assigned := make([]bool, len(rt.members))
		for i := range rt.members {
			if assigned[i] {
				continue
			}
			assigned[i] = true
			members := []domain.Request{rt.members[i]}
			for j := i + 1; j < len(rt.members); j++ {
				if assigned[j] {
					continue
				}
				if DatesOverlap(rt.members[i].ParsedRequest, rt.members[j].ParsedRequest, strict) {
					assigned[j] = true
					members = append(members, rt.members[j])
				}
			}
			clusters = append(clusters, newCluster(rt.origin, rt.destination, members))
		}
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return sortKey(clusters[i].RepresentativeDate) < sortKey(clusters[j].RepresentativeDate)
	})
	return clusters
}

func newCluster(origin, destination string, members []domain.Request) domain.Cluster {
	c := domain.Cluster{Origin: origin, Destination: destination, Members: members}
	for i := range members {
		switch members[i].Type {
		case domain.RequestOffer:
			if c.Driver == nil {
				driver := members[i]
				c.Driver = &driver
			}
		case domain.RequestNeed:
			c.Riders = append(c.Riders, members[i])
		}
	}
	c.Quality = Quality(members)
	c.Gap = ConversionGap(members, c.Driver)
	c.RepresentativeDate = RepresentativeDate(members)
	if c.Driver != nil {
		c.RepresentativeTime = c.Driver.Time
	}
	return c
}

// Quality оценивает кластер: неточная дата, разные даты или их отсутствие дают low.
func Quality(members []domain.Request) domain.QualityTier {
	for _, m := range members {
		if m.DateFuzzy {
			return domain.QualityLow
		}
	}
	dates := uniqueDates(members)
	if len(dates) != 1 {
		return domain.QualityLow
	}
	for _, m := range members {
		if timeUnconfirmed(m) {
			return domain.QualityMedium
		}
	}
	return domain.QualityStrong
}

// RepresentativeDate выбирает самую раннюю дату предложения, иначе самую раннюю дату участника.
func RepresentativeDate(members []domain.Request) *time.Time {
	var earliestOffer, earliest *time.Time
	for _, m := range members {
		if m.Date == nil {
			continue
		}
		d := *m.Date
		if earliest == nil || d.Before(*earliest) {
			earliest = &d
		}
		if m.Type == domain.RequestOffer && (earliestOffer == nil || d.Before(*earliestOffer)) {
			earliestOffer = &d
		}
	}
	if earliestOffer != nil {
		return earliestOffer
	}
	return earliest
}

// ConversionGap возвращает самую важную подсказку или пустую строку.
func ConversionGap(members []domain.Request, driver *domain.Request) string {
	if driver == nil {
		return GapNoDriver
	}
	for _, m := range members {
		if m.DateFuzzy {
			return GapFlexibleDate
		}
	}
	if dates := uniqueDates(members); len(dates) > 1 {
		first, last := dates[0], dates[len(dates)-1]
		if domain.DaysApart(first, last) == 1 {
			return GapOneDayApart
		}
	}
	driverPending := timeUnconfirmed(*driver)
	riderPending := false
	for _, m := range members {
		if m.Type == domain.RequestNeed && timeUnconfirmed(m) {
			riderPending = true
			break
		}
	}
	switch {
	case driverPending && riderPending:
		return GapNoTimes
	case driverPending:
		return GapDriverTime
	case riderPending:
		return GapRiderTime
	}
	return ""
}

func timeUnconfirmed(r domain.Request) bool {
	return r.TimeFuzzy || r.Time == ""
}

func uniqueDates(members []domain.Request) []time.Time {
	seen := make(map[string]struct{})
	var out []time.Time
	for _, m := range members {
		if m.Date == nil {
			continue
		}
		key := domain.FormatDate(m.Date)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, *m.Date)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func placeOrUnknown(p string) string {
	if p == "" {
		return unknownPlace
	}
	return p
}

func sortKey(d *time.Time) string {
	if d == nil {
		return "9999"
	}
	return domain.FormatDate(d)
}
