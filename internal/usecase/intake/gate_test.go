package intake

import (
	"context"
	"reflect"
	"testing"

	"ride-match-bot/internal/domain"
)

func batch(ids ...string) []domain.RawMessage {
	out := make([]domain.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.RawMessage{MessageID: id})
	}
	return out
}

func TestGateBuffersUntilOpen(t *testing.T) {
	ctx := context.Background()
	var seen []string
	g := NewGate(func(_ context.Context, b []domain.RawMessage) {
		for _, m := range b {
			seen = append(seen, m.MessageID)
		}
	})

	if g.Submit(ctx, batch("1", "2")) || g.Submit(ctx, batch("3")) {
		t.Fatalf("в Loading пачки не должны обрабатываться")
	}
	if g.Pending() != 3 || len(seen) != 0 {
		t.Fatalf("ожидали 3 сообщения в очереди")
	}
	if n := g.Open(ctx); n != 3 {
		t.Fatalf("ожидали выгрузку 3 сообщений, получили %d", n)
	}
	if n := g.Open(ctx); n != 0 {
		t.Fatalf("повторное открытие не должно ничего выгружать")
	}
	if !g.Submit(ctx, batch("4")) {
		t.Fatalf("в Ready пачка обрабатывается сразу")
	}
	if !reflect.DeepEqual(seen, []string{"1", "2", "3", "4"}) {
		t.Fatalf("нарушен порядок: %v", seen)
	}

	g.Close()
	if g.State() != GateLoading {
		t.Fatalf("после Close ожидали Loading")
	}
	g.Submit(ctx, batch("5"))
	if len(seen) != 4 {
		t.Fatalf("после Close пачки снова копятся")
	}
	g.Open(ctx)
	if seen[len(seen)-1] != "5" {
		t.Fatalf("очередь не выгружена после повторного открытия")
	}
}
