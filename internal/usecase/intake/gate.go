package intake

import (
	"context"
	"sync"

	"ride-match-bot/internal/domain"
)

// GateState описывает состояние входного шлюза.
type GateState int

const (
	// GateLoading: предварительное состояние ещё не загружено, пачки копятся в очереди.
	GateLoading GateState = iota
	// GateReady: пачки обрабатываются сразу.
	GateReady
)

func (s GateState) String() string {
	if s == GateReady {
		return "ready"
	}
	return "loading"
}

// BatchHandler обрабатывает пачку сообщений.
type BatchHandler func(ctx context.Context, batch []domain.RawMessage)

// Gate буферизует пачки до готовности и отдаёт их обработчику строго по порядку поступления.
type Gate struct {
	mu      sync.Mutex
	state   GateState
	pending [][]domain.RawMessage
	handle  BatchHandler
}

// NewGate создаёт шлюз в состоянии Loading.
func NewGate(handle BatchHandler) *Gate {
	return &Gate{handle: handle}
}

// State возвращает текущее состояние.
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Pending возвращает число сообщений в очереди.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, b := range g.pending {
		n += len(b)
	}
	return n
}

// Submit обрабатывает пачку или ставит её в очередь; возвращает true, если пачка обработана.
func (g *Gate) Submit(ctx context.Context, batch []domain.RawMessage) bool {
	if len(batch) == 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == GateLoading {
		g.pending = append(g.pending, batch)
		return false
	}
	g.handle(ctx, batch)
	return true
}

// Open переводит шлюз в Ready и один раз выгребает очередь; возвращает число обработанных сообщений.
func (g *Gate) Open(ctx context.Context) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == GateReady {
		return 0
	}
	g.state = GateReady
	queued := g.pending
	g.pending = nil
	n := 0
	for _, batch := range queued {
		g.handle(ctx, batch)
		n += len(batch)
	}
	return n
}

// Close возвращает шлюз в Loading; новые пачки снова копятся.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = GateLoading
}
