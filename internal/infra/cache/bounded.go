package cache

import (
	"context"
	"sync"
	"time"
)

// Bounded реализует потокобезопасный кэш с ограничением размера.
// При вставке нового ключа сверх лимита кэш очищается целиком.
type Bounded[K comparable, V any] struct {
	mu    sync.RWMutex
	limit int
	items map[K]V
}

// NewBounded создаёт кэш; limit <= 0 снимает ограничение.
func NewBounded[K comparable, V any](limit int) *Bounded[K, V] {
	return &Bounded[K, V]{limit: limit, items: make(map[K]V)}
}

// Get возвращает значение по ключу.
func (c *Bounded[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Has сообщает, есть ли ключ.
func (c *Bounded[K, V]) Has(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// Put сохраняет значение.
func (c *Bounded[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok && c.limit > 0 && len(c.items) >= c.limit {
		c.items = make(map[K]V)
	}
	c.items[key] = value
}

// Len возвращает число записей.
func (c *Bounded[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear удаляет все записи.
func (c *Bounded[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]V)
}

// Janitor очищает кэш с заданным периодом, пока жив ctx.
func (c *Bounded[K, V]) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Clear()
		}
	}
}
