package presence

import (
	"sync"
	"time"
)

// Coalescer сводит шквал вызовов к одному: действие выполняется один раз
// по истечении окна, с аргументами последнего вызова (last-call-wins).
type Coalescer[T any] struct {
	clock  Clock
	window time.Duration
	action func(T)

	mu      sync.Mutex
	pending bool
	last    T
	timer   Timer
}

func NewCoalescer[T any](clock Clock, window time.Duration, action func(T)) *Coalescer[T] {
	return &Coalescer[T]{clock: clock, window: window, action: action}
}

// Trigger откладывает выполнение действия на размер окна. Повторные вызовы
// внутри окна заменяют аргумент, не продлевая ожидание.
func (c *Coalescer[T]) Trigger(v T) {
	c.mu.Lock()
	c.last = v
	if c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = true
	c.timer = c.clock.AfterFunc(c.window, c.fire)
	c.mu.Unlock()
}

func (c *Coalescer[T]) fire() {
	c.mu.Lock()
	if !c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = false
	v := c.last
	c.mu.Unlock()

	c.action(v)
}

// Stop отменяет отложенное действие, если оно еще не выполнено.
func (c *Coalescer[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Throttle пропускает первый вызов и глушит последующие до конца окна.
// В отличие от Coalescer проигнорированные вызовы теряются насовсем.
type Throttle struct {
	clock  Clock
	window time.Duration

	mu       sync.Mutex
	lastPass time.Time
}

func NewThrottle(clock Clock, window time.Duration) *Throttle {
	return &Throttle{clock: clock, window: window}
}

// Allow сообщает, пропускать ли вызов в этот момент.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	if !t.lastPass.IsZero() && now.Sub(t.lastPass) < t.window {
		return false
	}
	t.lastPass = now
	return true
}
