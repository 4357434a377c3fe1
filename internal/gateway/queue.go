package gateway

import (
	"errors"
	"sync"
)

var (
	ErrQueueFull   = errors.New("outbound buffer full")
	ErrQueueClosed = errors.New("outbound queue closed")
)

// Outbox: неблокирующий канал доставки кадров конкретному соединению.
type Outbox interface {
	Push(f Frame) error
}

// Queue: буферизованный Outbox; транспорт вычитывает C() в своём write loop.
type Queue struct {
	mu     sync.Mutex
	ch     chan Frame
	closed bool
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{ch: make(chan Frame, size)}
}

func (q *Queue) Push(f Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- f:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) C() <-chan Frame { return q.ch }

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
