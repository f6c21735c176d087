package memory

import (
	"context"
	"sync"

	"github.com/eternisai/push-relay/internal/notifications"
)

// DeliveryLog keeps the most recent attempts in a fixed-size ring buffer.
type DeliveryLog struct {
	mu    sync.Mutex
	buf   []notifications.DeliveryAttempt
	next  int
	count int
}

// NewDeliveryLog creates a log holding at most capacity attempts.
func NewDeliveryLog(capacity int) *DeliveryLog {
	if capacity < 1 {
		capacity = 1
	}
	return &DeliveryLog{buf: make([]notifications.DeliveryAttempt, capacity)}
}

func (l *DeliveryLog) Record(_ context.Context, a notifications.DeliveryAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf[l.next] = a
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
	return nil
}

func (l *DeliveryLog) RecentFailures(_ context.Context, limit int) ([]notifications.DeliveryAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []notifications.DeliveryAttempt
	for i := 0; i < l.count && len(out) < limit; i++ {
		idx := (l.next - 1 - i + len(l.buf)) % len(l.buf)
		if a := l.buf[idx]; a.Outcome != notifications.OutcomeSuccess {
			out = append(out, a)
		}
	}
	return out, nil
}

// Len returns the number of retained attempts.
func (l *DeliveryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
