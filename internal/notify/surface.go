// Package notify collects user-visible notifications: dismissible banners for
// systemic conditions and transient snackbars for remote edits, with optional
// out-of-band sinks.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes banner-style from snackbar-style notifications.
type Kind string

const (
	KindBanner   Kind = "banner"
	KindSnackbar Kind = "snackbar"
)

// Notification is one pending user-visible message.
type Notification struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink receives a copy of every pushed notification.
type Sink interface {
	Notify(n Notification)
}

// maxPending bounds the queue when no host is draining it.
const maxPending = 100

// Surface queues notifications until the host UI drains them.
type Surface struct {
	mu      sync.Mutex
	pending []Notification
	sinks   []Sink
}

// NewSurface creates a surface fanning out to the given sinks.
func NewSurface(sinks ...Sink) *Surface {
	return &Surface{sinks: sinks}
}

// Push queues a formatted notification and forwards it to every sink.
func (s *Surface) Push(kind Kind, format string, args ...interface{}) {
	n := Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.pending = append(s.pending, n)
	if len(s.pending) > maxPending {
		s.pending = s.pending[len(s.pending)-maxPending:]
	}
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.Notify(n)
	}
}

// Drain returns all pending notifications and clears the queue.
func (s *Surface) Drain() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}
