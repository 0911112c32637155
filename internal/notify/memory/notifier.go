// Package memory collects notifications in-memory for development/testing.
package memory

import (
	"context"
	"sync"

	"github.com/jurisia/intake/internal/pipeline"
)

// Notifier records notifications instead of dispatching them.
type Notifier struct {
	mu            sync.Mutex
	notifications []pipeline.Notification
}

// New creates a Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Notify appends the notification to the in-memory log.
func (n *Notifier) Notify(_ context.Context, notification pipeline.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return nil
}

// Notifications returns a copy of everything recorded so far.
func (n *Notifier) Notifications() []pipeline.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]pipeline.Notification, len(n.notifications))
	copy(out, n.notifications)
	return out
}
