// Package memory keeps published version events in process. It backs the
// publisher when Pub/Sub is disabled and lets tests inspect what was sent.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// DefaultRetention bounds how many events a Publisher keeps.
const DefaultRetention = 1024

// Publisher keeps the most recent published payloads for inspection.
type Publisher struct {
	mu        sync.RWMutex
	retention int
	published int
	messages  []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRetention caps the retained events. Non-positive values keep the default.
func WithRetention(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.retention = n
		}
	}
}

// New returns a memory Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{retention: DefaultRetention}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish records the message and returns a pseudo ID. The oldest event is
// dropped once retention is reached.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published++
	id := fmt.Sprintf("memory-%d", p.published)
	if len(p.messages) == p.retention {
		p.messages = append(p.messages[:0], p.messages[1:]...)
	}
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns the retained publishes, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
