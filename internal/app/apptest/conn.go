// Package apptest provides an in-memory connection for exercising rooms without a transport.
package apptest

import (
	"errors"
	"sync"

	"quiz-room-service/internal/domain"
)

var ErrClosed = errors.New("connection closed")

// Conn records every event sent to it.
type Conn struct {
	id string

	mu     sync.Mutex
	events []domain.Event
	closed bool
}

func NewConn(id string) *Conn {
	return &Conn{id: id}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(e domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.events = append(c.events, e)
	return nil
}

// Close makes later sends fail.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Events() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

// OfType returns the recorded events of type t in arrival order.
func (c *Conn) OfType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range c.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event of type t.
func (c *Conn) Last(t domain.EventType) (domain.Event, bool) {
	events := c.OfType(t)
	if len(events) == 0 {
		return domain.Event{}, false
	}
	return events[len(events)-1], true
}
