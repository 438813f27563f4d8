// Package bus fans out per-session process output and lifecycle events to
// connected viewers. One topic per session id; every subscriber of a topic
// receives identical frames in publish order. Late subscribers receive only
// live output from the point of subscription.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"helmsman/internal/domain"
	"helmsman/internal/logging"
	"helmsman/internal/ports"
)

// DefaultSubscriberBuffer is the per-subscriber frame queue size. A
// subscriber that can't keep up is dropped rather than blocking the
// producer.
const DefaultSubscriberBuffer = 256

// FrameType distinguishes raw output from structured events on a stream
type FrameType int

const (
	FrameOutput FrameType = iota
	FrameEvent
)

// Frame is one unit delivered to subscribers: either raw process output
// bytes or a structured lifecycle event
type Frame struct {
	Type  FrameType
	Data  []byte
	Event domain.Event
}

// Subscription is one viewer's attachment to a session stream
type Subscription struct {
	ID        string
	SessionID string
	frames    chan Frame
	closed    chan struct{}
	once      sync.Once
}

// Frames returns the subscriber's delivery channel
func (s *Subscription) Frames() <-chan Frame {
	return s.frames
}

// Closed is closed when the subscription is dropped, either explicitly or
// because the subscriber fell behind
func (s *Subscription) Closed() <-chan struct{} {
	return s.closed
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.closed) })
}

// Bus multiplexes session streams to any number of subscribers
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscription
	buffer int
}

// Verify interface compliance at compile time
var _ ports.EventSink = (*Bus)(nil)

// New creates a Bus with the given per-subscriber buffer size
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Bus{
		topics: make(map[string]map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe attaches a new viewer to the session's stream
func (b *Bus) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		frames:    make(chan Frame, b.buffer),
		closed:    make(chan struct{}),
	}

	b.mu.Lock()
	subs, ok := b.topics[sessionID]
	if !ok {
		subs = make(map[string]*Subscription)
		b.topics[sessionID] = subs
	}
	subs[sub.ID] = sub
	b.mu.Unlock()

	logging.Logger.Debug("viewer subscribed",
		"session_id", sessionID,
		"subscriber_id", sub.ID)

	return sub
}

// Unsubscribe detaches a viewer; safe to call more than once
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	if subs, ok := b.topics[sub.SessionID]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(b.topics, sub.SessionID)
		}
	}
	b.mu.Unlock()

	sub.close()
}

// Output implements ports.EventSink. Bytes are delivered to all
// subscribers in publish order; slow subscribers are dropped.
func (b *Bus) Output(sessionID string, data []byte) {
	payload := append([]byte(nil), data...)
	b.deliver(sessionID, Frame{Type: FrameOutput, Data: payload})
}

// Event implements ports.EventSink, broadcasting a structured frame
func (b *Bus) Event(event domain.Event) {
	b.deliver(event.SessionID, Frame{Type: FrameEvent, Event: event})
}

// CloseSession drops every subscriber of a session, used on delete
func (b *Bus) CloseSession(sessionID string) {
	b.mu.Lock()
	subs := b.topics[sessionID]
	delete(b.topics, sessionID)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (b *Bus) deliver(sessionID string, frame Frame) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.topics[sessionID]))
	for _, sub := range b.topics[sessionID] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var dropped []*Subscription
	for _, sub := range subs {
		select {
		case sub.frames <- frame:
		default:
			// Buffer full: this viewer can't keep up with the process.
			dropped = append(dropped, sub)
		}
	}

	for _, sub := range dropped {
		logging.Logger.Warn("dropping slow subscriber",
			"session_id", sessionID,
			"subscriber_id", sub.ID)
		b.Unsubscribe(sub)
	}
}

// SubscriberCount reports how many viewers a session has
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[sessionID])
}
