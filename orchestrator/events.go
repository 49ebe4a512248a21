// Copyright 2025 UltrAI
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

const (
	// DefaultHeartbeatInterval keeps idle streams visibly alive.
	DefaultHeartbeatInterval = 15 * time.Second

	// DefaultStreamRetention is how long a finished stream stays addressable
	// so late subscribers get the terminal event instead of a lookup error.
	DefaultStreamRetention = 10 * time.Minute

	// subscriberBuffer is how far a subscriber may fall behind before it
	// loses ordinary events. The channel holds one slot beyond it, reserved
	// for the terminal event, which is never dropped.
	subscriberBuffer = 64
)

// EventHub fans progress events out to stream subscribers, keyed by
// correlation id. Subscribers joining mid-pipeline receive events from
// their join point forward; the stream is never replayed. Every stream
// terminates in exactly one terminal event.
type EventHub struct {
	heartbeatInterval time.Duration
	retention         time.Duration
	logger            *log.Logger

	mu      sync.RWMutex
	streams map[string]*eventStream
}

// eventStream is one request's event channel set.
type eventStream struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextSub     int
	terminal    *Event
	stop        chan struct{}
}

// HubOption configures the event hub.
type HubOption func(*EventHub)

// WithHeartbeatInterval overrides the idle heartbeat period.
func WithHeartbeatInterval(d time.Duration) HubOption {
	return func(h *EventHub) {
		h.heartbeatInterval = d
	}
}

// WithStreamRetention overrides how long finished streams stay addressable.
func WithStreamRetention(d time.Duration) HubOption {
	return func(h *EventHub) {
		h.retention = d
	}
}

// NewEventHub creates an event hub.
func NewEventHub(opts ...HubOption) *EventHub {
	h := &EventHub{
		heartbeatInterval: DefaultHeartbeatInterval,
		retention:         DefaultStreamRetention,
		logger:            log.New(os.Stdout, "[EVENTS] ", log.LstdFlags),
		streams:           make(map[string]*eventStream),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open creates the stream for a correlation id and starts its heartbeat.
// Must be called once, before the pipeline starts publishing.
func (h *EventHub) Open(correlationID string) {
	s := &eventStream{
		subscribers: make(map[int]chan Event),
		stop:        make(chan struct{}),
	}

	h.mu.Lock()
	h.streams[correlationID] = s
	h.mu.Unlock()

	go h.heartbeatLoop(correlationID, s)
}

// Publish delivers an event to every current subscriber of the stream.
// Events published after the terminal event are dropped. A slow subscriber
// loses ordinary events rather than blocking the publisher; the terminal
// event is always delivered.
func (h *EventHub) Publish(correlationID string, event Event) {
	h.mu.RLock()
	s, ok := h.streams[correlationID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.CorrelationID = correlationID

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal != nil {
		return
	}

	if event.Type.Terminal() {
		s.terminal = &event
		for _, ch := range s.subscribers {
			// Sends are serialized under s.mu and ordinary events never
			// take the last slot, so this cannot block
			ch <- event
			close(ch)
		}
		s.subscribers = make(map[int]chan Event)
		close(s.stop)

		// Keep the finished stream addressable for late subscribers
		time.AfterFunc(h.retention, func() {
			h.mu.Lock()
			delete(h.streams, correlationID)
			h.mu.Unlock()
		})
		return
	}

	for id, ch := range s.subscribers {
		if len(ch) < subscriberBuffer {
			ch <- event
		} else {
			h.logger.Printf("Subscriber %d on %s is stalled, dropping %s", id, correlationID, event.Type)
		}
	}
}

// Subscribe attaches to a stream. The returned channel carries events from
// the join point forward and is closed after the terminal event. The cancel
// function detaches the subscriber; it never cancels the pipeline.
//
// Subscribing to a finished stream yields just its terminal event.
// An unknown correlation id fails fast.
func (h *EventHub) Subscribe(correlationID string) (<-chan Event, func(), error) {
	h.mu.RLock()
	s, ok := h.streams[correlationID]
	h.mu.RUnlock()
	if !ok {
		return nil, nil, &RequestError{
			Code:    ErrCodeUnknownCorrelation,
			Message: fmt.Sprintf("no stream for correlation id %q", correlationID),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal != nil {
		ch := make(chan Event, 1)
		ch <- *s.terminal
		close(ch)
		return ch, func() {}, nil
	}

	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, subscriberBuffer+1)
	s.subscribers[id] = ch

	ch <- Event{
		Type:          EventConnected,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// Has reports whether a correlation id is (still) addressable.
func (h *EventHub) Has(correlationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.streams[correlationID]
	return ok
}

// heartbeatLoop publishes heartbeats until the stream terminates.
func (h *EventHub) heartbeatLoop(correlationID string, s *eventStream) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			h.Publish(correlationID, Event{Type: EventHeartbeat})
		}
	}
}
