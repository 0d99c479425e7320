// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// EventSink fans events out to subscribers. A subscriber that does not drain
// its channel within the publish timeout loses the event.
type EventSink struct {
	logger  *slog.Logger
	buffer  int
	timeout time.Duration

	nextID atomic.Uint64
	closed atomic.Bool
	subs   *xsync.MapOf[uint64, *subscriber]
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func NewEventSink(logger *slog.Logger, buffer int, timeout time.Duration) *EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSink{
		logger:  logger,
		buffer:  buffer,
		timeout: timeout,
		subs:    xsync.NewMapOf[uint64, *subscriber](),
	}
}

// Subscribe registers a subscriber. A buffer of zero or less uses the sink
// default. The channel is closed by cancel or by Close.
func (s *EventSink) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = s.buffer
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if s.closed.Load() {
		sub.close()
		return sub.ch, func() {}
	}

	id := s.nextID.Add(1)
	s.subs.Store(id, sub)
	// Close may have run between the check and the store.
	if s.closed.Load() {
		s.subs.Delete(id)
		sub.close()
		return sub.ch, func() {}
	}

	return sub.ch, func() {
		s.subs.Delete(id)
		sub.close()
	}
}

// Len returns the number of live subscribers.
func (s *EventSink) Len() int {
	return s.subs.Size()
}

func (s *EventSink) publish(ev Event) {
	if s.closed.Load() {
		return
	}
	s.subs.Range(func(id uint64, sub *subscriber) bool {
		if !sub.send(ev, s.timeout) {
			s.logger.Warn("event subscriber send timeout, dropping event",
				"subscriber", id,
				"event", fmt.Sprintf("%T", ev))
		}
		return true
	})
}

// Close closes every subscriber channel. Later publishes are discarded.
func (s *EventSink) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.subs.Range(func(id uint64, sub *subscriber) bool {
		s.subs.Delete(id)
		sub.close()
		return true
	})
}

func (sub *subscriber) send(ev Event, timeout time.Duration) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return true
	}

	select {
	case sub.ch <- ev:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sub.ch <- ev:
		return true
	case <-timer.C:
		return false
	}
}

func (sub *subscriber) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}
