// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"log/slog"
	"time"
)

const (
	DefaultTickInterval    = 100 * time.Millisecond
	DefaultFrameSpacing    = 250 * time.Millisecond
	DefaultResponseTimeout = 5000 * time.Millisecond
	DefaultEventBuffer     = 16
	DefaultPublishTimeout  = 50 * time.Millisecond
)

type Option func(*Master)

// WithTickInterval sets the dispatch period of Run.
func WithTickInterval(d time.Duration) Option {
	return func(m *Master) {
		if d > 0 {
			m.tickInterval = d
		}
	}
}

// WithFrameSpacing sets the minimum gap between two request frames.
func WithFrameSpacing(d time.Duration) Option {
	return func(m *Master) {
		if d >= 0 {
			m.frameSpacing = d
		}
	}
}

func WithResponseTimeout(d time.Duration) Option {
	return func(m *Master) {
		if d > 0 {
			m.responseTimeout = d
		}
	}
}

// WithMaxQueueDepth caps the number of queued requests. Zero means unbounded.
func WithMaxQueueDepth(n int) Option {
	return func(m *Master) {
		if n >= 0 {
			m.maxQueueDepth = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Master) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces time.Now, used for request timestamps and by Run.
func WithClock(now func() time.Time) Option {
	return func(m *Master) {
		if now != nil {
			m.now = now
		}
	}
}

// WithEventBuffer sets the default channel size of event subscriptions.
func WithEventBuffer(n int) Option {
	return func(m *Master) {
		if n > 0 {
			m.eventBuffer = n
		}
	}
}

// WithPublishTimeout bounds how long an event waits on a full subscriber.
func WithPublishTimeout(d time.Duration) Option {
	return func(m *Master) {
		if d > 0 {
			m.publishTimeout = d
		}
	}
}
