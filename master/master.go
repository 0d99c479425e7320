// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

/*
Package master drives Modbus RTU slaves over a half-duplex byte stream.

Requests are queued and written one at a time, at most one frame in flight,
with a minimum spacing between frames. Responses are reassembled from the
stream, checked and correlated with the request in flight. Every request
resolves exactly once; the outcome is also published as an Event.

	m, err := master.New(stream, 1)
	go m.Run(ctx)
	req, _ := m.ReadRegisters(0x0B00, 2)
	ev, err := req.Wait(ctx)
*/
package master

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ffutop/modbus-rtu-master/modbus"
	"github.com/ffutop/modbus-rtu-master/modbus/rtu"
	"github.com/ffutop/modbus-rtu-master/transport"
)

var errRunning = errors.New("master: already running")

// Master is the request engine of one bus.
type Master struct {
	stream  transport.Stream
	slaveID byte

	tickInterval    time.Duration
	frameSpacing    time.Duration
	responseTimeout time.Duration
	maxQueueDepth   int
	eventBuffer     int
	publishTimeout  time.Duration
	logger          *slog.Logger
	now             func() time.Time

	events  *EventSink
	running atomic.Bool

	mu       sync.Mutex
	queue    *requestQueue
	inFlight *Request
	lastSend time.Time
	sentAt   time.Time
	buf      []byte
	nextID   uint64
	closed   bool

	// emitMu is taken before mu is released so events leave in the order
	// their requests resolved.
	emitMu sync.Mutex
}

// New creates a master addressing slaveID on stream. The stream is opened
// by Run.
func New(stream transport.Stream, slaveID int, opts ...Option) (*Master, error) {
	id, err := modbus.ValidateSlaveID(slaveID)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, errors.New("master: nil stream")
	}

	m := &Master{
		stream:          stream,
		slaveID:         id,
		tickInterval:    DefaultTickInterval,
		frameSpacing:    DefaultFrameSpacing,
		responseTimeout: DefaultResponseTimeout,
		eventBuffer:     DefaultEventBuffer,
		publishTimeout:  DefaultPublishTimeout,
		logger:          slog.Default(),
		now:             time.Now,
		queue:           newRequestQueue(16),
		buf:             make([]byte, 0, rtu.MaxSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("slave_id", id)
	m.events = NewEventSink(m.logger, m.eventBuffer, m.publishTimeout)
	return m, nil
}

func (m *Master) SlaveID() byte {
	return m.slaveID
}

// Events returns the sink every outcome is published on.
func (m *Master) Events() *EventSink {
	return m.events
}

// Subscribe is shorthand for m.Events().Subscribe(buffer).
func (m *Master) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.Subscribe(buffer)
}

// Pending returns the number of queued requests, not counting the one in
// flight.
func (m *Master) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Length()
}

// InFlight returns the request awaiting its response, or nil.
func (m *Master) InFlight() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// ReadCoil queues a read of the coil at addr.
func (m *Master) ReadCoil(addr modbus.Address) (*Request, error) {
	return m.enqueue(addr, modbus.Coil, modbus.Read, rtu.ReadCoilsRequest(addr))
}

// WriteCoil queues a write of the coil at addr.
func (m *Master) WriteCoil(addr modbus.Address, on bool) (*Request, error) {
	return m.enqueue(addr, modbus.Coil, modbus.Write, rtu.WriteCoilRequest(addr, on))
}

// ReadRegisters queues a read of count holding registers starting at addr.
func (m *Master) ReadRegisters(addr modbus.Address, count int) (*Request, error) {
	pdu, err := rtu.ReadRegistersRequest(addr, count)
	if err != nil {
		return nil, err
	}
	return m.enqueue(addr, modbus.Register, modbus.Read, pdu)
}

// WriteRegisters queues a write of data, big endian register words, starting
// at addr.
func (m *Master) WriteRegisters(addr modbus.Address, data []byte) (*Request, error) {
	pdu, err := rtu.WriteRegistersRequest(addr, data)
	if err != nil {
		return nil, err
	}
	return m.enqueue(addr, modbus.Register, modbus.Write, pdu)
}

// WriteFloat queues a write of value into the two registers at addr.
func (m *Master) WriteFloat(addr modbus.Address, value float32) (*Request, error) {
	return m.WriteRegisters(addr, modbus.Float32ToBytes(value))
}

func (m *Master) enqueue(addr modbus.Address, kind modbus.ObjectKind, op modbus.Operation, pdu modbus.ProtocolDataUnit) (*Request, error) {
	adu := rtu.ApplicationDataUnit{SlaveID: m.slaveID, Pdu: pdu}
	frame, err := adu.Encode()
	if err != nil {
		return nil, err
	}
	req := &Request{
		Address:      addr,
		Kind:         kind,
		Operation:    op,
		FunctionCode: pdu.FunctionCode,
		EnqueuedAt:   m.now(),
		frame:        frame,
		expected:     rtu.ExpectedResponseLength(frame),
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.maxQueueDepth > 0 && m.queue.Length() >= m.maxQueueDepth {
		return nil, ErrQueueFull
	}
	m.nextID++
	req.ID = m.nextID
	m.queue.Enqueue(req)
	return req, nil
}

// Tick advances the dispatcher to now: it times out the request in flight,
// or writes the next queued frame once the bus is free and the frame spacing
// has elapsed. Run calls it every tick interval.
func (m *Master) Tick(now time.Time) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	var events []Event
	switch {
	case m.inFlight != nil:
		if now.Sub(m.sentAt) > m.responseTimeout {
			req := m.inFlight
			m.inFlight = nil
			m.buf = m.buf[:0]
			m.logger.Warn("modbus slave did not respond", "request", req.String(), "timeout", m.responseTimeout)
			events = append(events, m.fail(req, KindTimeout, ErrTimeout))
		}
	case !m.queue.IsEmpty() && now.Sub(m.lastSend) >= m.frameSpacing:
		if ev := m.dispatch(now); ev != nil {
			events = append(events, ev)
		}
	}
	m.unlockAndEmit(events)
}

// dispatch writes the head of the queue. Caller must hold the mutex.
func (m *Master) dispatch(now time.Time) Event {
	req := m.queue.Dequeue()
	m.inFlight = req
	m.lastSend = now
	m.sentAt = now
	m.buf = m.buf[:0]

	m.logger.Debug("send to modbus slave", "request", hex.EncodeToString(req.frame))
	if _, err := m.stream.Write(req.frame); err != nil {
		m.inFlight = nil
		m.logger.Error("write to modbus slave failed", "request", req.String(), "error", err)
		return m.fail(req, KindTransport, err)
	}
	return nil
}

func (m *Master) fail(req *Request, kind Kind, err error) Event {
	e := &Error{Kind: kind, Address: req.Address, Err: err}
	ev := ErrorEvent{Err: e}
	req.resolve(ev, e)
	return ev
}

func (m *Master) succeed(req *Request, ev Event) Event {
	req.resolve(ev, nil)
	return ev
}

// unlockAndEmit releases mu and publishes events in order.
func (m *Master) unlockAndEmit(events []Event) {
	if len(events) == 0 {
		m.mu.Unlock()
		return
	}
	m.emitMu.Lock()
	m.mu.Unlock()
	defer m.emitMu.Unlock()

	for _, ev := range events {
		m.events.publish(ev)
	}
}

func (m *Master) emit(ev Event) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	m.events.publish(ev)
}

// Run opens the stream and drives the master until ctx is done or the
// stream ends. Pending requests fail with ErrClosed when it returns and the
// stream is closed.
func (m *Master) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errRunning
	}
	defer m.Close()

	if err := m.stream.Connect(ctx); err != nil {
		m.logger.Error("connect failed", "error", err)
		return fmt.Errorf("master: connect: %w", err)
	}
	m.logger.Info("modbus master ready",
		"tick_interval", m.tickInterval,
		"frame_spacing", m.frameSpacing,
		"response_timeout", m.responseTimeout)
	m.emit(Ready{})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go m.readLoop(ctx, chunks, readErr)

	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick(m.now())
		case b := <-chunks:
			m.Receive(b)
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				m.logger.Info("stream closed")
				return nil
			}
			m.logger.Error("stream failed", "error", err)
			m.emit(ErrorEvent{Err: &Error{Kind: KindTransport, Err: err}})
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
}

func (m *Master) readLoop(ctx context.Context, chunks chan<- []byte, readErr chan<- error) {
	buf := make([]byte, rtu.MaxSize)
	for {
		n, err := m.stream.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case readErr <- err:
			case <-ctx.Done():
			}
			return
		}
	}
}

// Close stops the master: queued and in-flight requests fail with ErrClosed,
// the stream is closed and every subscription ends.
func (m *Master) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	var events []Event
	if req := m.inFlight; req != nil {
		m.inFlight = nil
		events = append(events, m.fail(req, KindClosed, ErrClosed))
	}
	for !m.queue.IsEmpty() {
		events = append(events, m.fail(m.queue.Dequeue(), KindClosed, ErrClosed))
	}
	m.buf = m.buf[:0]
	m.unlockAndEmit(events)

	err := m.stream.Close()
	m.events.Close()
	return err
}
