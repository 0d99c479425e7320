// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/modbus-rtu-master/modbus"
	"github.com/ffutop/modbus-rtu-master/modbus/rtu"
)

// fakeStream records written frames. Tests drive the master through Tick
// and Receive directly.
type fakeStream struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	closed   bool
}

func (s *fakeStream) Connect(context.Context) error { return nil }

func (s *fakeStream) Read([]byte) (int, error) { return 0, io.EOF }

func (s *fakeStream) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.writes = append(s.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.writes...)
}

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func newTestMaster(t *testing.T, opts ...Option) (*Master, *fakeStream, <-chan Event) {
	t.Helper()
	s := &fakeStream{}
	m, err := New(s, 1, opts...)
	require.NoError(t, err)
	events, _ := m.Subscribe(64)
	t.Cleanup(func() { m.Close() })
	return m, s, events
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return nil
	}
}

func noEvent(t *testing.T, events <-chan Event) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %#v", ev)
	default:
	}
}

func resultOf(t *testing.T, req *Request) (Event, error) {
	t.Helper()
	select {
	case <-req.Done():
		return req.Result()
	default:
		t.Fatalf("request %v not resolved", req)
		return nil, nil
	}
}

func TestNewInvalidSlaveID(t *testing.T) {
	for _, id := range []int{0, 256, -1} {
		m, err := New(&fakeStream{}, id)
		assert.Nil(t, m)
		assert.True(t, errors.Is(err, modbus.ErrInvalidIdentifier), "id %d: %v", id, err)
	}
}

func TestReadHoldingRegister(t *testing.T) {
	m, s, events := newTestMaster(t)

	req, err := m.ReadRegisters(0x0B00, 2)
	require.NoError(t, err)
	assert.Equal(t, 9, req.ExpectedLength())

	m.Tick(at(0))
	assert.Equal(t, [][]byte{{0x01, 0x03, 0x0B, 0x00, 0x00, 0x02, 0xC6, 0x2F}}, s.Writes())
	assert.Same(t, req, m.InFlight())

	m.Receive([]byte{0x01, 0x03, 0x04, 0x41, 0x20, 0x00, 0x00, 0xEF, 0xC5})

	ev := nextEvent(t, events)
	rr, ok := ev.(RegisterRead)
	require.True(t, ok, "event %#v", ev)
	assert.Equal(t, modbus.Address(0x0B00), rr.Address)
	assert.Equal(t, []byte{0x41, 0x20, 0x00, 0x00}, rr.Data)
	v, err := rr.Float32()
	require.NoError(t, err)
	assert.Equal(t, float32(10.0), v)

	res, err := resultOf(t, req)
	require.NoError(t, err)
	assert.Equal(t, ev, res)
	assert.Nil(t, m.InFlight())
}

func TestWriteCoil(t *testing.T) {
	m, s, events := newTestMaster(t)

	req, err := m.WriteCoil(0x0500, true)
	require.NoError(t, err)

	m.Tick(at(0))
	frame := s.Writes()[0]
	assert.Equal(t, []byte{0x05, 0x00, 0xFF, 0x00}, frame[2:6])

	m.Receive([]byte{0x01, 0x05, 0x05, 0x00, 0xFF, 0x00, 0x8C, 0xF6})
	assert.Equal(t, CoilWritten{Address: 0x0500}, nextEvent(t, events))
	_, err = resultOf(t, req)
	assert.NoError(t, err)
}

func TestReadCoil(t *testing.T) {
	tests := []struct {
		name string
		resp []byte
		want bool
	}{
		{"On", []byte{0x01, 0x01, 0x01, 0x01, 0x90, 0x48}, true},
		{"Off", []byte{0x01, 0x01, 0x01, 0x00, 0x51, 0x88}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, s, events := newTestMaster(t)
			_, err := m.ReadCoil(0x0520)
			require.NoError(t, err)
			m.Tick(at(0))
			assert.Equal(t, []byte{0x01, 0x01, 0x05, 0x20, 0x00, 0x01, 0xFC, 0xCC}, s.Writes()[0])

			m.Receive(tt.resp)
			ev := nextEvent(t, events)
			cr, ok := ev.(CoilRead)
			require.True(t, ok, "event %#v", ev)
			assert.Equal(t, modbus.Address(0x0520), cr.Address)
			assert.Equal(t, []bool{tt.want}, cr.Values)
			assert.Equal(t, tt.want, cr.Value())
		})
	}
}

func TestWriteRegisters(t *testing.T) {
	m, s, events := newTestMaster(t)

	_, err := m.WriteFloat(0x0A03, 10.0)
	require.NoError(t, err)
	m.Tick(at(0))
	assert.Equal(t, []byte{0x01, 0x10, 0x0A, 0x03, 0x00, 0x02, 0x04, 0x41, 0x20, 0x00, 0x00, 0xD8, 0xEC}, s.Writes()[0])

	m.Receive([]byte{0x01, 0x10, 0x0A, 0x03, 0x00, 0x02, 0xB2, 0x10})
	assert.Equal(t, RegisterWritten{Address: 0x0A03}, nextEvent(t, events))
}

func TestChunkedResponse(t *testing.T) {
	m, _, events := newTestMaster(t)

	req, err := m.ReadRegisters(0x0B00, 2)
	require.NoError(t, err)
	m.Tick(at(0))

	resp := []byte{0x01, 0x03, 0x04, 0x41, 0x20, 0x00, 0x00, 0xEF, 0xC5}
	for i, b := range resp {
		m.Receive([]byte{b})
		if i < len(resp)-1 {
			noEvent(t, events)
		}
	}
	ev := nextEvent(t, events)
	assert.IsType(t, RegisterRead{}, ev)
	_, err = resultOf(t, req)
	assert.NoError(t, err)
}

func TestSerialization(t *testing.T) {
	m, s, events := newTestMaster(t)

	first, err := m.WriteCoil(0x0500, true)
	require.NoError(t, err)
	second, err := m.ReadRegisters(0x0B00, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Pending())

	m.Tick(at(0))
	require.Len(t, s.Writes(), 1)
	assert.Equal(t, 1, m.Pending())

	// Bus busy: nothing goes out however much time passes.
	m.Tick(at(300))
	m.Tick(at(4000))
	assert.Len(t, s.Writes(), 1)

	m.Receive([]byte{0x01, 0x05, 0x05, 0x00, 0xFF, 0x00, 0x8C, 0xF6})
	assert.IsType(t, CoilWritten{}, nextEvent(t, events))
	_, err = resultOf(t, first)
	require.NoError(t, err)

	m.Tick(at(4100))
	require.Len(t, s.Writes(), 2)
	assert.Equal(t, second.Frame(), s.Writes()[1])
	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, uint64(2), second.ID)
}

func TestFrameSpacing(t *testing.T) {
	m, s, events := newTestMaster(t)

	_, err := m.WriteCoil(0x0500, true)
	require.NoError(t, err)
	_, err = m.WriteCoil(0x0501, true)
	require.NoError(t, err)

	m.Tick(at(0))
	m.Receive([]byte{0x01, 0x05, 0x05, 0x00, 0xFF, 0x00, 0x8C, 0xF6})
	nextEvent(t, events)

	m.Tick(at(100))
	m.Tick(at(200))
	assert.Len(t, s.Writes(), 1)

	m.Tick(at(250))
	assert.Len(t, s.Writes(), 2)
}

func TestTimeout(t *testing.T) {
	m, s, events := newTestMaster(t)

	first, err := m.ReadRegisters(0x0B00, 2)
	require.NoError(t, err)
	_, err = m.ReadRegisters(0x0B02, 2)
	require.NoError(t, err)

	m.Tick(at(0))
	m.Tick(at(5000))
	noEvent(t, events)

	m.Tick(at(5001))
	ev := nextEvent(t, events)
	ee, ok := ev.(ErrorEvent)
	require.True(t, ok, "event %#v", ev)
	assert.Equal(t, KindTimeout, ee.Err.Kind)
	assert.Equal(t, modbus.Address(0x0B00), ee.Err.Address)
	assert.True(t, errors.Is(ee.Err, ErrTimeout))

	_, err = resultOf(t, first)
	assert.True(t, errors.Is(err, ErrTimeout))

	// The next request goes out on a later tick, not the timeout tick.
	assert.Len(t, s.Writes(), 1)
	m.Tick(at(5101))
	assert.Len(t, s.Writes(), 2)
	noEvent(t, events)
}

func TestTimeoutDropsPartialResponse(t *testing.T) {
	m, _, events := newTestMaster(t)

	_, err := m.ReadRegisters(0x0B00, 2)
	require.NoError(t, err)
	second, err := m.ReadRegisters(0x0B00, 2)
	require.NoError(t, err)

	m.Tick(at(0))
	m.Receive([]byte{0x01, 0x03, 0x04})
	m.Tick(at(5001))
	assert.IsType(t, ErrorEvent{}, nextEvent(t, events))

	m.Tick(at(5101))
	m.Receive([]byte{0x01, 0x03, 0x04, 0x41, 0x20, 0x00, 0x00, 0xEF, 0xC5})
	assert.IsType(t, RegisterRead{}, nextEvent(t, events))
	_, err = resultOf(t, second)
	assert.NoError(t, err)
}

func TestChecksumError(t *testing.T) {
	m, s, events := newTestMaster(t)

	req, err := m.ReadRegisters(0x0B00, 2)
	require.NoError(t, err)
	_, err = m.WriteCoil(0x0500, true)
	require.NoError(t, err)

	m.Tick(at(0))
	m.Receive([]byte{0x01, 0x03, 0x04, 0x41, 0x20, 0x00, 0x00, 0xEF, 0xC6})

	ev := nextEvent(t, events)
	ee, ok := ev.(ErrorEvent)
	require.True(t, ok, "event %#v", ev)
	assert.Equal(t, KindChecksum, ee.Err.Kind)
	assert.True(t, errors.Is(ee.Err, rtu.ErrChecksum))
	var ce *rtu.ChecksumError
	assert.True(t, errors.As(ee.Err, &ce))

	_, err = resultOf(t, req)
	assert.True(t, errors.Is(err, rtu.ErrChecksum))
	assert.Nil(t, m.InFlight())

	m.Tick(at(300))
	assert.Len(t, s.Writes(), 2)
}

func TestExceptionResponse(t *testing.T) {
	m, _, events := newTestMaster(t)

	req, err := m.ReadRegisters(0x0B00, 2)
	require.NoError(t, err)
	m.Tick(at(0))

	m.Receive([]byte{0x01, 0x83, 0x02, 0xC0, 0xF1})
	ev := nextEvent(t, events)
	ee, ok := ev.(ErrorEvent)
	require.True(t, ok, "event %#v", ev)
	assert.Equal(t, KindException, ee.Err.Kind)
	assert.True(t, errors.Is(ee.Err, ErrException))

	_, err = resultOf(t, req)
	var me *modbus.Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, byte(modbus.ExceptionCodeIllegalDataAddress), me.ExceptionCode)
}

func TestForeignSlaveIgnored(t *testing.T) {
	m, _, events := newTestMaster(t)

	req, err := m.ReadCoil(0x0520)
	require.NoError(t, err)
	m.Tick(at(0))

	foreign := []byte{0x02, 0x01, 0x01, 0x01}
	v := checksum(foreign)
	m.Receive(append(foreign, v...))
	noEvent(t, events)
	assert.Same(t, req, m.InFlight())

	m.Tick(at(5001))
	ee, ok := nextEvent(t, events).(ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, ee.Err.Kind)
}

func TestMalformedResponse(t *testing.T) {
	m, _, events := newTestMaster(t)

	_, err := m.WriteCoil(0x0500, true)
	require.NoError(t, err)
	m.Tick(at(0))

	// A checksummed read response where a write acknowledgement is due.
	body := []byte{0x01, 0x03, 0x03, 0x00, 0x01, 0x00}
	m.Receive(append(body, checksum(body)...))

	ee, ok := nextEvent(t, events).(ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, KindResponse, ee.Err.Kind)
	assert.True(t, errors.Is(ee.Err, ErrResponse))
}

func TestIdleBytesDiscarded(t *testing.T) {
	m, _, events := newTestMaster(t)

	m.Receive([]byte{0x01, 0x03, 0x04})
	noEvent(t, events)

	_, err := m.ReadRegisters(0x0B00, 2)
	require.NoError(t, err)
	m.Tick(at(0))
	m.Receive([]byte{0x01, 0x03, 0x04, 0x41, 0x20, 0x00, 0x00, 0xEF, 0xC5})
	assert.IsType(t, RegisterRead{}, nextEvent(t, events))
}

func TestWriteFailure(t *testing.T) {
	m, s, events := newTestMaster(t)
	s.writeErr = errors.New("device unplugged")

	req, err := m.WriteCoil(0x0500, true)
	require.NoError(t, err)
	m.Tick(at(0))

	ee, ok := nextEvent(t, events).(ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, KindTransport, ee.Err.Kind)
	assert.True(t, errors.Is(ee.Err, ErrTransport))
	_, err = resultOf(t, req)
	assert.ErrorContains(t, err, "device unplugged")
	assert.Nil(t, m.InFlight())
}

func TestQueueFull(t *testing.T) {
	m, _, _ := newTestMaster(t, WithMaxQueueDepth(2))

	_, err := m.WriteCoil(0x0500, true)
	require.NoError(t, err)
	_, err = m.WriteCoil(0x0501, true)
	require.NoError(t, err)
	_, err = m.WriteCoil(0x0502, true)
	assert.ErrorIs(t, err, ErrQueueFull)

	m.Tick(at(0))
	_, err = m.WriteCoil(0x0502, true)
	assert.NoError(t, err)
}

func TestInvalidRequests(t *testing.T) {
	m, _, _ := newTestMaster(t)

	_, err := m.ReadRegisters(0x0B00, 0)
	assert.ErrorIs(t, err, rtu.ErrInvalidQuantity)
	_, err = m.WriteRegisters(0x0A00, []byte{0x01})
	assert.ErrorIs(t, err, rtu.ErrInvalidQuantity)
	assert.Equal(t, 0, m.Pending())
}

func TestClose(t *testing.T) {
	m, s, events := newTestMaster(t)

	inFlight, err := m.WriteCoil(0x0500, true)
	require.NoError(t, err)
	queued, err := m.WriteCoil(0x0501, true)
	require.NoError(t, err)
	m.Tick(at(0))

	require.NoError(t, m.Close())
	assert.True(t, s.closed)

	for _, req := range []*Request{inFlight, queued} {
		_, err := resultOf(t, req)
		assert.ErrorIs(t, err, ErrClosed)
	}
	for i := 0; i < 2; i++ {
		ee, ok := nextEvent(t, events).(ErrorEvent)
		require.True(t, ok)
		assert.Equal(t, KindClosed, ee.Err.Kind)
	}
	_, open := <-events
	assert.False(t, open)

	_, err = m.WriteCoil(0x0500, true)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, m.Close())
}

func TestRequestWait(t *testing.T) {
	m, _, _ := newTestMaster(t)

	req, err := m.WriteCoil(0x0500, true)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = req.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	m.Tick(at(0))
	m.Receive([]byte{0x01, 0x05, 0x05, 0x00, 0xFF, 0x00, 0x8C, 0xF6})
	ev, err := req.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CoilWritten{Address: 0x0500}, ev)
}

func TestEnqueuedAtUsesClock(t *testing.T) {
	m, _, _ := newTestMaster(t, WithClock(func() time.Time { return at(42) }))
	req, err := m.ReadCoil(0x0520)
	require.NoError(t, err)
	assert.Equal(t, at(42), req.EnqueuedAt)
	assert.Equal(t, "read coil 0x0520", req.String())
}

func checksum(b []byte) []byte {
	adu := rtu.ApplicationDataUnit{SlaveID: b[0], Pdu: modbus.ProtocolDataUnit{FunctionCode: b[1], Data: b[2:]}}
	raw, _ := adu.Encode()
	return raw[len(raw)-2:]
}
