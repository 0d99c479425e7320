// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simulator

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-rtu-master/internal/config"
	"github.com/ffutop/modbus-rtu-master/internal/simulator/persistence"
	"github.com/ffutop/modbus-rtu-master/modbus/rtu"
	"github.com/ffutop/modbus-rtu-master/transport"
)

var ErrNotConnected = errors.New("simulator: not connected")

var _ transport.Stream = (*Device)(nil)

// ResponseHook may rewrite an encoded response before it is put on the line.
// Returning nil drops the response.
type ResponseHook func(resp []byte) []byte

// Device is the line side of a simulated slave. Frames written to it are
// answered like a slave on a serial bus would: frames with a bad checksum or
// for another slave id get no answer.
type Device struct {
	slave     *Slave
	storage   persistence.Storage
	chunkSize int
	delay     time.Duration
	hook      ResponseHook
	logger    *slog.Logger

	mu        sync.Mutex
	out       []byte
	connected bool
	closed    bool
	ready     chan struct{}
	done      chan struct{}
	writes    [][]byte
}

type DeviceOption func(*Device)

// WithChunkSize splits responses into reads of at most n bytes.
func WithChunkSize(n int) DeviceOption {
	return func(d *Device) { d.chunkSize = n }
}

// WithResponseDelay delays every response by delay.
func WithResponseDelay(delay time.Duration) DeviceOption {
	return func(d *Device) { d.delay = delay }
}

func WithResponseHook(hook ResponseHook) DeviceOption {
	return func(d *Device) { d.hook = hook }
}

func WithStorage(s persistence.Storage) DeviceOption {
	return func(d *Device) { d.storage = s }
}

func WithDeviceLogger(logger *slog.Logger) DeviceOption {
	return func(d *Device) { d.logger = logger }
}

func NewDevice(slave *Slave, opts ...DeviceOption) *Device {
	d := &Device{
		slave:  slave,
		logger: slog.Default(),
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("simulator", slave.ID())
	return d
}

// Open builds a device from the simulator section of the configuration.
func Open(cfg config.SimulatorConfig) (*Device, error) {
	storage, err := persistence.New(cfg.Persistence)
	if err != nil {
		return nil, err
	}
	m, err := storage.Load()
	if err != nil {
		slog.Error("failed to load persistence data, starting with memory storage", "error", err)
		storage.Close()
		storage = persistence.NewMemoryStorage()
		if m, err = storage.Load(); err != nil {
			return nil, err
		}
	}
	slog.Info("simulated slave ready", "slave_id", cfg.SlaveID, "persistence", cfg.Persistence.Type)

	slave := NewSlave(byte(cfg.SlaveID), m, storage.OnWrite)
	return NewDevice(slave,
		WithStorage(storage),
		WithChunkSize(cfg.ChunkSize),
		WithResponseDelay(cfg.ResponseDelay)), nil
}

func (d *Device) Slave() *Slave {
	return d.slave
}

// Writes returns the frames written to the device so far.
func (d *Device) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.writes...)
}

func (d *Device) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return io.ErrClosedPipe
	}
	d.connected = true
	return nil
}

// Write takes one request frame.
func (d *Device) Write(b []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if !d.connected {
		d.mu.Unlock()
		return 0, ErrNotConnected
	}
	d.writes = append(d.writes, append([]byte(nil), b...))
	// The model may live in storage that Close releases.
	resp := d.answer(b)
	d.mu.Unlock()

	if resp == nil {
		return len(b), nil
	}
	if d.delay > 0 {
		time.AfterFunc(d.delay, func() { d.put(resp) })
	} else {
		d.put(resp)
	}
	return len(b), nil
}

func (d *Device) answer(frame []byte) []byte {
	adu, err := rtu.Decode(frame)
	if err != nil {
		d.logger.Debug("drop request", "request", hex.EncodeToString(frame), "error", err)
		return nil
	}
	if adu.SlaveID != d.slave.ID() {
		d.logger.Debug("drop request for other slave", "to", adu.SlaveID)
		return nil
	}

	resp := rtu.ApplicationDataUnit{SlaveID: d.slave.ID(), Pdu: d.slave.Process(adu.Pdu)}
	raw, err := resp.Encode()
	if err != nil {
		d.logger.Error("encode response failed", "error", err)
		return nil
	}
	if d.hook != nil {
		raw = d.hook(raw)
	}
	if raw != nil {
		d.logger.Debug("answer request", "request", hex.EncodeToString(frame), "response", hex.EncodeToString(raw))
	}
	return raw
}

// Inject puts raw bytes on the line as if a slave had sent them.
func (d *Device) Inject(b []byte) {
	d.put(append([]byte(nil), b...))
}

func (d *Device) put(b []byte) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.out = append(d.out, b...)
	d.mu.Unlock()

	select {
	case d.ready <- struct{}{}:
	default:
	}
}

// Read returns pending response bytes, at most chunk size at a time. It
// blocks until bytes arrive and returns io.EOF once the device is closed.
func (d *Device) Read(b []byte) (int, error) {
	for {
		d.mu.Lock()
		if len(d.out) > 0 {
			n := len(d.out)
			if d.chunkSize > 0 && n > d.chunkSize {
				n = d.chunkSize
			}
			n = copy(b, d.out[:n])
			d.out = d.out[n:]
			more := len(d.out) > 0
			d.mu.Unlock()
			if more {
				select {
				case d.ready <- struct{}{}:
				default:
				}
			}
			return n, nil
		}
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return 0, io.EOF
		}

		select {
		case <-d.ready:
		case <-d.done:
		}
	}
}

// Close ends the line and flushes the storage.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.out = nil
	close(d.done)
	d.mu.Unlock()

	if d.storage == nil {
		return nil
	}
	err := d.storage.Save(d.slave.Model())
	if cerr := d.storage.Close(); err == nil {
		err = cerr
	}
	return err
}
