// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serial implements transport.Stream on a serial port.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/modbus-rtu-master/internal/config"
	"github.com/ffutop/modbus-rtu-master/transport"
)

// readTimeout bounds a single read so Close is noticed by the reader.
const readTimeout = 500 * time.Millisecond

var _ transport.Stream = (*Port)(nil)

// opener is replaced in tests.
type opener func(*serial.Config) (io.ReadWriteCloser, error)

func openSerial(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(c)
}

// Port has configuration and I/O controller.
type Port struct {
	// Serial port configuration.
	serial.Config

	open opener

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port   io.ReadWriteCloser
	closed bool
}

// New maps the serial section of the configuration onto a port. The port is
// opened by Connect.
func New(cfg config.SerialConfig) *Port {
	p := &Port{open: openSerial}
	p.Config.Address = cfg.Device
	p.Config.BaudRate = cfg.BaudRate
	p.Config.DataBits = cfg.DataBits
	p.Config.StopBits = cfg.StopBits
	p.Config.Parity = cfg.Parity
	p.Config.Timeout = cfg.Timeout
	if p.Config.Timeout <= 0 || p.Config.Timeout > readTimeout {
		p.Config.Timeout = readTimeout
	}

	if cfg.RS485 {
		p.Config.RS485.Enabled = true
		p.Config.RS485.DelayRtsBeforeSend = cfg.DelayRtsBeforeSend
		p.Config.RS485.DelayRtsAfterSend = cfg.DelayRtsAfterSend
		p.Config.RS485.RtsHighDuringSend = cfg.RtsHighDuringSend
		p.Config.RS485.RtsHighAfterSend = cfg.RtsHighAfterSend
		p.Config.RS485.RxDuringTx = cfg.RxDuringTx
	}
	return p
}

func (p *Port) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if p.closed {
		return io.ErrClosedPipe
	}
	if p.port == nil {
		port, err := p.open(&p.Config)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", p.Config.Address, err)
		}
		slog.Info("serial port opened", "device", p.Config.Address, "baud_rate", p.Config.BaudRate)
		p.port = port
	}
	return nil
}

func (p *Port) current() (io.ReadWriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.port == nil {
		return nil, io.EOF
	}
	return p.port, nil
}

// Read waits for bytes. Serial read timeouts are retried so the caller only
// sees data, io.EOF after Close, or a real failure.
func (p *Port) Read(b []byte) (int, error) {
	for {
		port, err := p.current()
		if err != nil {
			return 0, err
		}
		n, err := port.Read(b)
		if n > 0 {
			return n, nil
		}
		if err == nil || isTimeout(err) {
			continue
		}
		if _, cerr := p.current(); cerr != nil {
			return 0, io.EOF
		}
		return 0, err
	}
}

func (p *Port) Write(b []byte) (int, error) {
	port, err := p.current()
	if err != nil {
		return 0, io.ErrClosedPipe
	}
	return port.Write(b)
}

func (p *Port) Close() (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.port != nil {
		err = p.port.Close()
		p.port = nil
	}
	return
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
