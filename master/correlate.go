// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ffutop/modbus-rtu-master/modbus"
	"github.com/ffutop/modbus-rtu-master/modbus/rtu"
)

// Receive feeds bytes read from the stream. Once the response to the request
// in flight is complete it is decoded and the request resolved. Run calls it
// for every chunk read.
func (m *Master) Receive(b []byte) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	req := m.inFlight
	if req == nil {
		if len(b) > 0 {
			m.logger.Debug("discard bytes with no request in flight", "data", hex.EncodeToString(b))
		}
		m.mu.Unlock()
		return
	}

	m.buf = append(m.buf, b...)
	expected := req.expected
	if len(m.buf) >= 2 && m.buf[1] == req.FunctionCode|modbus.ExceptionFlag {
		expected = rtu.ExceptionSize
	}
	if len(m.buf) < expected {
		m.mu.Unlock()
		return
	}

	frame := append([]byte(nil), m.buf[:expected]...)
	if extra := len(m.buf) - expected; extra > 0 {
		m.logger.Debug("discard trailing bytes", "data", hex.EncodeToString(m.buf[expected:]))
	}
	m.buf = m.buf[:0]

	var events []Event
	if ev := m.correlate(req, frame); ev != nil {
		events = append(events, ev)
	}
	m.unlockAndEmit(events)
}

// correlate resolves req with frame. It returns nil if the frame belongs to
// another slave. Caller must hold the mutex.
func (m *Master) correlate(req *Request, frame []byte) Event {
	m.logger.Debug("recv from modbus slave", "response", hex.EncodeToString(frame))

	adu, err := rtu.Decode(frame)
	if err != nil {
		m.inFlight = nil
		m.logger.Warn("discard response", "request", req.String(), "response", hex.EncodeToString(frame), "error", err)
		if errors.Is(err, rtu.ErrChecksum) {
			return m.fail(req, KindChecksum, err)
		}
		return m.fail(req, KindResponse, err)
	}
	if adu.SlaveID != m.slaveID {
		m.logger.Debug("ignore response from foreign slave", "from", adu.SlaveID)
		return nil
	}

	m.inFlight = nil
	fc := adu.Pdu.FunctionCode
	if adu.IsException() && fc&^modbus.ExceptionFlag == req.FunctionCode {
		exc := adu.Exception()
		if exc == nil {
			return m.fail(req, KindResponse, fmt.Errorf("empty exception response, function '%v'", fc))
		}
		m.logger.Warn("modbus slave exception", "request", req.String(), "exception", exc.ExceptionCode)
		return m.fail(req, KindException, exc)
	}
	if fc != req.FunctionCode {
		return m.fail(req, KindResponse, fmt.Errorf("response function '%v' does not match request '%v'", fc, req.FunctionCode))
	}

	data := adu.Pdu.Data
	switch fc {
	case modbus.FuncCodeReadCoils:
		if err := checkByteCount(data); err != nil {
			return m.fail(req, KindResponse, err)
		}
		return m.succeed(req, CoilRead{Address: req.Address, Values: decodeCoils(data)})
	case modbus.FuncCodeReadHoldingRegisters:
		if err := checkByteCount(data); err != nil {
			return m.fail(req, KindResponse, err)
		}
		return m.succeed(req, RegisterRead{Address: req.Address, Data: data[1:]})
	case modbus.FuncCodeWriteSingleCoil:
		return m.succeed(req, CoilWritten{Address: req.Address})
	case modbus.FuncCodeWriteMultipleRegisters:
		return m.succeed(req, RegisterWritten{Address: req.Address})
	default:
		return m.fail(req, KindResponse, fmt.Errorf("unsupported function '%v'", fc))
	}
}

func checkByteCount(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("response data length '%v' is too short", len(data))
	}
	if int(data[0]) != len(data)-1 {
		return fmt.Errorf("response byte count '%v' does not match data length '%v'", data[0], len(data)-1)
	}
	return nil
}

// decodeCoils reads the coil states following the byte count. A single byte
// is one coil; longer payloads carry one coil per byte.
func decodeCoils(data []byte) []bool {
	count := int(data[0])
	values := make([]bool, count)
	for i := 0; i < count; i++ {
		values[i] = data[1+i] == 1
	}
	return values
}
