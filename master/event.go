// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import "github.com/ffutop/modbus-rtu-master/modbus"

// Event is published by the master on its EventSink. The concrete types are
// Ready, CoilRead, RegisterRead, CoilWritten, RegisterWritten and ErrorEvent.
type Event interface {
	event()
}

// Ready is published once the byte stream is open.
type Ready struct{}

type CoilRead struct {
	Address modbus.Address
	Values  []bool
}

// Value returns the first coil state.
func (e CoilRead) Value() bool {
	return len(e.Values) > 0 && e.Values[0]
}

// RegisterRead carries the raw register bytes of a read, big endian.
type RegisterRead struct {
	Address modbus.Address
	Data    []byte
}

// Float32 decodes the first two registers as an IEEE-754 float.
func (e RegisterRead) Float32() (float32, error) {
	return modbus.RegisterWordsToFloat(e.Data)
}

type CoilWritten struct {
	Address modbus.Address
}

type RegisterWritten struct {
	Address modbus.Address
}

type ErrorEvent struct {
	Err *Error
}

func (Ready) event()           {}
func (CoilRead) event()        {}
func (RegisterRead) event()    {}
func (CoilWritten) event()     {}
func (RegisterWritten) event() {}
func (ErrorEvent) event()      {}
