// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
)

const (
	MaxAddress = 65535

	CoilsSize     = MaxAddress + 1
	RegistersSize = (MaxAddress + 1) * 2
)

var (
	ErrOutOfRange   = errors.New("model: address range out of bounds")
	ErrInvalidValue = errors.New("model: invalid value")
)

// TableType represents the type of Modbus data table.
type TableType int

const (
	TableCoils TableType = iota
	TableHoldingRegisters
)

func (t TableType) String() string {
	switch t {
	case TableCoils:
		return "coils"
	case TableHoldingRegisters:
		return "holding_registers"
	default:
		return fmt.Sprintf("TableType(%d)", int(t))
	}
}

// DataModel is the coil and holding register image of a simulated slave over
// the full 16-bit address space. Registers are kept in wire order, two bytes
// per address, high byte first, so a backing file is portable.
type DataModel struct {
	mu sync.RWMutex

	// Coils stores 1 (ON) or 0 (OFF) per address.
	Coils []byte
	// Registers stores the holding registers big endian.
	Registers []byte
}

// NewDataModel creates a new memory model initialized to zero.
func NewDataModel() *DataModel {
	return &DataModel{
		Coils:     make([]byte, CoilsSize),
		Registers: make([]byte, RegistersSize),
	}
}

// FromBytes builds a model backed by coils and registers, which must have
// the table sizes.
func FromBytes(coils, registers []byte) (*DataModel, error) {
	if len(coils) != CoilsSize || len(registers) != RegistersSize {
		return nil, fmt.Errorf("model: backing sizes %d/%d, want %d/%d", len(coils), len(registers), CoilsSize, RegistersSize)
	}
	return &DataModel{Coils: coils, Registers: registers}, nil
}

// ReadCoils reads a range of coils and returns them as packed bytes (Modbus format).
func (m *DataModel) ReadCoils(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}

	result := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		if m.Coils[int(address)+i] != 0 {
			result[i/8] |= 1 << uint(i%8)
		}
	}
	return result, nil
}

// WriteSingleCoil writes a single coil. value must be 0xFF00 (ON) or 0x0000 (OFF).
func (m *DataModel) WriteSingleCoil(address uint16, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch value {
	case 0xFF00:
		m.Coils[address] = 1
	case 0x0000:
		m.Coils[address] = 0
	default:
		return fmt.Errorf("%w: coil value 0x%04X", ErrInvalidValue, value)
	}
	return nil
}

// ReadHoldingRegisters returns a range of holding registers as big endian bytes.
func (m *DataModel) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}

	start := int(address) * 2
	return append([]byte(nil), m.Registers[start:start+int(quantity)*2]...), nil
}

// WriteMultipleRegisters writes a range of holding registers from big endian bytes.
func (m *DataModel) WriteMultipleRegisters(address, quantity uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateRange(address, quantity); err != nil {
		return err
	}
	if len(data) < int(quantity)*2 {
		return fmt.Errorf("%w: insufficient data length", ErrInvalidValue)
	}

	start := int(address) * 2
	copy(m.Registers[start:], data[:int(quantity)*2])
	return nil
}

func (m *DataModel) Coil(address uint16) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Coils[address] != 0
}

func (m *DataModel) SetCoil(address uint16, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.Coils[address] = 1
	} else {
		m.Coils[address] = 0
	}
}

func (m *DataModel) Register(address uint16) uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return binary.BigEndian.Uint16(m.Registers[int(address)*2:])
}

// Float reads the float held by the two registers at address.
func (m *DataModel) Float(address uint16) float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := int(address) * 2
	if start+4 > len(m.Registers) {
		return 0
	}
	return math.Float32frombits(binary.BigEndian.Uint32(m.Registers[start:]))
}

// SetFloat stores value into the two registers at address.
func (m *DataModel) SetFloat(address uint16, value float32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(value))
	return m.WriteMultipleRegisters(address, 2, b[:])
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("%w: quantity must be greater than 0", ErrOutOfRange)
	}
	if int(address)+int(quantity) > MaxAddress+1 {
		return fmt.Errorf("%w: %d+%d", ErrOutOfRange, address, quantity)
	}
	return nil
}
