// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ffutop/modbus-rtu-master/modbus"
)

var ErrInvalidQuantity = errors.New("modbus: invalid quantity")

// ReadCoilsRequest builds the PDU reading a single coil.
func ReadCoilsRequest(addr modbus.Address) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadCoils,
		Data:         dataBlock(uint16(addr), 1),
	}
}

// WriteCoilRequest builds the PDU of a single coil write.
func WriteCoilRequest(addr modbus.Address, on bool) modbus.ProtocolDataUnit {
	value := CoilOff
	if on {
		value = CoilOn
	}
	a := addr.Bytes()
	return modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteSingleCoil,
		Data:         []byte{a[0], a[1], value[0], value[1]},
	}
}

// ReadRegistersRequest builds the PDU reading count holding registers.
func ReadRegistersRequest(addr modbus.Address, count int) (modbus.ProtocolDataUnit, error) {
	if count < 1 || count > MaxReadRegisters {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("%w: register count %d must be between 1 and %d", ErrInvalidQuantity, count, MaxReadRegisters)
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         dataBlock(uint16(addr), uint16(count)),
	}, nil
}

// WriteRegistersRequest builds the PDU writing data, a whole number of
// registers, starting at addr.
func WriteRegistersRequest(addr modbus.Address, data []byte) (modbus.ProtocolDataUnit, error) {
	n := len(data)
	if n == 0 || n%2 != 0 || n/2 > MaxWriteRegisters {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("%w: %d data bytes is not 1 to %d registers", ErrInvalidQuantity, n, MaxWriteRegisters)
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteMultipleRegisters,
		Data:         dataBlockSuffix(data, uint16(addr), uint16(n/2)),
	}, nil
}

// ExpectedResponseLength returns the length of a successful response to the
// request frame adu, or 0 for function codes the master does not speak.
func ExpectedResponseLength(adu []byte) int {
	if len(adu) < 6 {
		return 0
	}
	switch adu[1] {
	case modbus.FuncCodeReadCoils:
		return ReadCoilSize
	case modbus.FuncCodeReadHoldingRegisters:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		return 3 + count*2 + 2
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteMultipleRegisters:
		return WriteSize
	default:
		return 0
	}
}

// dataBlock creates a sequence of uint16 data.
func dataBlock(value ...uint16) []byte {
	data := make([]byte, 2*len(value))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}

// dataBlockSuffix creates a sequence of uint16 data and append the suffix plus its length.
func dataBlockSuffix(suffix []byte, value ...uint16) []byte {
	length := 2 * len(value)
	data := make([]byte, length+1+len(suffix))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	data[length] = uint8(len(suffix))
	copy(data[length+1:], suffix)
	return data
}
