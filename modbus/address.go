// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAddress    = errors.New("modbus: invalid address")
	ErrInvalidIdentifier = errors.New("modbus: invalid slave id")
)

const (
	MinSlaveID = 1
	MaxSlaveID = 255
)

// Address is a coil or register address. It goes on the wire high byte first.
type Address uint16

// Bytes returns the address as it is transmitted.
func (a Address) Bytes() [2]byte {
	return [2]byte{byte(a >> 8), byte(a)}
}

func (a Address) String() string {
	return fmt.Sprintf("0x%04X", uint16(a))
}

// AddressFromBytes joins a pre-split high/low pair.
func AddressFromBytes(hi, lo byte) Address {
	return Address(uint16(hi)<<8 | uint16(lo))
}

// ParseAddress accepts a 16-bit integer (any Go integer type in range) or a
// pre-split two byte pair ([2]byte or a []byte of length 2, high byte first).
func ParseAddress(v any) (Address, error) {
	switch a := v.(type) {
	case Address:
		return a, nil
	case uint16:
		return Address(a), nil
	case uint8:
		return Address(a), nil
	case [2]byte:
		return AddressFromBytes(a[0], a[1]), nil
	case []byte:
		if len(a) != 2 {
			return 0, fmt.Errorf("%w: expected 2 bytes, got %d", ErrInvalidAddress, len(a))
		}
		return AddressFromBytes(a[0], a[1]), nil
	case int:
		return addressFromInt(int64(a))
	case int8:
		return addressFromInt(int64(a))
	case int16:
		return addressFromInt(int64(a))
	case int32:
		return addressFromInt(int64(a))
	case int64:
		return addressFromInt(a)
	case uint:
		return addressFromUint(uint64(a))
	case uint32:
		return addressFromUint(uint64(a))
	case uint64:
		return addressFromUint(a)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidAddress, v)
	}
}

func addressFromInt(v int64) (Address, error) {
	if v < 0 || v > 0xFFFF {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidAddress, v)
	}
	return Address(v), nil
}

func addressFromUint(v uint64) (Address, error) {
	if v > 0xFFFF {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidAddress, v)
	}
	return Address(v), nil
}

// ValidateSlaveID checks id lies in 1..255 and returns it as the wire byte.
func ValidateSlaveID(id int) (byte, error) {
	if id < MinSlaveID || id > MaxSlaveID {
		return 0, fmt.Errorf("%w: %d must be between %d and %d", ErrInvalidIdentifier, id, MinSlaveID, MaxSlaveID)
	}
	return byte(id), nil
}
