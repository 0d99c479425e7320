// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

/*
Package modbus holds the protocol vocabulary shared by the RTU codec, the
master engine and its clients: function codes, object kinds, addresses and the
register/float conversions.
*/
package modbus

import "fmt"

// Function codes spoken by the master.
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteMultipleRegisters = 0x10

	// ExceptionFlag is set on the function code of an exception response.
	ExceptionFlag = 0x80
)

const (
	// ExceptionCodeIllegalFunction error code
	ExceptionCodeIllegalFunction = 1
	// ExceptionCodeIllegalDataAddress error code
	ExceptionCodeIllegalDataAddress = 2
	// ExceptionCodeIllegalDataValue error code
	ExceptionCodeIllegalDataValue = 3
	// ExceptionCodeServerDeviceFailure error code
	ExceptionCodeServerDeviceFailure = 4
	// ExceptionCodeAcknowledge error code
	ExceptionCodeAcknowledge = 5
	// ExceptionCodeServerDeviceBusy error code
	ExceptionCodeServerDeviceBusy = 6
)

// ObjectKind is the Modbus object a request targets.
type ObjectKind int

const (
	Coil ObjectKind = iota
	Register
)

func (k ObjectKind) String() string {
	switch k {
	case Coil:
		return "coil"
	case Register:
		return "register"
	default:
		return fmt.Sprintf("ObjectKind(%d)", int(k))
	}
}

// Operation is the direction of a request.
type Operation int

const (
	Read Operation = iota
	Write
)

func (o Operation) String() string {
	switch o {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Error is a Modbus exception reported by a slave.
type Error struct {
	FunctionCode  byte
	ExceptionCode byte
}

// Error converts known modbus exception code to error message.
func (e *Error) Error() string {
	var name string
	switch e.ExceptionCode {
	case ExceptionCodeIllegalFunction:
		name = "illegal function"
	case ExceptionCodeIllegalDataAddress:
		name = "illegal data address"
	case ExceptionCodeIllegalDataValue:
		name = "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		name = "server device failure"
	case ExceptionCodeAcknowledge:
		name = "acknowledge"
	case ExceptionCodeServerDeviceBusy:
		name = "server device busy"
	default:
		name = "unknown"
	}
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, name, e.FunctionCode&^ExceptionFlag)
}
