// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"

	"github.com/ffutop/modbus-rtu-master/modbus"
	"github.com/ffutop/modbus-rtu-master/modbus/crc"
)

var ErrChecksum = errors.New("modbus: checksum mismatch")

// ChecksumError reports a frame whose trailing CRC does not match its body.
type ChecksumError struct {
	Received uint16
	Expected uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("modbus: response crc '%04X' does not match expected '%04X'", e.Received, e.Expected)
}

func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksum
}

type InvalidLengthError struct {
	Length int
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("modbus: invalid frame length %d", e.Length)
}

// ApplicationDataUnit is one RTU frame without its checksum.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Decode checks the trailing CRC of raw and splits the frame. Pdu.Data
// aliases raw.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	length := len(raw)
	if length < MinSize || length > MaxSize {
		return nil, &InvalidLengthError{Length: length}
	}

	expected := crc.Checksum(raw[:length-2])
	received := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if received != expected {
		return nil, &ChecksumError{Received: received, Expected: expected}
	}
	return &ApplicationDataUnit{
		SlaveID: raw[0],
		Pdu: modbus.ProtocolDataUnit{
			FunctionCode: raw[1],
			Data:         raw[2 : length-2],
		},
	}, nil
}

// Encode encodes PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + 4
	if length > MaxSize {
		return nil, fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, MaxSize)
	}
	raw := make([]byte, 2, length)
	raw[0] = adu.SlaveID
	raw[1] = adu.Pdu.FunctionCode
	raw = append(raw, adu.Pdu.Data...)
	return crc.Append(raw), nil
}

// IsException reports whether the frame carries an exception response.
func (adu *ApplicationDataUnit) IsException() bool {
	return adu.Pdu.FunctionCode&modbus.ExceptionFlag != 0
}

// Exception returns the slave exception carried by the frame, or nil.
func (adu *ApplicationDataUnit) Exception() *modbus.Error {
	if !adu.IsException() || len(adu.Pdu.Data) < 1 {
		return nil
	}
	return &modbus.Error{FunctionCode: adu.Pdu.FunctionCode, ExceptionCode: adu.Pdu.Data[0]}
}
