// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc implements the CRC-16/MODBUS checksum that trails every RTU
// frame: initial value 0xFFFF, reflected polynomial 0xA001, low byte on the
// wire first.
package crc

const polynomial = 0xA001

var table [256]uint16

func init() {
	for i := range table {
		v := uint16(i)
		for j := 0; j < 8; j++ {
			if v&1 != 0 {
				v = v>>1 ^ polynomial
			} else {
				v >>= 1
			}
		}
		table[i] = v
	}
}

// CRC accumulates a checksum. The zero value must be Reset before use.
type CRC struct {
	value uint16
}

func (c *CRC) Reset() *CRC {
	c.value = 0xFFFF
	return c
}

func (c *CRC) PushBytes(bs []byte) *CRC {
	for _, b := range bs {
		c.value = c.value>>8 ^ table[byte(c.value)^b]
	}
	return c
}

func (c *CRC) Value() uint16 {
	return c.value
}

// Checksum returns the checksum of b.
func Checksum(b []byte) uint16 {
	var c CRC
	return c.Reset().PushBytes(b).Value()
}

// Append appends the checksum of frame to it, low byte first.
func Append(frame []byte) []byte {
	v := Checksum(frame)
	return append(frame, byte(v), byte(v>>8))
}
