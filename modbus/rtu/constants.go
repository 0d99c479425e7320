// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	MinSize = 4
	MaxSize = 256

	ExceptionSize = 5

	// WriteSize is the length of a write acknowledgement: echoed address and
	// quantity (or value) plus framing.
	WriteSize = 8
	// ReadCoilSize is the length of a single coil read response.
	ReadCoilSize = 6
)

// Limits of the request builders.
const (
	MaxReadRegisters  = 125
	MaxWriteRegisters = 123
)

// Coil values as written by a single coil write.
var (
	CoilOn  = [2]byte{0xFF, 0x00}
	CoilOff = [2]byte{0x00, 0x00}
)
