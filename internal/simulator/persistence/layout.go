// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import "github.com/ffutop/modbus-rtu-master/internal/simulator/model"

// Image layout:
//
//	Coils:     65536 bytes, offset 0
//	Registers: 65536 * 2 bytes big endian, offset 65536
//
// Total size 196608 bytes.
const (
	offsetCoils     = 0
	offsetRegisters = offsetCoils + model.CoilsSize
	totalSize       = offsetRegisters + model.RegistersSize
)

// mapBytesToModel builds a DataModel whose tables alias data.
func mapBytesToModel(data []byte) (*model.DataModel, error) {
	return model.FromBytes(
		data[offsetCoils:offsetCoils+model.CoilsSize:offsetCoils+model.CoilsSize],
		data[offsetRegisters:totalSize:totalSize],
	)
}
