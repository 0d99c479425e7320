// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrShortData = errors.New("modbus: not enough register data")

// FloatToRegisterWords splits the IEEE-754 pattern of value into a high and a
// low register word.
func FloatToRegisterWords(value float32) [2]uint16 {
	bits := math.Float32bits(value)
	return [2]uint16{uint16(bits >> 16), uint16(bits)}
}

// WordsToBytes lays register words out as they are transmitted, each word
// high byte first.
func WordsToBytes(words [2]uint16) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:], words[0])
	binary.BigEndian.PutUint16(b[2:], words[1])
	return b
}

// Float32ToBytes returns the four wire bytes of value.
func Float32ToBytes(value float32) []byte {
	return WordsToBytes(FloatToRegisterWords(value))
}

// RegisterWordsToFloat decodes the first four bytes of data, received big
// endian, as an IEEE-754 float.
func RegisterWordsToFloat(data []byte) (float32, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: need 4 bytes, got %d", ErrShortData, len(data))
	}
	return math.Float32frombits(binary.BigEndian.Uint32(data)), nil
}
