// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/ffutop/modbus-rtu-master/modbus"
)

func TestDecode(t *testing.T) {
	raw := []byte{0x01, 0x03, 0x04, 0x41, 0x20, 0x00, 0x00, 0xEF, 0xC5}
	adu, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := &ApplicationDataUnit{
		SlaveID: 0x01,
		Pdu: modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeReadHoldingRegisters,
			Data:         []byte{0x04, 0x41, 0x20, 0x00, 0x00},
		},
	}
	if diff := cmp.Diff(want, adu); diff != "" {
		t.Errorf("decoded frame mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	raw := []byte{0x01, 0x03, 0x04, 0x41, 0x20, 0x00, 0x00, 0xEF, 0xC6}
	_, err := Decode(raw)
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("got %v, want ErrChecksum", err)
	}
	var ce *ChecksumError
	if !errors.As(err, &ce) {
		t.Fatalf("got %T, want *ChecksumError", err)
	}
	if ce.Expected != 0xC5EF || ce.Received != 0xC6EF {
		t.Errorf("checksum error = %+v", ce)
	}
}

func TestDecodeShort(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x03, 0x00})
	var le *InvalidLengthError
	if !errors.As(err, &le) || le.Length != 3 {
		t.Fatalf("got %v, want InvalidLengthError{3}", err)
	}
}

func TestDecodeException(t *testing.T) {
	adu, err := Decode([]byte{0x01, 0x83, 0x02, 0xC0, 0xF1})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !adu.IsException() {
		t.Fatal("expected exception frame")
	}
	want := &modbus.Error{FunctionCode: 0x83, ExceptionCode: modbus.ExceptionCodeIllegalDataAddress}
	if diff := cmp.Diff(want, adu.Exception()); diff != "" {
		t.Errorf("exception mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeTooLong(t *testing.T) {
	adu := ApplicationDataUnit{SlaveID: 1, Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x10, Data: make([]byte, MaxSize)}}
	if _, err := adu.Encode(); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		want := &ApplicationDataUnit{
			SlaveID: rapid.ByteRange(1, 255).Draw(t, "slave"),
			Pdu: modbus.ProtocolDataUnit{
				FunctionCode: rapid.Byte().Draw(t, "fc"),
				Data:         rapid.SliceOfN(rapid.Byte(), 0, MaxSize-4).Draw(t, "data"),
			},
		}
		raw, err := want.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.SlaveID != want.SlaveID || got.Pdu.FunctionCode != want.Pdu.FunctionCode {
			t.Fatalf("header mismatch: %+v vs %+v", got, want)
		}
		if len(got.Pdu.Data) != len(want.Pdu.Data) {
			t.Fatalf("data length %d, want %d", len(got.Pdu.Data), len(want.Pdu.Data))
		}
		for i := range want.Pdu.Data {
			if got.Pdu.Data[i] != want.Pdu.Data[i] {
				t.Fatalf("data[%d] = %02X, want %02X", i, got.Pdu.Data[i], want.Pdu.Data[i])
			}
		}
	})
}

func TestCorruptedFrameRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		adu := ApplicationDataUnit{
			SlaveID: rapid.ByteRange(1, 255).Draw(t, "slave"),
			Pdu: modbus.ProtocolDataUnit{
				FunctionCode: rapid.Byte().Draw(t, "fc"),
				Data:         rapid.SliceOfN(rapid.Byte(), 0, 32).Draw(t, "data"),
			},
		}
		raw, _ := adu.Encode()
		i := rapid.IntRange(0, len(raw)-1).Draw(t, "index")
		flip := rapid.ByteRange(1, 255).Draw(t, "flip")
		raw[i] ^= flip
		if _, err := Decode(raw); !errors.Is(err, ErrChecksum) {
			t.Fatalf("corruption at %d not detected: %v", i, err)
		}
	})
}
