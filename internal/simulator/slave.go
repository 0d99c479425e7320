// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package simulator is an in-process Modbus RTU slave. Its Device implements
// transport.Stream, so the master can drive it in place of a serial port.
package simulator

import (
	"encoding/binary"

	"github.com/ffutop/modbus-rtu-master/internal/simulator/model"
	"github.com/ffutop/modbus-rtu-master/modbus"
	"github.com/ffutop/modbus-rtu-master/modbus/rtu"
)

// WriteHook is called after a write was applied to the model.
type WriteHook func(table model.TableType, address, quantity uint16)

// Slave implements the Modbus function codes the master speaks on top of a
// DataModel.
type Slave struct {
	id      byte
	model   *model.DataModel
	onWrite WriteHook
}

func NewSlave(id byte, m *model.DataModel, onWrite WriteHook) *Slave {
	if onWrite == nil {
		onWrite = func(model.TableType, uint16, uint16) {}
	}
	return &Slave{id: id, model: m, onWrite: onWrite}
}

func (s *Slave) ID() byte {
	return s.id
}

func (s *Slave) Model() *model.DataModel {
	return s.model
}

// Process executes the Modbus Function Code against the memory model.
func (s *Slave) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return s.handleReadCoils(req)
	case modbus.FuncCodeReadHoldingRegisters:
		return s.handleReadHoldingRegisters(req)
	case modbus.FuncCodeWriteSingleCoil:
		return s.handleWriteSingleCoil(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return s.handleWriteMultipleRegisters(req)
	default:
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

func (s *Slave) handleReadCoils(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if quantity < 1 || quantity > 2000 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	data, err := s.model.ReadCoils(address, quantity)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	return readResponse(req.FunctionCode, data)
}

func (s *Slave) handleReadHoldingRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if quantity < 1 || quantity > rtu.MaxReadRegisters {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	data, err := s.model.ReadHoldingRegisters(address, quantity)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	return readResponse(req.FunctionCode, data)
}

func (s *Slave) handleWriteSingleCoil(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if err := s.model.WriteSingleCoil(address, value); err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	s.onWrite(model.TableCoils, address, 1)
	return req // Echo request
}

func (s *Slave) handleWriteMultipleRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > rtu.MaxWriteRegisters {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(byteCount) != len(req.Data)-5 || int(byteCount) != int(quantity)*2 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if err := s.model.WriteMultipleRegisters(address, quantity, req.Data[5:]); err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	s.onWrite(model.TableHoldingRegisters, address, quantity)

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}

func readResponse(funcCode byte, data []byte) modbus.ProtocolDataUnit {
	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)
	return modbus.ProtocolDataUnit{FunctionCode: funcCode, Data: respData}
}

func exception(funcCode byte, code byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | modbus.ExceptionFlag,
		Data:         []byte{code},
	}
}
