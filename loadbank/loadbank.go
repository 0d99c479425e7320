// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

/*
Package loadbank controls an electronic load over Modbus RTU.

Setpoints are IEEE-754 floats in register pairs, operating modes and on/off
are commands written to the CMD register, and remote control is enabled by
the PC1 coil. Every call queues its requests on the master and waits for them.
*/
package loadbank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ffutop/modbus-rtu-master/master"
	"github.com/ffutop/modbus-rtu-master/modbus"
)

var ErrInvalidMode = errors.New("loadbank: invalid mode")

// Registers
const (
	RegCMD  modbus.Address = 0x0A00
	RegIFIX modbus.Address = 0x0A01
	RegUFIX modbus.Address = 0x0A03
	RegPFIX modbus.Address = 0x0A05
	RegRFIX modbus.Address = 0x0A07
	RegU    modbus.Address = 0x0B00
	RegI    modbus.Address = 0x0B02
)

// Coils
const (
	CoilPC1       modbus.Address = 0x0500
	CoilPC2       modbus.Address = 0x0501
	CoilTRIG      modbus.Address = 0x0502
	CoilREMOTE    modbus.Address = 0x0503
	CoilISTATE    modbus.Address = 0x0510
	CoilTRACK     modbus.Address = 0x0511
	CoilMEMORY    modbus.Address = 0x0512
	CoilVOICEEN   modbus.Address = 0x0513
	CoilCONNECT   modbus.Address = 0x0514
	CoilATEST     modbus.Address = 0x0515
	CoilATESTUN   modbus.Address = 0x0516
	CoilATESTPASS modbus.Address = 0x0517
	CoilIOVER     modbus.Address = 0x0520
	CoilUOVER     modbus.Address = 0x0521
	CoilPOVER     modbus.Address = 0x0522
	CoilHEAT      modbus.Address = 0x0523
	CoilREVERSE   modbus.Address = 0x0524
	CoilUNREG     modbus.Address = 0x0525
	CoilERREP     modbus.Address = 0x0526
	CoilERRCAL    modbus.Address = 0x0527
)

// Command is a value written to the CMD register.
type Command byte

const (
	ConstantCurrent                    Command = 1
	ConstantVoltage                    Command = 2
	ConstantPower                      Command = 3
	SetResistance                      Command = 4
	ConstantCurrentSoftStart           Command = 20
	DynamicMode                        Command = 25
	ShortCircuitMode                   Command = 26
	ListMode                           Command = 27
	ConstantCurrentLoadUnloadMode      Command = 31
	ConstantPowerLoadUnloadMode        Command = 32
	ConstantResistanceLoadUnloadMode   Command = 33
	ConstantCurrentTransferVoltageMode Command = 34
	ConstantResistanceSwitchVoltage    Command = 36
	BatteryTestMode                    Command = 38
	ConstantVoltageSoftStartMode       Command = 39
	ChangeSystemParameters             Command = 41
	EnterOn                            Command = 42
	EnterOff                           Command = 43
)

// Operating modes accepted by SetMode.
const (
	ModeCC = ConstantCurrent
	ModeCV = ConstantVoltage
	ModeCP = ConstantPower
	ModeCR = SetResistance
)

// ParseMode maps CC, CV, CP or CR onto its command.
func ParseMode(s string) (Command, error) {
	switch strings.ToUpper(s) {
	case "CC":
		return ModeCC, nil
	case "CV":
		return ModeCV, nil
	case "CP":
		return ModeCP, nil
	case "CR":
		return ModeCR, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

func (c Command) IsMode() bool {
	switch c {
	case ModeCC, ModeCV, ModeCP, ModeCR:
		return true
	default:
		return false
	}
}

// Status holds the protection flags of the load.
type Status struct {
	OverCurrent bool
	OverVoltage bool
	OverPower   bool
	OverHeat    bool
}

// Any reports whether a protection has tripped.
func (s Status) Any() bool {
	return s.OverCurrent || s.OverVoltage || s.OverPower || s.OverHeat
}

// StatusCoils are read by Status, in field order.
var StatusCoils = []modbus.Address{CoilIOVER, CoilUOVER, CoilPOVER, CoilHEAT}

// Engine is the part of *master.Master the load bank uses.
type Engine interface {
	ReadCoil(addr modbus.Address) (*master.Request, error)
	WriteCoil(addr modbus.Address, on bool) (*master.Request, error)
	ReadRegisters(addr modbus.Address, count int) (*master.Request, error)
	WriteRegisters(addr modbus.Address, data []byte) (*master.Request, error)
}

type LoadBank struct {
	engine Engine
	logger *slog.Logger
}

func New(engine Engine, logger *slog.Logger) *LoadBank {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoadBank{engine: engine, logger: logger.With("device", "loadbank")}
}

// Init enables remote control.
func (lb *LoadBank) Init(ctx context.Context) error {
	req, err := lb.engine.WriteCoil(CoilPC1, true)
	if err := lb.wait(ctx, req, err); err != nil {
		return fmt.Errorf("loadbank: enable remote control: %w", err)
	}
	lb.logger.Info("load bank ready")
	return nil
}

// SendCommand writes cmd to the CMD register.
func (lb *LoadBank) SendCommand(ctx context.Context, cmd Command) error {
	req, err := lb.sendCommand(cmd)
	return lb.wait(ctx, req, err)
}

func (lb *LoadBank) sendCommand(cmd Command) (*master.Request, error) {
	return lb.engine.WriteRegisters(RegCMD, []byte{0x00, byte(cmd)})
}

// SetMode selects CC, CV, CP or CR.
func (lb *LoadBank) SetMode(ctx context.Context, mode Command) error {
	if !mode.IsMode() {
		return fmt.Errorf("%w: command %d", ErrInvalidMode, mode)
	}
	return lb.SendCommand(ctx, mode)
}

func (lb *LoadBank) SetCurrent(ctx context.Context, amps float32) error {
	req, err := lb.setFloat(RegIFIX, amps)
	return lb.wait(ctx, req, err)
}

func (lb *LoadBank) SetVoltage(ctx context.Context, volts float32) error {
	req, err := lb.setFloat(RegUFIX, volts)
	return lb.wait(ctx, req, err)
}

func (lb *LoadBank) SetPower(ctx context.Context, watts float32) error {
	req, err := lb.setFloat(RegPFIX, watts)
	return lb.wait(ctx, req, err)
}

func (lb *LoadBank) SetResistance(ctx context.Context, ohms float32) error {
	req, err := lb.setFloat(RegRFIX, ohms)
	return lb.wait(ctx, req, err)
}

func (lb *LoadBank) setFloat(addr modbus.Address, value float32) (*master.Request, error) {
	return lb.engine.WriteRegisters(addr, modbus.Float32ToBytes(value))
}

func (lb *LoadBank) TurnOn(ctx context.Context) error {
	return lb.SendCommand(ctx, EnterOn)
}

func (lb *LoadBank) TurnOff(ctx context.Context) error {
	return lb.SendCommand(ctx, EnterOff)
}

func (lb *LoadBank) SetConstantCurrent(ctx context.Context, amps float32) error {
	return lb.setConstant(ctx, RegIFIX, amps, ModeCC)
}

func (lb *LoadBank) SetConstantVoltage(ctx context.Context, volts float32) error {
	return lb.setConstant(ctx, RegUFIX, volts, ModeCV)
}

func (lb *LoadBank) SetConstantPower(ctx context.Context, watts float32) error {
	return lb.setConstant(ctx, RegPFIX, watts, ModeCP)
}

func (lb *LoadBank) SetConstantResistance(ctx context.Context, ohms float32) error {
	return lb.setConstant(ctx, RegRFIX, ohms, ModeCR)
}

// SetConstant applies the setpoint of mode and turns the load on.
func (lb *LoadBank) SetConstant(ctx context.Context, mode Command, value float32) error {
	switch mode {
	case ModeCC:
		return lb.SetConstantCurrent(ctx, value)
	case ModeCV:
		return lb.SetConstantVoltage(ctx, value)
	case ModeCP:
		return lb.SetConstantPower(ctx, value)
	case ModeCR:
		return lb.SetConstantResistance(ctx, value)
	default:
		return fmt.Errorf("%w: command %d", ErrInvalidMode, mode)
	}
}

// setConstant queues setpoint, mode and on back to back, then waits for all
// three.
func (lb *LoadBank) setConstant(ctx context.Context, reg modbus.Address, value float32, mode Command) error {
	lb.logger.Info("set constant mode", "mode", mode, "setpoint", value)

	setpoint, err := lb.setFloat(reg, value)
	if err != nil {
		return err
	}
	selectMode, err := lb.sendCommand(mode)
	if err != nil {
		return err
	}
	on, err := lb.sendCommand(EnterOn)
	if err != nil {
		return err
	}

	var first error
	for _, req := range []*master.Request{setpoint, selectMode, on} {
		if _, err := req.Wait(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Voltage reads the measured voltage.
func (lb *LoadBank) Voltage(ctx context.Context) (float32, error) {
	return lb.readFloat(ctx, RegU)
}

// Current reads the measured current.
func (lb *LoadBank) Current(ctx context.Context) (float32, error) {
	return lb.readFloat(ctx, RegI)
}

func (lb *LoadBank) readFloat(ctx context.Context, addr modbus.Address) (float32, error) {
	req, err := lb.engine.ReadRegisters(addr, 2)
	if err != nil {
		return 0, err
	}
	ev, err := req.Wait(ctx)
	if err != nil {
		return 0, err
	}
	rr, ok := ev.(master.RegisterRead)
	if !ok {
		return 0, fmt.Errorf("loadbank: unexpected event %T", ev)
	}
	return rr.Float32()
}

// Coil reads any coil. addr is an integer address or a high/low byte pair.
func (lb *LoadBank) Coil(ctx context.Context, addr any) (bool, error) {
	a, err := modbus.ParseAddress(addr)
	if err != nil {
		return false, err
	}
	req, err := lb.engine.ReadCoil(a)
	if err != nil {
		return false, err
	}
	ev, err := req.Wait(ctx)
	if err != nil {
		return false, err
	}
	cr, ok := ev.(master.CoilRead)
	if !ok {
		return false, fmt.Errorf("loadbank: unexpected event %T", ev)
	}
	return cr.Value(), nil
}

// SetCoil writes any coil. addr is an integer address or a high/low byte pair.
func (lb *LoadBank) SetCoil(ctx context.Context, addr any, on bool) error {
	a, err := modbus.ParseAddress(addr)
	if err != nil {
		return err
	}
	req, err := lb.engine.WriteCoil(a, on)
	return lb.wait(ctx, req, err)
}

// Status reads the protection coils.
func (lb *LoadBank) Status(ctx context.Context) (Status, error) {
	var flags [4]bool
	for i, addr := range StatusCoils {
		on, err := lb.Coil(ctx, addr)
		if err != nil {
			return Status{}, err
		}
		flags[i] = on
	}
	return Status{
		OverCurrent: flags[0],
		OverVoltage: flags[1],
		OverPower:   flags[2],
		OverHeat:    flags[3],
	}, nil
}

func (lb *LoadBank) wait(ctx context.Context, req *master.Request, err error) error {
	if err != nil {
		return err
	}
	_, err = req.Wait(ctx)
	return err
}

func (c Command) String() string {
	switch c {
	case ModeCC:
		return "CC"
	case ModeCV:
		return "CV"
	case ModeCP:
		return "CP"
	case ModeCR:
		return "CR"
	case EnterOn:
		return "ON"
	case EnterOff:
		return "OFF"
	default:
		return fmt.Sprintf("Command(%d)", byte(c))
	}
}
