// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"errors"
	"fmt"

	"github.com/ffutop/modbus-rtu-master/modbus"
	"github.com/ffutop/modbus-rtu-master/modbus/rtu"
)

var (
	ErrTimeout   = errors.New("master: response timed out")
	ErrTransport = errors.New("master: transport failure")
	ErrException = errors.New("master: slave exception")
	ErrResponse  = errors.New("master: malformed response")
	ErrQueueFull = errors.New("master: request queue full")
	ErrClosed    = errors.New("master: closed")
)

// Kind classifies a failed request.
type Kind int

const (
	KindChecksum Kind = iota + 1
	KindTimeout
	KindTransport
	KindException
	KindResponse
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindChecksum:
		return "checksum"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindException:
		return "exception"
	case KindResponse:
		return "response"
	case KindClosed:
		return "closed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindChecksum:
		return rtu.ErrChecksum
	case KindTimeout:
		return ErrTimeout
	case KindTransport:
		return ErrTransport
	case KindException:
		return ErrException
	case KindResponse:
		return ErrResponse
	case KindClosed:
		return ErrClosed
	default:
		return nil
	}
}

// Error is the asynchronous failure of a request. Address is the address of
// the failed request; it is zero for stream failures with no request attached.
type Error struct {
	Kind    Kind
	Address modbus.Address
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil || e.Err == e.Kind.sentinel() {
		return fmt.Sprintf("master: %v error at %v", e.Kind, e.Address)
	}
	return fmt.Sprintf("master: %v error at %v: %v", e.Kind, e.Address, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind, so errors.Is(err, ErrTimeout)
// holds for every timeout.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}
