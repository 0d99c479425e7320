// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"context"
	"fmt"
	"time"

	"github.com/ffutop/modbus-rtu-master/modbus"
)

// Request is one queued read or write. It resolves exactly once, with the
// event that completed it or with an *Error.
type Request struct {
	ID           uint64
	Address      modbus.Address
	Kind         modbus.ObjectKind
	Operation    modbus.Operation
	FunctionCode byte
	EnqueuedAt   time.Time

	frame    []byte
	expected int

	done     chan struct{}
	resolved bool
	event    Event
	err      error
}

// Frame returns a copy of the encoded request frame.
func (r *Request) Frame() []byte {
	return append([]byte(nil), r.frame...)
}

// ExpectedLength is the length of a successful response frame.
func (r *Request) ExpectedLength() int {
	return r.expected
}

// Done is closed once the request has resolved.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (r *Request) Result() (Event, error) {
	select {
	case <-r.done:
		return r.event, r.err
	default:
		return nil, nil
	}
}

// Wait blocks until the request resolves or ctx is done. A cancelled wait
// does not withdraw the request.
func (r *Request) Wait(ctx context.Context) (Event, error) {
	select {
	case <-r.done:
		return r.event, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Request) String() string {
	return fmt.Sprintf("%v %v %v", r.Operation, r.Kind, r.Address)
}

// resolve is called with the master lock held.
func (r *Request) resolve(ev Event, err error) bool {
	if r.resolved {
		return false
	}
	r.resolved = true
	r.event = ev
	r.err = err
	close(r.done)
	return true
}
