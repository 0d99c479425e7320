// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport defines the byte stream the master drives.
package transport

import (
	"context"
	"io"
)

// Stream is a half-duplex byte stream to the slaves, typically a serial line.
//
// Connect opens the stream. Read returns bytes as they arrive, in arbitrary
// chunks; it returns io.EOF once the stream is closed and any other error on
// failure. Close is idempotent.
type Stream interface {
	Connect(ctx context.Context) error
	io.ReadWriteCloser
}
