// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package persistence keeps the image of a simulated slave across restarts.
package persistence

import (
	"fmt"

	"github.com/ffutop/modbus-rtu-master/internal/config"
	"github.com/ffutop/modbus-rtu-master/internal/simulator/model"
)

// Storage defines the interface for persisting the simulated slave data model.
type Storage interface {
	// Load returns the data model, zeroed if nothing was stored yet.
	Load() (*model.DataModel, error)

	// Save flushes the current data model to storage.
	Save(model *model.DataModel) error

	// OnWrite is called after every write the slave applied to the model.
	OnWrite(table model.TableType, address, quantity uint16)

	Close() error
}

// New returns the storage selected by cfg.
func New(cfg config.PersistenceConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.Path), nil
	case "mmap":
		return NewMmapStorage(cfg.Path), nil
	default:
		return nil, fmt.Errorf("persistence: unknown type %q", cfg.Type)
	}
}
