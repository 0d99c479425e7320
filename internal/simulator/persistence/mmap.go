// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/ffutop/modbus-rtu-master/internal/simulator/model"
)

// MmapStorage maps the image file into memory; the model writes straight
// into the mapping.
type MmapStorage struct {
	path string
	file *os.File
	data mmap.MMap
}

func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{path: path}
}

func (ms *MmapStorage) Load() (*model.DataModel, error) {
	f, err := openImage(ms.path)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	ms.file = f
	ms.data = data
	return mapBytesToModel(data)
}

// Save flushes the mapping to disk.
func (ms *MmapStorage) Save(*model.DataModel) error {
	if ms.data == nil {
		return fmt.Errorf("mmap data is nil")
	}
	return ms.data.Flush()
}

func (ms *MmapStorage) OnWrite(table model.TableType, address, quantity uint16) {
	if ms.data == nil {
		return
	}
	if err := ms.data.Flush(); err != nil {
		slog.Error("failed to flush mmap", "table", table, "address", address, "error", err)
	}
}

// Close unmaps and closes the file.
func (ms *MmapStorage) Close() error {
	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
