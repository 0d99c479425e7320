// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ffutop/modbus-rtu-master/internal/simulator/model"
)

// FileStorage keeps the image in memory and writes the touched range back to
// the file after every write.
type FileStorage struct {
	path string
	file *os.File
	data []byte
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (fs *FileStorage) Load() (*model.DataModel, error) {
	f, err := openImage(fs.path)
	if err != nil {
		return nil, err
	}

	data := make([]byte, totalSize)
	if _, err := io.ReadFull(f, data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	fs.file = f
	fs.data = data
	return mapBytesToModel(data)
}

// Save writes the whole image and syncs it to disk.
func (fs *FileStorage) Save(*model.DataModel) error {
	if fs.data == nil || fs.file == nil {
		return nil
	}
	if _, err := fs.file.WriteAt(fs.data, 0); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return fs.file.Sync()
}

func (fs *FileStorage) OnWrite(table model.TableType, address, quantity uint16) {
	if fs.data == nil || fs.file == nil {
		return
	}
	start, end := tableRange(table, address, quantity)
	if _, err := fs.file.WriteAt(fs.data[start:end], int64(start)); err != nil {
		slog.Error("failed to write image", "table", table, "address", address, "error", err)
		return
	}
	if err := fs.file.Sync(); err != nil {
		slog.Error("failed to sync image", "error", err)
	}
}

func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}

// tableRange returns the byte range of the image that backs the written
// addresses.
func tableRange(table model.TableType, address, quantity uint16) (int, int) {
	switch table {
	case model.TableCoils:
		start := offsetCoils + int(address)
		return start, min(start+int(quantity), offsetRegisters)
	default:
		start := offsetRegisters + int(address)*2
		return start, min(start+int(quantity)*2, totalSize)
	}
}

// openImage opens path, creating it, and sizes it to the image.
func openImage(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize image: %w", err)
		}
	}
	return f, nil
}
