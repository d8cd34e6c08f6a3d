// image.go - sector-level disk/ROM image backing store, spec §6's
// core-to-host storage interface for floppy/IDE/CD-ROM controllers.
//
// Grounded on file_io.go: same sandboxed-path discipline (sanitizePath
// rejecting absolute paths and ".." escapes, confirmed against baseDir
// via filepath.Rel) and os.ReadFile/os.WriteFile usage, retargeted from
// the teacher's whole-file MMIO read/write protocol to sector-offset
// reads/writes against an open image file, the shape a disk controller
// device actually needs (seek to LBA*sectorSize, read/write N bytes).
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package hostio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SectorSize is the standard floppy/IDE sector size this store reads
// and writes in.
const SectorSize = 512

// ImageStore is a sandboxed directory of disk/CD/ROM images a
// controller device can mount, read, and (for writable media) write.
type ImageStore struct {
	baseDir string
}

// NewImageStore roots a store at baseDir; all image paths passed to
// Open are resolved relative to it and may not escape it.
func NewImageStore(baseDir string) *ImageStore {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		absBase = baseDir
	}
	return &ImageStore{baseDir: absBase}
}

// sanitizePath rejects absolute paths and ".." escapes, then confirms
// the resolved path still lands inside baseDir.
func (s *ImageStore) sanitizePath(path string) (string, bool) {
	if filepath.IsAbs(path) || strings.Contains(path, "..") {
		return "", false
	}
	fullPath := filepath.Join(s.baseDir, path)
	rel, err := filepath.Rel(s.baseDir, fullPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return fullPath, true
}

// Image is an open disk/CD/ROM image, sector-addressable by a floppy,
// IDE, or CD-ROM controller device.
type Image struct {
	f        *os.File
	readOnly bool
	size     int64
}

// Open mounts name (relative to the store's baseDir) for sector
// access. readOnly should be true for ROM images and CD-ROM media.
func (s *ImageStore) Open(name string, readOnly bool) (*Image, error) {
	fullPath, ok := s.sanitizePath(name)
	if !ok {
		return nil, fmt.Errorf("hostio: image path %q escapes the image store", name)
	}
	flag := os.O_RDONLY
	if !readOnly {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(fullPath, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("hostio: open image %q: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("hostio: stat image %q: %w", name, err)
	}
	return &Image{f: f, readOnly: readOnly, size: info.Size()}, nil
}

// Create makes a new zero-filled image of size bytes (rounded up to a
// whole sector) under the store, for formatting blank floppy/hard disk
// media.
func (s *ImageStore) Create(name string, size int64) (*Image, error) {
	fullPath, ok := s.sanitizePath(name)
	if !ok {
		return nil, fmt.Errorf("hostio: image path %q escapes the image store", name)
	}
	if rem := size % SectorSize; rem != 0 {
		size += SectorSize - rem
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("hostio: create image %q: %w", name, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("hostio: truncate image %q: %w", name, err)
	}
	return &Image{f: f, size: size}, nil
}

// SectorCount reports the image's capacity in whole sectors.
func (img *Image) SectorCount() int64 {
	return img.size / SectorSize
}

// ReadSector reads one SectorSize-byte sector at lba into buf.
func (img *Image) ReadSector(lba int64, buf []byte) error {
	if len(buf) < SectorSize {
		return fmt.Errorf("hostio: sector buffer too small: %d < %d", len(buf), SectorSize)
	}
	n, err := img.f.ReadAt(buf[:SectorSize], lba*SectorSize)
	if err != nil && !(err == io.EOF && n == SectorSize) {
		return fmt.Errorf("hostio: read sector %d: %w", lba, err)
	}
	return nil
}

// WriteSector writes one SectorSize-byte sector at lba from buf.
func (img *Image) WriteSector(lba int64, buf []byte) error {
	if img.readOnly {
		return fmt.Errorf("hostio: image is read-only")
	}
	if len(buf) < SectorSize {
		return fmt.Errorf("hostio: sector buffer too small: %d < %d", len(buf), SectorSize)
	}
	if _, err := img.f.WriteAt(buf[:SectorSize], lba*SectorSize); err != nil {
		return fmt.Errorf("hostio: write sector %d: %w", lba, err)
	}
	return nil
}

// Close releases the image's file handle.
func (img *Image) Close() error {
	return img.f.Close()
}

// ReadOnly reports whether the image rejects WriteSector calls.
func (img *Image) ReadOnly() bool {
	return img.readOnly
}
