// image_test.go
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package hostio

import (
	"bytes"
	"testing"
)

func TestImageStore_CreateAndRoundTripSector(t *testing.T) {
	store := NewImageStore(t.TempDir())

	img, err := store.Create("floppy.img", 1440*1024)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer img.Close()

	if got, want := img.SectorCount(), int64(1440*1024/SectorSize); got != want {
		t.Fatalf("SectorCount = %d, want %d", got, want)
	}

	write := bytes.Repeat([]byte{0xAB}, SectorSize)
	if err := img.WriteSector(5, write); err != nil {
		t.Fatalf("WriteSector: %v", err)
	}

	read := make([]byte, SectorSize)
	if err := img.ReadSector(5, read); err != nil {
		t.Fatalf("ReadSector: %v", err)
	}
	if !bytes.Equal(read, write) {
		t.Fatal("ReadSector did not return the sector just written")
	}

	other := make([]byte, SectorSize)
	if err := img.ReadSector(0, other); err != nil {
		t.Fatalf("ReadSector(0): %v", err)
	}
	if !bytes.Equal(other, make([]byte, SectorSize)) {
		t.Fatal("untouched sector 0 should still read as zero-filled")
	}
}

func TestImageStore_RejectsPathEscape(t *testing.T) {
	store := NewImageStore(t.TempDir())
	if _, err := store.Open("../outside.img", true); err == nil {
		t.Fatal("expected an error opening a path that escapes the store")
	}
	if _, err := store.Open("/etc/passwd", true); err == nil {
		t.Fatal("expected an error opening an absolute path")
	}
}

func TestImage_ReadOnlyRejectsWrite(t *testing.T) {
	store := NewImageStore(t.TempDir())
	img, err := store.Create("rom.img", SectorSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	img.Close()

	ro, err := store.Open("rom.img", true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ro.Close()

	if !ro.ReadOnly() {
		t.Fatal("ReadOnly() = false for an image opened read-only")
	}
	if err := ro.WriteSector(0, make([]byte, SectorSize)); err == nil {
		t.Fatal("expected WriteSector to fail on a read-only image")
	}
}
