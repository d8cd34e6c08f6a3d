// mca_test.go - MCA POS slot table unit tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package mca

import (
	"testing"

	"github.com/intuitionamiga/pccore/internal/iobus"
)

func TestMCA_SelectedSlotRoutesPOSAccess(t *testing.T) {
	b := New()
	io := iobus.New()
	b.Attach(io)

	regs := [4]byte{0x11, 0x22, 0x33, 0x44}
	b.InstallCard(3, &Card{
		ReadPOS:  func(r int) byte { return regs[r] },
		WritePOS: func(r int, v byte) { regs[r] = v },
	})

	io.OutB(0x96, 3)
	if got := io.InB(0x101); got != 0x22 {
		t.Errorf("InB(0x101) = 0x%02X, want 0x22", got)
	}
	io.OutB(0x102, 0x99)
	if regs[2] != 0x99 {
		t.Errorf("regs[2] = 0x%02X, want 0x99", regs[2])
	}
}

func TestMCA_EmptySlotReturnsAllOnes(t *testing.T) {
	b := New()
	io := iobus.New()
	b.Attach(io)

	io.OutB(0x96, 5)
	if got := io.InB(0x100); got != 0xFF {
		t.Errorf("InB on empty slot = 0x%02X, want 0xFF", got)
	}
}

func TestMCA_ResetAllBroadcastsToInstalledCards(t *testing.T) {
	b := New()
	resetCount := 0
	b.InstallCard(0, &Card{Reset: func() { resetCount++ }})
	b.InstallCard(1, &Card{Reset: func() { resetCount++ }})
	b.InstallCard(2, nil)

	b.ResetAll()
	if resetCount != 2 {
		t.Errorf("resetCount = %d, want 2", resetCount)
	}
}
