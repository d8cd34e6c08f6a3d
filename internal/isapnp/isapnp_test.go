// isapnp_test.go - ISAPnP Wake/Isolation/Config unit tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package isapnp

import (
	"testing"

	"github.com/intuitionamiga/pccore/internal/iobus"
)

func sendInitKey(io *iobus.IOBus) {
	for _, b := range initKey {
		io.OutB(0x279, b)
	}
}

func TestISAPnP_InitKeyTransitionsToSleep(t *testing.T) {
	b := New(0x203)
	io := iobus.New()
	b.Attach(io)

	sendInitKey(io)
	if b.st != sleep {
		t.Errorf("state = %v, want sleep after init key", b.st)
	}
}

func TestISAPnP_SingleCardIsolationAssignsCSN(t *testing.T) {
	b := New(0x203)
	io := iobus.New()
	b.Attach(io)

	regs := map[byte]byte{}
	card := &Card{
		SerialID: [9]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09},
		ReadReg:  func(r byte) byte { return regs[r] },
		WriteReg: func(r byte, v byte) { regs[r] = v },
	}
	b.InstallCard(card)

	sendInitKey(io)
	io.OutB(0x279, 0x01)
	io.OutB(0xA79, 0x01) // serial isolation

	for i := 0; i < len(card.SerialID)*8; i++ {
		io.InB(b.readPort)
	}

	io.OutB(0x279, 0x06) // CSN register
	io.OutB(0xA79, 0x07)

	if card.CSN != 0x07 {
		t.Errorf("card.CSN = %d, want 7", card.CSN)
	}
}

func TestISAPnP_ConfigControlResetReturnsToWaitForKey(t *testing.T) {
	b := New(0x203)
	io := iobus.New()
	b.Attach(io)

	sendInitKey(io)
	io.OutB(0x279, 0x02)
	io.OutB(0xA79, 0x02) // return to wait-for-key

	if b.st != waitForKey {
		t.Errorf("state = %v, want waitForKey", b.st)
	}
}

func TestISAPnP_WakeRoutesConfigRegisterAccessToCard(t *testing.T) {
	b := New(0x203)
	io := iobus.New()
	b.Attach(io)

	regs := map[byte]byte{}
	card := &Card{
		ReadReg:  func(r byte) byte { return regs[r] },
		WriteReg: func(r byte, v byte) { regs[r] = v },
	}
	b.InstallCard(card)
	card.CSN = 3 // as if assigned by an earlier isolation pass; InstallCard clears it

	sendInitKey(io)
	io.OutB(0x279, 0x03)
	io.OutB(0xA79, 3) // Wake[CSN=3]

	io.OutB(0x279, 0x10) // arbitrary config register
	io.OutB(0xA79, 0x42)

	if regs[0x10] != 0x42 {
		t.Errorf("regs[0x10] = 0x%02X, want 0x42", regs[0x10])
	}
}
