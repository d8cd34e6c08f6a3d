// mca.go - Micro Channel Architecture POS (Programmable Option Select)
// slot table.
//
// Grounded on spec §4.6: a fixed 8-slot table, each slot a 4-register
// POS block, broadcast through a single index register at 0x96. No pack
// repo implements MCA; written fresh in this module's register-bank +
// IOBus-handler idiom.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package mca

import "github.com/intuitionamiga/pccore/internal/iobus"

const slotCount = 8

// Card is the callback set a slot occupant registers, per spec §3's
// Device-adjacent POS contract.
type Card struct {
	ReadPOS  func(reg int) byte
	WritePOS func(reg int, v byte)
	Feedback func() byte // POS register 5/setup-mode feedback byte, if the card drives one
	Reset    func()
}

// Bus is the 8-slot MCA backplane, addressed through the single index
// register at port 0x96.
type Bus struct {
	slots [slotCount]*Card
	index byte // selected slot + setup-mode bit (bit7)
}

// New returns a Bus with no cards installed.
func New() *Bus {
	return &Bus{}
}

// Attach registers the index register at 0x96 and the four POS data
// registers at 0x100-0x103 (the standard MCA POS window once setup mode
// is entered via 0x96 bit 7).
func (b *Bus) Attach(io *iobus.IOBus) {
	io.SetHandler(0x96, 1, "mca-index", iobus.Handler{
		ReadB:  func(uint16) byte { return b.index },
		WriteB: func(_ uint16, v byte) { b.index = v },
	})
	for reg := 0; reg < 4; reg++ {
		r := reg
		io.SetHandler(uint16(0x100+r), 1, "mca-pos", iobus.Handler{
			ReadB:  func(uint16) byte { return b.readPOS(r) },
			WriteB: func(_ uint16, v byte) { b.writePOS(r, v) },
		})
	}
	io.SetHandler(0x104, 1, "mca-feedback", iobus.Handler{
		ReadB: func(uint16) byte { return b.readFeedback() },
	})
}

// selectedSlot returns the slot named by bits 0-2 of the 0x96 index
// register and whether a card occupies it. Bit 7 (setup mode enable) is
// not consulted: POS register access is only meaningful while in setup
// mode on real hardware, but this model serves reads/writes regardless.
func (b *Bus) selectedSlot() (int, bool) {
	slot := int(b.index & 0x07)
	return slot, b.slots[slot] != nil
}

func (b *Bus) readPOS(reg int) byte {
	slot, ok := b.selectedSlot()
	if !ok || b.slots[slot].ReadPOS == nil {
		return 0xFF
	}
	return b.slots[slot].ReadPOS(reg)
}

func (b *Bus) writePOS(reg int, v byte) {
	slot, ok := b.selectedSlot()
	if !ok || b.slots[slot].WritePOS == nil {
		return
	}
	b.slots[slot].WritePOS(reg, v)
}

func (b *Bus) readFeedback() byte {
	slot, ok := b.selectedSlot()
	if !ok || b.slots[slot].Feedback == nil {
		return 0xFF
	}
	return b.slots[slot].Feedback()
}

// InstallCard places card in the given slot (0-7).
func (b *Bus) InstallCard(slot int, card *Card) {
	if slot < 0 || slot >= slotCount {
		return
	}
	b.slots[slot] = card
}

// ResetAll broadcasts Reset to every installed card, for machine
// hard-reset.
func (b *Bus) ResetAll() {
	for _, c := range b.slots {
		if c != nil && c.Reset != nil {
			c.Reset()
		}
	}
}
