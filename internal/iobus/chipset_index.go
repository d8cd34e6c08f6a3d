// chipset_index.go - port 0x22/0x23 index/data chipset register file, used
// by ALi/OPTi/SiS-pre-55xx/MXIC-style chipsets for configuration
// registers that don't get a PCI config space of their own.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package iobus

// ChipsetIndexRegs implements the 0x22 (index latch) / 0x23 (indexed
// data) mechanism: a 256-byte register file gated by a lock byte that
// only a specific unlock value written to a specific index can clear.
type ChipsetIndexRegs struct {
	regs       [256]byte
	index      byte
	locked     bool
	lockIndex  byte
	unlockMagic byte
}

// NewChipsetIndexRegs returns a register file that starts locked, with
// the given index/magic-value pair required to unlock it — the teacher
// corpus has no equivalent of this mechanism; lockIndex/unlockMagic are
// supplied by the specific chipset device wiring this up (e.g. index
// 0x00, magic 0xC5 for several real ALi/SiS chipsets).
func NewChipsetIndexRegs(lockIndex, unlockMagic byte) *ChipsetIndexRegs {
	return &ChipsetIndexRegs{locked: true, lockIndex: lockIndex, unlockMagic: unlockMagic}
}

// Attach registers this register file's handlers on the given IOBus at
// the conventional 0x22/0x23 ports (callers may pass different ports for
// chipsets that relocate the mechanism).
func (c *ChipsetIndexRegs) Attach(bus *IOBus, indexPort, dataPort uint16, owner string) {
	bus.SetHandler(indexPort, 1, owner, Handler{
		WriteB: func(_ uint16, v byte) { c.index = v },
		ReadB:  func(_ uint16) byte { return c.index },
	})
	bus.SetHandler(dataPort, 1, owner, Handler{
		ReadB:  c.readData,
		WriteB: c.writeData,
	})
}

func (c *ChipsetIndexRegs) readData(_ uint16) byte {
	return c.regs[c.index]
}

func (c *ChipsetIndexRegs) writeData(_ uint16, v byte) {
	if c.index == c.lockIndex && v == c.unlockMagic {
		c.locked = false
		c.regs[c.index] = v
		return
	}
	if c.locked {
		return
	}
	c.regs[c.index] = v
}

// Lock re-arms the lock bit, e.g. on machine reset.
func (c *ChipsetIndexRegs) Lock() {
	c.locked = true
}

// Locked reports the current lock state, for the monitor's chipset
// register dump.
func (c *ChipsetIndexRegs) Locked() bool {
	return c.locked
}

// Reg returns the raw value at the given index without going through the
// port mechanism, for device-internal use (e.g. shadow-RAM control bits
// the chipset itself interprets).
func (c *ChipsetIndexRegs) Reg(index byte) byte {
	return c.regs[index]
}

// SetReg writes the raw value at the given index without going through
// the lock check, for power-on defaults.
func (c *ChipsetIndexRegs) SetReg(index, v byte) {
	c.regs[index] = v
}
