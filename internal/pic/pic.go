// pic.go - Intel 8259A Programmable Interrupt Controller, cascaded pair.
//
// Grounded on spec §4.7's picint_common raise/lower primitive and the
// standard ICW1-4/OCW2/OCW3 8259 programming model; no pack repo
// implements an 8259, so this is written fresh in the register-bank +
// IOBus-handler idiom used throughout this module's other device
// packages.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package pic

import "github.com/intuitionamiga/pccore/internal/iobus"

// Chip is a single 8259A. Two are wired together (master/slave) by Pair.
type Chip struct {
	irr byte // interrupt request register (pending, level-sensitive lines set here)
	isr byte // in-service register
	imr byte // interrupt mask register

	icw  [4]byte
	icwStep int // 0 = initialised (data writes set IMR), 2..4 = expecting ICW2..4
	icw4Needed bool

	elcr byte // edge (0) / level (1) trigger per line, set via 0x4D0/0x4D1

	priorityBase byte // rotates with OCW2 "rotate on non-specific EOI"
	slaveOnIRQ   int  // master: line the slave is cascaded on (2); slave: -1
	ocw3ReadISR  bool // OCW3 read-register select: false=IRR, true=ISR
}

// Pair is a cascaded master/slave 8259 pair, the standard PC-compatible
// configuration (slave cascaded on master IRQ 2).
type Pair struct {
	Master Chip
	Slave  Chip

	pendingVector func() // set by the CPU/machine glue to re-poll IF/pending state
}

// NewPair returns a pair with both chips masked and no pending lines.
func NewPair() *Pair {
	p := &Pair{}
	p.Master.imr = 0xFF
	p.Slave.imr = 0xFF
	p.Master.slaveOnIRQ = 2
	p.Slave.slaveOnIRQ = -1
	return p
}

// Attach registers the master at 0x20/0x21 and the slave at 0xA0/0xA1,
// plus the ELCR registers at 0x4D0 (master) / 0x4D1 (slave).
func (p *Pair) Attach(bus *iobus.IOBus) {
	bus.SetHandler(0x20, 1, "pic-master", iobus.Handler{
		WriteB: func(_ uint16, v byte) { p.Master.writeCommand(v) },
		ReadB:  func(_ uint16) byte { return p.Master.readStatus() },
	})
	bus.SetHandler(0x21, 1, "pic-master", iobus.Handler{
		WriteB: func(_ uint16, v byte) { p.Master.writeData(v) },
		ReadB:  func(_ uint16) byte { return p.Master.imr },
	})
	bus.SetHandler(0xA0, 1, "pic-slave", iobus.Handler{
		WriteB: func(_ uint16, v byte) { p.Slave.writeCommand(v) },
		ReadB:  func(_ uint16) byte { return p.Slave.readStatus() },
	})
	bus.SetHandler(0xA1, 1, "pic-slave", iobus.Handler{
		WriteB: func(_ uint16, v byte) { p.Slave.writeData(v) },
		ReadB:  func(_ uint16) byte { return p.Slave.imr },
	})
	bus.SetHandler(0x4D0, 1, "pic-elcr", iobus.Handler{
		WriteB: func(_ uint16, v byte) { p.Master.elcr = v },
		ReadB:  func(_ uint16) byte { return p.Master.elcr },
	})
	bus.SetHandler(0x4D1, 1, "pic-elcr", iobus.Handler{
		WriteB: func(_ uint16, v byte) { p.Slave.elcr = v },
		ReadB:  func(_ uint16) byte { return p.Slave.elcr },
	})
}

func (c *Chip) writeCommand(v byte) {
	if v&0x10 != 0 { // ICW1
		c.icw[0] = v
		c.icw4Needed = v&0x01 != 0
		c.icwStep = 2 // expect ICW2 next
		c.irr = 0
		c.isr = 0
		return
	}
	if v&0x08 != 0 { // OCW3
		// bit0/1 select read register on next status read; bit 6 sets
		// the special-mask mode (not modeled: no device in this core
		// relies on it yet).
		if v&0x02 != 0 {
			c.ocw3ReadISR = v&0x01 != 0
		}
		return
	}
	// OCW2: EOI variants
	switch v >> 5 {
	case 0x1: // non-specific EOI
		c.nonSpecificEOI()
	case 0x3: // specific EOI
		c.isr &^= 1 << (v & 0x07)
	case 0x5: // rotate on non-specific EOI
		c.nonSpecificEOI()
		c.priorityBase = (c.priorityBase + 1) & 0x07
	}
}

func (c *Chip) nonSpecificEOI() {
	for i := 0; i < 8; i++ {
		line := (c.priorityBase + byte(i)) & 0x07
		if c.isr&(1<<line) != 0 {
			c.isr &^= 1 << line
			return
		}
	}
}

func (c *Chip) writeData(v byte) {
	switch c.icwStep {
	case 2:
		c.icw[1] = v // vector base
		if c.icw[0]&0x02 != 0 { // single mode, no ICW3
			if c.icw4Needed {
				c.icwStep = 4
			} else {
				c.icwStep = 0
			}
			return
		}
		c.icwStep = 3
	case 3:
		c.icw[2] = v // cascade wiring
		if c.icw4Needed {
			c.icwStep = 4
		} else {
			c.icwStep = 0
		}
	case 4:
		c.icw[3] = v
		c.icwStep = 0
	default:
		c.imr = v
	}
}

func (c *Chip) readStatus() byte {
	if c.ocw3ReadISR {
		return c.isr
	}
	return c.irr
}

// Raise asserts line (0-7) on chip c, per spec §4.7's picint_common.
// Edge-triggered lines (elcr bit clear) latch on the 0->1 transition;
// level-triggered lines stay asserted until Lower is called by the
// device driving them.
func (c *Chip) Raise(line int) {
	bit := byte(1) << uint(line)
	if c.elcr&bit != 0 {
		c.irr |= bit
		return
	}
	if c.irr&bit == 0 {
		c.irr |= bit
	}
}

// Lower deasserts line. For edge-triggered lines this has no effect on
// an already-latched IRR bit (it clears only on acknowledgment); for
// level-triggered lines it clears IRR immediately, modeling the device
// releasing its request line.
func (c *Chip) Lower(line int) {
	bit := byte(1) << uint(line)
	if c.elcr&bit != 0 {
		c.irr &^= bit
	}
}

// PicIntCommon is the universal raise/lower primitive named in spec
// §4.7: set selects assert (true) or deassert (false) of line on chip.
func PicIntCommon(c *Chip, line int, set bool) {
	if set {
		c.Raise(line)
	} else {
		c.Lower(line)
	}
}

// PendingVector returns the highest-priority unmasked, not-yet-in-service
// pending interrupt's vector and true, checking the slave (cascaded on
// master line 2) first when the master's line 2 is unmasked. The
// returned line is acknowledged: its ISR bit is set and, if it is
// edge-triggered, its IRR bit is cleared. Returns (0, false) when
// nothing is pending and unmasked.
func (p *Pair) PendingVector() (byte, bool) {
	cascadeUnmasked := p.Master.imr&(1<<2) == 0
	if cascadeUnmasked {
		if sv, ok := p.Slave.nextPending(); ok {
			p.Slave.isr |= 1 << sv
			if p.Slave.elcr&(1<<sv) == 0 {
				p.Slave.irr &^= 1 << sv
			}
			p.Master.isr |= 1 << 2
			return p.Slave.icw[1] + sv, true
		}
	}
	if mv, ok := p.Master.nextPending(); ok {
		p.Master.isr |= 1 << mv
		if p.Master.elcr&(1<<mv) == 0 {
			p.Master.irr &^= 1 << mv
		}
		return p.Master.icw[1] + mv, true
	}
	return 0, false
}

// nextPending returns the first unmasked pending line not already in
// service, scanning upward from priorityBase (line 0 until a
// rotate-on-EOI command moves it).
func (c *Chip) nextPending() (byte, bool) {
	for i := 0; i < 8; i++ {
		line := (c.priorityBase + byte(i)) & 0x07
		bit := byte(1) << line
		if c.irr&bit != 0 && c.imr&bit == 0 && c.isr&bit == 0 {
			return line, true
		}
	}
	return 0, false
}
