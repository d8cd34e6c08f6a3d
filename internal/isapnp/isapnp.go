// isapnp.go - ISA Plug-and-Play Wake/Isolation/Config protocol helper.
//
// Grounded on spec §4.6: cards implement Wake/Isolation/Config on ports
// 0x279 (address), 0xA79 (write data), and a machine-selected read port;
// the core provides the 32-byte LFSR isolation helper and CSN tracking.
// No pack repo implements ISAPnP; written fresh against the Plug and
// Play ISA spec's well-documented LFSR and state machine.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package isapnp

import "github.com/intuitionamiga/pccore/internal/iobus"

// state is the PnP ISA state machine's phase, per the PnP ISA spec.
type state int

const (
	waitForKey state = iota
	sleep
	isolation
	config
)

// Card is one PnP card's 72-bit serial identifier (vendor ID + serial
// number + checksum) and register file, presented through the standard
// isolation/config protocol.
type Card struct {
	SerialID [9]byte // vendor ID (4) + serial number (4) + checksum (1)
	CSN      byte    // card select number, 0 = not yet assigned

	ReadReg  func(reg byte) byte
	WriteReg func(reg byte, v byte)

	// per-card isolation cursor, reset on each EnterIsolation
	bitPos int
	awake  bool
}

// Bus is the ISAPnP controller: address/data register pair plus the
// read port, and the set of installed cards taking part in isolation.
type Bus struct {
	st        state
	addrReg   byte
	readPort  uint16
	cards   []*Card
	nextCSN byte
	keyPos  int
}

// initKey is the fixed 32-byte LFSR initialization key every PnP ISA
// card and host recognizes, from the Plug and Play ISA specification.
var initKey = [32]byte{
	0x6A, 0xB5, 0xDA, 0xED, 0xF6, 0xFB, 0x7D, 0xBE,
	0xDF, 0x6F, 0x37, 0x1B, 0x0D, 0x86, 0xC3, 0x61,
	0xB0, 0x58, 0x2C, 0x16, 0x8B, 0x45, 0xA2, 0xD1,
	0xE8, 0x74, 0x3A, 0x9D, 0xCE, 0xE7, 0x73, 0x39,
}

// New returns a bus with no cards and the read port at the given
// machine-selected I/O address (commonly 0x203-0x3FF in 4-byte steps).
func New(readPort uint16) *Bus {
	return &Bus{readPort: readPort}
}

// Attach registers the 0x279 address port and 0xA79 write-data port,
// plus the configurable read port.
func (b *Bus) Attach(io *iobus.IOBus) {
	io.SetHandler(0x279, 1, "isapnp-addr", iobus.Handler{
		WriteB: func(_ uint16, v byte) { b.writeAddr(v) },
	})
	io.SetHandler(0xA79, 1, "isapnp-write", iobus.Handler{
		WriteB: func(_ uint16, v byte) { b.writeData(v) },
	})
	io.SetHandler(b.readPort, 1, "isapnp-read", iobus.Handler{
		ReadB: func(uint16) byte { return b.readData() },
	})
}

// InstallCard adds a card to the isolation pool; its CSN starts at 0
// (unassigned).
func (b *Bus) InstallCard(c *Card) {
	c.CSN = 0
	b.cards = append(b.cards, c)
}

func (b *Bus) writeAddr(v byte) {
	if b.st == waitForKey {
		b.feedKey(v)
		return
	}
	b.addrReg = v
}

// feedKey matches successive writes against the 32-byte LFSR key
// sequence; any mismatch resets progress to the start (checked against
// byte 0 again, matching the real initiation key detector).
func (b *Bus) feedKey(v byte) {
	if v == initKey[b.keyPos] {
		b.keyPos++
		if b.keyPos == 32 {
			b.st = sleep
			b.keyPos = 0
			for _, c := range b.cards {
				c.awake = false
			}
		}
		return
	}
	b.keyPos = 0
	if v == initKey[0] {
		b.keyPos = 1
	}
}

func (b *Bus) writeData(v byte) {
	switch b.addrReg {
	case 0x00: // Set RD_DATA port
		b.readPort = uint16(v)<<2 | 0x3
	case 0x01: // Serial isolation
		if v == 0x01 {
			b.enterIsolation()
		}
	case 0x02: // Config control
		b.configControl(v)
	case 0x03: // Wake[CSN]
		b.wake(v)
	case 0x06: // Card select number
		for _, c := range b.cards {
			if c.awake && c.CSN == 0 {
				c.CSN = v
				if v >= b.nextCSN {
					b.nextCSN = v + 1
				}
			}
		}
	default:
		if b.st == config {
			for _, c := range b.cards {
				if c.awake && c.WriteReg != nil {
					c.WriteReg(b.addrReg, v)
				}
			}
		}
	}
}

func (b *Bus) enterIsolation() {
	b.st = isolation
	for _, c := range b.cards {
		if c.CSN == 0 {
			c.awake = true
			c.bitPos = 0
		} else {
			c.awake = false
		}
	}
}

func (b *Bus) configControl(v byte) {
	switch {
	case v&0x04 != 0: // reset CSN for all cards
		for _, c := range b.cards {
			c.CSN = 0
		}
		b.nextCSN = 1
	case v&0x02 != 0: // return to wait-for-key
		b.st = waitForKey
		for _, c := range b.cards {
			c.awake = false
		}
	case v&0x01 != 0: // reset to config phase complete
		b.st = waitForKey
	}
}

func (b *Bus) wake(csn byte) {
	for _, c := range b.cards {
		c.awake = c.CSN == csn || (csn == 0 && c.CSN == 0)
	}
	if csn == 0 {
		b.enterIsolation()
	} else {
		b.st = config
	}
}

// readData serves the isolation bit stream (one read per serial-ID bit:
// 0x55 when any awake card's bit is 1, else 0xAA; a card whose bit is 0
// drops out when the result is 0x55) or, in config state,
// forwards to the single awake card's register file.
func (b *Bus) readData() byte {
	switch b.st {
	case isolation:
		return b.isolationStep()
	case config:
		for _, c := range b.cards {
			if c.awake && c.ReadReg != nil {
				return c.ReadReg(b.addrReg)
			}
		}
	}
	return 0xFF
}

// isolationStep advances every still-awake card's 72-bit serial ID cursor
// by one bit and returns the wired-OR result every card observes; cards
// whose bit disagrees with the wired result drop out (awake=false),
// implementing the standard PnP ISA isolation contention protocol.
func (b *Bus) isolationStep() byte {
	anyAwake := false
	anyBit1 := false
	for _, c := range b.cards {
		if !c.awake {
			continue
		}
		anyAwake = true
		byteIdx := c.bitPos / 8
		bitIdx := uint(c.bitPos % 8)
		if byteIdx >= len(c.SerialID) {
			continue
		}
		bit := (c.SerialID[byteIdx] >> bitIdx) & 1
		if bit == 1 {
			anyBit1 = true
		}
	}
	if !anyAwake {
		return 0xFF
	}

	result := byte(0xAA)
	if anyBit1 {
		result = 0x55
	}

	for _, c := range b.cards {
		if !c.awake {
			continue
		}
		byteIdx := c.bitPos / 8
		bitIdx := uint(c.bitPos % 8)
		if byteIdx >= len(c.SerialID) {
			c.bitPos++
			continue
		}
		bit := (c.SerialID[byteIdx] >> bitIdx) & 1
		if (bit == 1) != anyBit1 {
			c.awake = false
			continue
		}
		c.bitPos++
		if c.bitPos >= len(c.SerialID)*8 {
			c.CSN = 0 // stays unassigned until CSN write
		}
	}
	return result
}
