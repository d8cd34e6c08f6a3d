// pit.go - Intel 8254 Programmable Interval Timer, wired to
// internal/vtime so each channel's countdown is a scheduled deadline
// rather than something polled every CPU cycle.
//
// Grounded on spec §4.7/§8 scenario 3 (channel 0 mode 2, count 0x1000,
// must produce monotonically decreasing port-0x40 reads at
// 1193182/0x1000 Hz); no pack repo implements an 8254, so this follows
// the register-bank + IOBus-handler idiom established in internal/pic.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package pit

import (
	"github.com/intuitionamiga/pccore/internal/iobus"
	"github.com/intuitionamiga/pccore/internal/vtime"
)

// InputClockHz is the PIT's crystal-derived input frequency (the
// standard PC 1.193182 MHz, 1/3 of the NTSC color subcarrier).
const InputClockHz = 1193182

// VtimeUnitsPerSecond must match whatever unit internal/vtime.Time
// counts in; the PIT converts its count register into a vtime period
// using this ratio. Machine composition (internal/machine) is
// responsible for keeping this consistent with how it drives
// Scheduler.Advance from CPU cycles.
const VtimeUnitsPerSecond = 1_000_000_000 // nanoseconds

// OutputChanged is invoked whenever a channel's OUT line transitions,
// so the owning device (PIC line 0 for channel 0, refresh/speaker logic
// for channels 1/2) can react.
type OutputChanged func(channel int, high bool)

// PIT is the 3-channel 8254.
type PIT struct {
	channels [3]channel
	sched    *vtime.Scheduler
	onOutput OutputChanged
}

type channel struct {
	mode       byte
	bcd        bool
	accessMode byte // 0=latch, 1=LSB only, 2=MSB only, 3=LSB then MSB
	readToggle bool // for mode 3 access: false=expect LSB next, true=expect MSB
	writeToggle bool

	reloadValue uint16
	latched     bool
	latchValue  uint16

	timer   *vtime.Timer
	out     bool
	armedAt vtime.Time
	period  vtime.Time

	pendingLSB byte
}

// New returns a PIT with all channels stopped, attached to sched for
// deadline scheduling.
func New(sched *vtime.Scheduler, onOutput OutputChanged) *PIT {
	return &PIT{sched: sched, onOutput: onOutput}
}

// Attach registers the standard 0x40-0x43 port block.
func (p *PIT) Attach(bus *iobus.IOBus) {
	for ch := 0; ch < 3; ch++ {
		c := ch
		bus.SetHandler(uint16(0x40+c), 1, "pit", iobus.Handler{
			ReadB:  func(uint16) byte { return p.readData(c) },
			WriteB: func(_ uint16, v byte) { p.writeData(c, v) },
		})
	}
	bus.SetHandler(0x43, 1, "pit-control", iobus.Handler{
		WriteB: func(_ uint16, v byte) { p.writeControl(v) },
	})
}

func (p *PIT) writeControl(v byte) {
	sel := v >> 6
	if sel == 3 {
		return // read-back command, not modeled
	}
	c := &p.channels[sel]
	access := (v >> 4) & 0x03
	if access == 0 {
		// counter latch command: snapshot current value without
		// disturbing counting.
		c.latched = true
		c.latchValue = c.currentValue(p.sched.Now())
		return
	}
	c.accessMode = access
	c.mode = (v >> 1) & 0x07
	c.bcd = v&0x01 != 0
	c.readToggle = false
	c.writeToggle = false
}

func (p *PIT) writeData(ch int, v byte) {
	c := &p.channels[ch]
	switch c.accessMode {
	case 1: // LSB only
		c.reload(uint16(v))
	case 2: // MSB only
		c.reload(uint16(v) << 8)
	case 3: // LSB then MSB
		if !c.writeToggle {
			c.pendingLSB = v
			c.writeToggle = true
			return
		}
		c.writeToggle = false
		c.reload(uint16(c.pendingLSB) | uint16(v)<<8)
	}
	// A completed count load re-arms the channel against its new
	// period immediately, matching real 8254 mode 2/3 behavior where
	// the new count takes effect on the next clock rather than
	// requiring a separate explicit start call.
	p.Start(ch)
}

func (c *channel) reload(v uint16) {
	c.reloadValue = v
}

// maxCount returns the true divisor: a reload of 0 means 0x10000, the
// 8254 datasheet's sentinel for "maximum count" on a 16-bit register.
func (c *channel) maxCount() uint32 {
	if c.reloadValue == 0 {
		return 0x10000
	}
	return uint32(c.reloadValue)
}

func (p *PIT) readData(ch int) byte {
	c := &p.channels[ch]
	value := c.currentValue(p.sched.Now())
	if c.latched {
		value = c.latchValue
	}
	switch c.accessMode {
	case 1:
		if c.latched {
			c.latched = false
		}
		return byte(value)
	case 2:
		if c.latched {
			c.latched = false
		}
		return byte(value >> 8)
	default: // 3: LSB then MSB
		if !c.readToggle {
			c.readToggle = true
			return byte(value)
		}
		c.readToggle = false
		if c.latched {
			c.latched = false
		}
		return byte(value >> 8)
	}
}

// currentValue derives the countdown register's present value from the
// scheduled expiration timer and the current virtual time, matching
// real 8254 behavior where reads observe the live countdown rather than
// a value frozen at programming time — this is what makes the
// "monotonically decreasing reads" property in spec §8 scenario 3 hold
// without polling every tick.
func (c *channel) currentValue(now vtime.Time) uint16 {
	if c.timer == nil || c.period == 0 {
		return c.reloadValue
	}
	max := uint64(c.maxCount())
	elapsed := now - c.armedAt
	intoPeriod := elapsed % c.period
	fraction := uint64(intoPeriod) * max / uint64(c.period)
	remaining := max - fraction
	if remaining >= max {
		remaining = max - 1
	}
	return uint16(remaining)
}

// Start arms channel ch (mode 2, rate generator, is the common case for
// channel 0/PIC timer tick; other modes reuse the same period math for
// simplicity — channels driving the PC speaker (mode 3, square wave) get
// the same half-period-doubling real hardware uses approximated by one
// period per full count). period is expressed in vtime units.
func (p *PIT) Start(ch int) {
	c := &p.channels[ch]
	periodNs := vtime.Time(uint64(c.maxCount()) * VtimeUnitsPerSecond / InputClockHz)
	c.period = periodNs
	c.armedAt = p.sched.Now()
	if c.timer == nil {
		c.timer = p.sched.Add("pit", periodNs, periodNs, func(now vtime.Time) {
			c.out = !c.out
			c.armedAt = now
			if p.onOutput != nil {
				p.onOutput(ch, c.out)
			}
		})
	} else {
		p.sched.SetDelay(c.timer, periodNs)
		p.sched.SetPeriod(c.timer, periodNs)
	}
}
