// dma.go - Intel 8237A DMA controller, primary (8-bit) + secondary
// (16-bit) cascaded pair.
//
// Grounded on spec §4.7: four channels per controller, page registers,
// channel 4 cascades the primary onto the secondary, auto-init bit,
// dma_set_drq/dma_channel_read/dma_channel_write operations. No pack
// repo implements an 8237; written fresh in the register-bank +
// IOBus-handler idiom shared with internal/pic and internal/pit.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package dma

import "github.com/intuitionamiga/pccore/internal/iobus"

// Direction is the programmed transfer direction for a channel.
type Direction int

const (
	Verify Direction = iota
	Write            // device -> memory (8237 "write" = write to memory)
	Read             // memory -> device
)

// Channel is one 8237 DMA channel's programmed state.
type Channel struct {
	baseAddr    uint16
	baseCount   uint16
	currentAddr uint16
	currentCnt  uint16
	page        byte

	mode      byte
	direction Direction
	autoInit  bool

	drq           bool
	terminalCount bool
	maskBit       bool
}

// Direction reports the channel's programmed transfer direction.
func (c *Channel) Direction() Direction { return c.direction }

// TerminalCount reports whether the channel has counted down to -1 since
// the last reload (auto-init channels clear this on their next start).
func (c *Channel) TerminalCount() bool { return c.terminalCount }

// Controller is one 8237, 4 channels wide, with an 8- or 16-bit transfer
// width (the secondary controller shifts addresses left one bit on real
// hardware; this model leaves that to the caller since no device here
// needs 16-bit DMA transfers).
type Controller struct {
	Channels [4]Channel

	flipFlop bool // address/count byte toggle, cleared by the clear-FF port
}

// Pair is the standard PC cascade: primary channels 0-3 (channel 0 is
// refresh), secondary channels 4-7 (channel 4 cascades to the primary).
type Pair struct {
	Primary   Controller
	Secondary Controller
}

// NewPair returns a pair with all channels masked.
func NewPair() *Pair {
	p := &Pair{}
	for i := range p.Primary.Channels {
		p.Primary.Channels[i].maskBit = true
	}
	for i := range p.Secondary.Channels {
		p.Secondary.Channels[i].maskBit = true
	}
	return p
}

// Attach registers the primary controller at its conventional 0x00-0x0F
// + page registers 0x81-0x8F ports, and the secondary at 0xC0-0xDF +
// the same page register block (16-bit controller ports are word-
// spaced on real hardware; modeled here as consecutive bytes since no
// device needs the even/odd addressing quirk).
func (p *Pair) Attach(bus *iobus.IOBus) {
	attachController(&p.Primary, bus, 0x00, "dma1")
	attachController(&p.Secondary, bus, 0xC0, "dma2")

	pageRegs := []uint16{0x87, 0x83, 0x81, 0x82, 0x8F, 0x8B, 0x89, 0x8A}
	for i, port := range pageRegs {
		ch := i
		ctrl := &p.Primary
		if i >= 4 {
			ctrl = &p.Secondary
		}
		bus.SetHandler(port, 1, "dma-page", iobus.Handler{
			ReadB:  func(uint16) byte { return ctrl.Channels[ch%4].page },
			WriteB: func(_ uint16, v byte) { ctrl.Channels[ch%4].page = v },
		})
	}
}

func attachController(c *Controller, bus *iobus.IOBus, base uint16, owner string) {
	for ch := 0; ch < 4; ch++ {
		i := ch
		addrPort := base + uint16(ch*2)
		cntPort := base + uint16(ch*2+1)
		bus.SetHandler(addrPort, 1, owner, iobus.Handler{
			WriteB: func(_ uint16, v byte) { c.writeAddrByte(i, v) },
			ReadB:  func(uint16) byte { return c.readAddrByte(i) },
		})
		bus.SetHandler(cntPort, 1, owner, iobus.Handler{
			WriteB: func(_ uint16, v byte) { c.writeCountByte(i, v) },
			ReadB:  func(uint16) byte { return c.readCountByte(i) },
		})
	}
	bus.SetHandler(base+8, 1, owner, iobus.Handler{
		WriteB: func(_ uint16, v byte) { /* command register: not modeled */ },
	})
	bus.SetHandler(base+9, 1, owner, iobus.Handler{
		WriteB: func(_ uint16, v byte) { c.writeRequest(v) },
	})
	bus.SetHandler(base+10, 1, owner, iobus.Handler{
		WriteB: func(_ uint16, v byte) { c.writeSingleMask(v) },
	})
	bus.SetHandler(base+11, 1, owner, iobus.Handler{
		WriteB: func(_ uint16, v byte) { c.writeMode(v) },
	})
	bus.SetHandler(base+12, 1, owner, iobus.Handler{
		WriteB: func(uint16, byte) { c.flipFlop = false },
	})
	bus.SetHandler(base+15, 1, owner, iobus.Handler{
		WriteB: func(_ uint16, v byte) { c.writeAllMask(v) },
	})
}

func (c *Controller) writeAddrByte(ch int, v byte) {
	ptr := &c.Channels[ch].baseAddr
	if !c.flipFlop {
		*ptr = (*ptr &^ 0xFF) | uint16(v)
	} else {
		*ptr = (*ptr & 0xFF) | uint16(v)<<8
	}
	c.flipFlop = !c.flipFlop
	c.Channels[ch].currentAddr = c.Channels[ch].baseAddr
}

func (c *Controller) readAddrByte(ch int) byte {
	v := c.Channels[ch].currentAddr
	c.flipFlop = !c.flipFlop
	if !c.flipFlop {
		return byte(v >> 8)
	}
	return byte(v)
}

func (c *Controller) writeCountByte(ch int, v byte) {
	ptr := &c.Channels[ch].baseCount
	if !c.flipFlop {
		*ptr = (*ptr &^ 0xFF) | uint16(v)
	} else {
		*ptr = (*ptr & 0xFF) | uint16(v)<<8
	}
	c.flipFlop = !c.flipFlop
	c.Channels[ch].currentCnt = c.Channels[ch].baseCount
	c.Channels[ch].terminalCount = false
}

func (c *Controller) readCountByte(ch int) byte {
	v := c.Channels[ch].currentCnt
	c.flipFlop = !c.flipFlop
	if !c.flipFlop {
		return byte(v >> 8)
	}
	return byte(v)
}

func (c *Controller) writeMode(v byte) {
	ch := v & 0x03
	chn := &c.Channels[ch]
	chn.mode = v
	chn.autoInit = v&0x10 != 0
	switch (v >> 2) & 0x03 {
	case 0x01:
		chn.direction = Write
	case 0x02:
		chn.direction = Read
	default:
		chn.direction = Verify
	}
}

func (c *Controller) writeRequest(v byte) {
	ch := v & 0x03
	set := v&0x04 != 0
	c.Channels[ch].drq = set
}

func (c *Controller) writeSingleMask(v byte) {
	ch := v & 0x03
	c.Channels[ch].maskBit = v&0x04 != 0
}

func (c *Controller) writeAllMask(v byte) {
	for i := range c.Channels {
		c.Channels[i].maskBit = v&(1<<i) != 0
	}
}

// controllerFor returns the controller and local channel index (0-3) a
// global channel number (0-7) belongs to.
func (p *Pair) controllerFor(ch int) (*Controller, int) {
	if ch < 4 {
		return &p.Primary, ch
	}
	return &p.Secondary, ch - 4
}

// SetDRQ asserts or deasserts a channel's DMA request line, per spec
// §4.7's dma_set_drq(ch, level). Channel numbers 0-3 address the
// primary controller, 4-7 the secondary.
func (p *Pair) SetDRQ(ch int, level bool) {
	ctrl, local := p.controllerFor(ch)
	ctrl.Channels[local].drq = level
}

// ChannelRead transfers up to len(buf) bytes from the device into buf,
// advancing the channel's current address/count and honoring auto-init
// reload on terminal count. Returns the number of bytes actually
// transferred before terminal count was reached (may be less than
// len(buf)).
func (p *Pair) ChannelRead(ch int, buf []byte, memWrite func(addr uint32, v byte)) int {
	ctrl, local := p.controllerFor(ch)
	c := &ctrl.Channels[local]
	if c.maskBit {
		return 0
	}
	n := 0
	for n < len(buf) {
		addr := uint32(c.page)<<16 | uint32(c.currentAddr)
		memWrite(addr, buf[n])
		n++
		c.advance()
		if c.terminalCount && !c.autoInit {
			break
		}
	}
	return n
}

// ChannelWrite transfers up to len(buf) bytes from memory (via memRead)
// into buf, the symmetric counterpart of ChannelRead for
// device-initiated reads from system memory.
func (p *Pair) ChannelWrite(ch int, buf []byte, memRead func(addr uint32) byte) int {
	ctrl, local := p.controllerFor(ch)
	c := &ctrl.Channels[local]
	if c.maskBit {
		return 0
	}
	n := 0
	for n < len(buf) {
		addr := uint32(c.page)<<16 | uint32(c.currentAddr)
		buf[n] = memRead(addr)
		n++
		c.advance()
		if c.terminalCount && !c.autoInit {
			break
		}
	}
	return n
}

func (c *Channel) advance() {
	c.currentAddr++
	if c.currentCnt == 0 {
		c.terminalCount = true
		if c.autoInit {
			c.currentAddr = c.baseAddr
			c.currentCnt = c.baseCount
			c.terminalCount = false
		}
		return
	}
	c.currentCnt--
}
