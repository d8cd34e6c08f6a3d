// post_code.go - port 0x80 POST diagnostic code hook.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package iobus

// POSTCode is a recorder for writes to port 0x80: both a debug hook (the
// monitor displays the last codes written) and, on some real BIOSes, a
// trigger for an MP-table post-patch step. This package only captures the
// history; any BIOS-specific patch behavior belongs to the chipset/BIOS
// device that attaches here.
type POSTCode struct {
	last    byte
	history []byte
	maxLen  int
}

// NewPOSTCode returns a recorder retaining up to maxLen codes.
func NewPOSTCode(maxLen int) *POSTCode {
	return &POSTCode{maxLen: maxLen}
}

// Attach registers the write-only port 0x80 handler. Port 0x80 is also
// commonly read back as a harmless I/O delay ("jmp $+2" idiom on real
// hardware, an `out 0x80` / `in 0x80` pair here) so a read handler
// returning the last code is provided too.
func (p *POSTCode) Attach(bus *IOBus, port uint16, owner string) {
	bus.SetHandler(port, 1, owner, Handler{
		WriteB: func(_ uint16, v byte) {
			p.last = v
			if p.maxLen > 0 {
				p.history = append(p.history, v)
				if len(p.history) > p.maxLen {
					p.history = p.history[len(p.history)-p.maxLen:]
				}
			}
		},
		ReadB: func(_ uint16) byte { return p.last },
	})
}

// Last returns the most recently written POST code.
func (p *POSTCode) Last() byte {
	return p.last
}

// History returns the recorded POST codes, oldest first.
func (p *POSTCode) History() []byte {
	return p.history
}
