// fpu_mmx_ops.go - Pentium-MMX integer SIMD instructions, aliased over
// the x87 register stack.
//
// Grounded on cpu_x86_system.go's Grp6/Grp7 ModR/M-reg-field dispatch
// idiom and fpu_x87_ops.go's x87RegPair helper, generalized to the
// reg/rm-both-MMX-or-memory addressing MMX instructions use instead of
// the FPU's ST(0)-relative stack addressing.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

// mmReadSrc64 reads the 64-bit source operand of an MMX reg/rm
// instruction: either another MM register (mod==3) or a 64-bit memory
// operand, per the standard Pentium-MMX mm, mm/m64 encoding.
func (c *CPU_X86) mmReadSrc64() uint64 {
	if c.getModRMMod() == 3 {
		return c.FPU.MMGetQ(int(c.getModRMRM() & 7))
	}
	addr := c.getEffectiveAddress()
	return uint64(c.read32(addr)) | uint64(c.read32(addr+4))<<32
}

// mmBinary implements the common "MMdst = f(MMdst, src)" shape shared by
// PAND/POR/PXOR/PADD*/PSUB*/PCMPEQ*/PACK*/PUNPCK*: reg field names the
// destination (and one source operand), r/m names the other source.
func (c *CPU_X86) mmBinary(f func(dst, src uint64) uint64) {
	c.fetchModRM()
	reg := int(c.getModRMReg() & 7)
	src := c.mmReadSrc64()
	dst := c.FPU.MMGetQ(reg)
	c.FPU.MMSetQ(reg, f(dst, src))
	c.Cycles += 1
}

// --- MOVD: GPR <-> low 32 bits of an MM register (0F 6E / 0F 7E) ---

func (c *CPU_X86) opMOVD_MM_Ed() {
	c.fetchModRM()
	reg := int(c.getModRMReg() & 7)
	var v uint32
	if c.getModRMMod() == 3 {
		v = c.getReg32(c.getModRMRM())
	} else {
		v = c.read32(c.getEffectiveAddress())
	}
	c.FPU.MMSetQ(reg, uint64(v)) // zero-extended per spec §8 scenario 5
	c.Cycles += 2
}

func (c *CPU_X86) opMOVD_Ed_MM() {
	c.fetchModRM()
	reg := int(c.getModRMReg() & 7)
	v := uint32(c.FPU.MMGetQ(reg))
	if c.getModRMMod() == 3 {
		c.setReg32(c.getModRMRM(), v)
	} else {
		c.write32(c.getEffectiveAddress(), v)
	}
	c.Cycles += 2
}

// opEMMS (0F 77) returns the x87 stack to empty, ending an MMX code
// sequence so subsequent x87 instructions don't misread stale MM state
// as FPU stack contents, per spec §8 scenario 5.
func (c *CPU_X86) opEMMS() {
	c.FPU.EMMS()
	c.Cycles += 2
}

// --- Logical (0F DB/EB/EF) ---

func (c *CPU_X86) opPAND()  { c.mmBinary(func(d, s uint64) uint64 { return d & s }) }
func (c *CPU_X86) opPOR()   { c.mmBinary(func(d, s uint64) uint64 { return d | s }) }
func (c *CPU_X86) opPXOR()  { c.mmBinary(func(d, s uint64) uint64 { return d ^ s }) }
func (c *CPU_X86) opPANDN() { c.mmBinary(func(d, s uint64) uint64 { return ^d & s }) }

// --- Packed add/subtract, wraparound (modulo) arithmetic (0F F8-FE) ---

func lanesMap(a, b uint64, lanes, bits int, f func(x, y uint64) uint64) uint64 {
	mask := uint64(1)<<uint(bits) - 1
	var out uint64
	for i := 0; i < lanes; i++ {
		shift := uint(i * bits)
		x := (a >> shift) & mask
		y := (b >> shift) & mask
		out |= (f(x, y) & mask) << shift
	}
	return out
}

func (c *CPU_X86) opPADDB() {
	c.mmBinary(func(d, s uint64) uint64 { return lanesMap(d, s, 8, 8, func(x, y uint64) uint64 { return x + y }) })
}
func (c *CPU_X86) opPADDW() {
	c.mmBinary(func(d, s uint64) uint64 { return lanesMap(d, s, 4, 16, func(x, y uint64) uint64 { return x + y }) })
}
func (c *CPU_X86) opPADDD() {
	c.mmBinary(func(d, s uint64) uint64 { return lanesMap(d, s, 2, 32, func(x, y uint64) uint64 { return x + y }) })
}
func (c *CPU_X86) opPSUBB() {
	c.mmBinary(func(d, s uint64) uint64 { return lanesMap(d, s, 8, 8, func(x, y uint64) uint64 { return x - y }) })
}
func (c *CPU_X86) opPSUBW() {
	c.mmBinary(func(d, s uint64) uint64 { return lanesMap(d, s, 4, 16, func(x, y uint64) uint64 { return x - y }) })
}
func (c *CPU_X86) opPSUBD() {
	c.mmBinary(func(d, s uint64) uint64 { return lanesMap(d, s, 2, 32, func(x, y uint64) uint64 { return x - y }) })
}

// --- Packed compare-for-equality, all-ones/all-zeros mask (0F 74-76) ---

func cmpEqMask(bits int) func(x, y uint64) uint64 {
	mask := uint64(1)<<uint(bits) - 1
	return func(x, y uint64) uint64 {
		if x == y {
			return mask
		}
		return 0
	}
}

func (c *CPU_X86) opPCMPEQB() {
	c.mmBinary(func(d, s uint64) uint64 { return lanesMap(d, s, 8, 8, cmpEqMask(8)) })
}
func (c *CPU_X86) opPCMPEQW() {
	c.mmBinary(func(d, s uint64) uint64 { return lanesMap(d, s, 4, 16, cmpEqMask(16)) })
}
func (c *CPU_X86) opPCMPEQD() {
	c.mmBinary(func(d, s uint64) uint64 { return lanesMap(d, s, 2, 32, cmpEqMask(32)) })
}

// --- Pack with signed saturation (0F 63/6B) ---

func saturateSigned(v int64, bits int) uint64 {
	lo := -(int64(1) << uint(bits-1))
	hi := int64(1)<<uint(bits-1) - 1
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return uint64(v) & (uint64(1)<<uint(bits) - 1)
}

// opPACKSSWB packs four signed words from dst and four from src into
// eight signed, saturated bytes: dst's lanes occupy the low 32 bits of
// the result, src's the high 32, matching the Intel mm,mm/m64 encoding.
func (c *CPU_X86) opPACKSSWB() {
	c.mmBinary(func(d, s uint64) uint64 {
		var out uint64
		for i := 0; i < 4; i++ {
			w := int16(uint16(d >> uint(i*16)))
			out |= saturateSigned(int64(w), 8) << uint(i*8)
		}
		for i := 0; i < 4; i++ {
			w := int16(uint16(s >> uint(i*16)))
			out |= saturateSigned(int64(w), 8) << uint(32+i*8)
		}
		return out
	})
}

// opPACKSSDW packs two signed dwords from dst and two from src into four
// signed, saturated words.
func (c *CPU_X86) opPACKSSDW() {
	c.mmBinary(func(d, s uint64) uint64 {
		var out uint64
		for i := 0; i < 2; i++ {
			v := int32(uint32(d >> uint(i*32)))
			out |= saturateSigned(int64(v), 16) << uint(i*16)
		}
		for i := 0; i < 2; i++ {
			v := int32(uint32(s >> uint(i*32)))
			out |= saturateSigned(int64(v), 16) << uint(32+i*16)
		}
		return out
	})
}

// --- Unpack low-order lanes (0F 60/61/62) ---

func unpackLow(d, s uint64, lanes, bits int) uint64 {
	mask := uint64(1)<<uint(bits) - 1
	var out uint64
	half := lanes / 2
	for i := 0; i < half; i++ {
		dv := (d >> uint(i*bits)) & mask
		sv := (s >> uint(i*bits)) & mask
		out |= dv << uint(i*2*bits)
		out |= sv << uint(i*2*bits+bits)
	}
	return out
}

func (c *CPU_X86) opPUNPCKLBW() {
	c.mmBinary(func(d, s uint64) uint64 { return unpackLow(d, s, 8, 8) })
}
func (c *CPU_X86) opPUNPCKLWD() {
	c.mmBinary(func(d, s uint64) uint64 { return unpackLow(d, s, 4, 16) })
}
func (c *CPU_X86) opPUNPCKLDQ() {
	c.mmBinary(func(d, s uint64) uint64 { return unpackLow(d, s, 2, 32) })
}
