// cpu_x86_system.go - control/debug/descriptor-table registers, CPUID,
// RDTSC, and the page-table walker.
//
// Grounded on cpu_x86.go's existing register-field-plus-accessor-method
// idiom (getSeg/setSeg, getReg32/setReg32) and its function-pointer
// dispatch tables (initBaseOps/initExtendedOps), generalized to the
// system-programming instructions the teacher's user-mode-only core
// never needed.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

// DTReg is a descriptor-table register: GDTR/IDTR (base+limit) or the
// cached shadow of LDTR/TR (base+limit+selector).
type DTReg struct {
	Base     uint32
	Limit    uint16
	Selector uint16 // unused by GDTR/IDTR, set for LDTR/TR
}

const (
	x86CR0PE = 1 << 0  // Protection Enable
	x86CR0MP = 1 << 1  // Monitor Coprocessor
	x86CR0EM = 1 << 2  // Emulation
	x86CR0TS = 1 << 3  // Task Switched
	x86CR0ET = 1 << 4  // Extension Type
	x86CR0NE = 1 << 5  // Numeric Error
	x86CR0WP = 1 << 16 // Write Protect
	x86CR0AM = 1 << 18 // Alignment Mask
	x86CR0NW = 1 << 29 // Not Write-through
	x86CR0CD = 1 << 30 // Cache Disable
	x86CR0PG = 1 << 31 // Paging

	x86CR4VME = 1 << 0 // Virtual-8086 Mode Extensions
	x86CR4PVI = 1 << 1 // Protected-Mode Virtual Interrupts
	x86CR4PSE = 1 << 4 // Page Size Extension (4MB pages)
	x86CR4PAE = 1 << 5 // Physical Address Extension

	x86PTEPresent   = 1 << 0
	x86PTEWrite     = 1 << 1
	x86PTEUser      = 1 << 2
	x86PTEAccessed  = 1 << 5
	x86PTEDirty     = 1 << 6
	x86PTEPageSize  = 1 << 7 // in a PDE: 4MB page
)

// descCache is the cached, decoded form of a loaded segment selector: the
// GDT/LDT descriptor's base/limit/access byte, resolved once at load time
// so calcEffectiveAddress16/32 never needs to re-walk the descriptor
// table per memory access. Only populated in protected mode; real and
// V86 mode keep the flat zero-base addressing the interpreter already
// used before this cache existed.
type descCache struct {
	Base   uint32
	Limit  uint32
	Access byte
	valid  bool
}

// sysState holds the control/debug/descriptor-table registers and the
// paging TLB. Kept out of CPU_X86's hot-path fields so the common
// interpreter loop's cache footprint is unaffected by system-mode state
// most guest code never touches.
type sysState struct {
	CR0, CR2, CR3, CR4 uint32
	DR                 [8]uint32

	GDTR, IDTR DTReg
	LDTR, TR   DTReg

	// seg holds the decoded descriptor-cache shadow for ES/CS/SS/DS/FS/GS,
	// indexed by the x86Seg* constants.
	seg [6]descCache

	tlb map[uint32]tlbEntry // key: virtual page number (addr >> 12)

	smmActive bool
	smBase    uint32

	vendor           [12]byte
	cpuidFamily      uint32
	cpuidModel       uint32
	cpuidStepping    uint32
	cpuidFeatureEDX  uint32
}

type tlbEntry struct {
	physPage uint32
	flags    uint32 // PTE-style present/write/user bits
}

func newSysState() *sysState {
	s := &sysState{
		tlb: make(map[uint32]tlbEntry),
	}
	copy(s.vendor[:], "IntuitionPC ")
	s.cpuidFamily = 5
	s.cpuidModel = 4
	s.cpuidStepping = 3
	s.cpuidFeatureEDX = (1 << 0) | (1 << 4) | (1 << 8) | (1 << 15) // FPU, TSC, CX8, CMOV
	return s
}

// flushTLB discards every cached translation; called on CR3 load and
// any CR0/CR4 write that changes paging mode.
func (c *CPU_X86) flushTLB() {
	c.sys.tlb = make(map[uint32]tlbEntry)
}

// invalidatePage discards the single translation covering addr, for
// INVLPG.
func (c *CPU_X86) invalidatePage(addr uint32) {
	delete(c.sys.tlb, addr>>12)
}

// translate converts a linear address to a physical address by walking
// the two-level 4KB page directory/table when CR0.PG is set, caching
// the result in the TLB. With paging disabled, linear == physical.
// forWrite additionally requires the write bit of the entry that maps
// the page (the PTE, or the PDE of a 4MB page). CR0.WP and the
// user/supervisor bit are not consulted: the write bit is enforced for
// every access. 4MB translations are not cached in the TLB.
func (c *CPU_X86) translate(addr uint32, forWrite bool) (uint32, bool) {
	if c.sys.CR0&x86CR0PG == 0 {
		return addr, true
	}
	vpn := addr >> 12
	if e, ok := c.sys.tlb[vpn]; ok {
		if forWrite && e.flags&x86PTEWrite == 0 {
			return 0, false
		}
		return e.physPage<<12 | (addr & 0xFFF), true
	}

	dirIdx := (addr >> 22) & 0x3FF
	tblIdx := (addr >> 12) & 0x3FF

	// Page-table entries are always addressed physically; using the
	// phys* accessors here (rather than read32/write32) avoids recursing
	// back into translate().
	pdeAddr := c.sys.CR3&0xFFFFF000 + dirIdx*4
	pde := c.physRead32(pdeAddr)
	if pde&x86PTEPresent == 0 {
		return 0, false
	}
	if pde&x86PTEPageSize != 0 && c.sys.CR4&x86CR4PSE != 0 {
		// 4MB page: physical base comes straight from the PDE.
		if forWrite && pde&x86PTEWrite == 0 {
			return 0, false
		}
		phys := (pde & 0xFFC00000) | (addr & 0x003FFFFF)
		c.physWrite32(pdeAddr, pde|x86PTEAccessed)
		return phys, true
	}

	pteAddr := pde&0xFFFFF000 + tblIdx*4
	pte := c.physRead32(pteAddr)
	if pte&x86PTEPresent == 0 {
		return 0, false
	}
	if forWrite && pte&x86PTEWrite == 0 {
		return 0, false
	}

	accessedPTE := pte | x86PTEAccessed
	if forWrite {
		accessedPTE |= x86PTEDirty
	}
	if accessedPTE != pte {
		c.physWrite32(pteAddr, accessedPTE)
	}
	if pde&x86PTEAccessed == 0 {
		c.physWrite32(pdeAddr, pde|x86PTEAccessed)
	}

	c.sys.tlb[vpn] = tlbEntry{physPage: pte >> 12, flags: pte & 0xFFF}
	return (pte & 0xFFFFF000) | (addr & 0xFFF), true
}

// -----------------------------------------------------------------------------
// Exception delivery
// -----------------------------------------------------------------------------

// raiseException delivers a CPU exception. In real mode (CR0.PE clear)
// it's just a software-interrupt-shaped transfer through the IVT via the
// existing handleInterrupt. In protected mode it pushes the 32-bit
// (Flags, CS, EIP) frame (plus the error code, if any) and reads an
// 8-byte gate descriptor out of the IDT at vector*8.
//
// excNesting tracks re-entrancy: a fault raised while already delivering
// one (nesting==1) escalates to #DF (vector 8); a fault while already
// inside #DF delivery (nesting==2) triple-faults, matching real hardware's
// double/triple-fault cascade, simplified to a single depth counter rather
// than tracking which specific vector is in flight.
func (c *CPU_X86) raiseException(vector byte, errorCode uint32, hasError bool) {
	if c.excNesting >= 2 {
		// Triple fault: the guest is unrecoverable, reset like real
		// hardware's CPU-reset response to a fault during #DF delivery.
		c.Reset()
		return
	}
	if c.excNesting == 1 {
		vector = 8 // #DF
		hasError = true
		errorCode = 0
		c.excNesting = 2
	} else {
		c.excNesting = 1
	}

	if c.sys.CR0&x86CR0PE == 0 {
		c.handleInterrupt(vector)
		return
	}

	c.flagsRebuild()
	c.push32(c.Flags)
	c.push32(uint32(c.CS))
	c.push32(c.EIP)
	if hasError {
		c.push32(errorCode)
	}

	c.setFlag(x86FlagIF, false)
	c.setFlag(x86FlagTF, false)

	gateAddr := c.sys.IDTR.Base + uint32(vector)*8
	lo := c.physRead32(gateAddr)
	hi := c.physRead32(gateAddr + 4)
	offset := (lo & 0xFFFF) | (hi & 0xFFFF0000)
	selector := uint16((lo >> 16) & 0xFFFF)

	c.CS = selector
	c.EIP = offset
}

// pageFault raises #PF (vector 14) for a failed translate(), recording
// the faulting linear address in CR2 and the standard error-code shape:
// bit 1 is set for a write; bit 0 is set when the page is present (a
// write to a read-only mapping) and clear when it is not present. The
// user/supervisor bit (bit 2) is not modelled and is always 0.
func (c *CPU_X86) pageFault(addr uint32, forWrite bool) {
	c.sys.CR2 = addr
	var errCode uint32
	if forWrite {
		errCode |= 1 << 1
		pde := c.physRead32(c.sys.CR3&0xFFFFF000 + (addr>>22)*4)
		present := pde&x86PTEPresent != 0
		if present && !(pde&x86PTEPageSize != 0 && c.sys.CR4&x86CR4PSE != 0) {
			pte := c.physRead32(pde&0xFFFFF000 + ((addr>>12)&0x3FF)*4)
			present = pte&x86PTEPresent != 0
		}
		if present {
			errCode |= 1 << 0
		}
	}
	c.raiseException(14, errCode, true)
}

// -----------------------------------------------------------------------------
// I/O permission checking (IOPL / V86 gating)
// -----------------------------------------------------------------------------

// checkIOPermission reports whether the current privilege context may
// execute an IN/OUT (or INS/OUTS) against port. Real mode always allows
// it. V86 mode requires IOPL==3, per the VME/IOPL-sensitive-instruction
// rule (no per-port TSS I/O bitmap is modeled; any lower IOPL denies the
// entire port space, a documented simplification). Protected, non-V86
// mode approximates CPL from CS's RPL bits (no TSS-based CPL tracking
// exists) and requires CPL<=IOPL. A denial raises #GP(0) and returns
// false; callers must not touch the bus when this returns false.
func (c *CPU_X86) checkIOPermission(port uint16) bool {
	if c.sys.CR0&x86CR0PE == 0 {
		return true
	}
	iopl := (c.Flags & x86FlagIOPL) >> 12
	if c.Flags&x86FlagVM != 0 {
		if iopl == 3 {
			return true
		}
		c.raiseException(13, 0, true)
		return false
	}
	cpl := uint32(c.CS & 3)
	if cpl <= iopl {
		return true
	}
	c.raiseException(13, 0, true)
	return false
}

// -----------------------------------------------------------------------------
// Segment loading and validation
// -----------------------------------------------------------------------------

// loadSegment loads selector into segment register segIdx, validating it
// against the GDT/LDT when running in protected mode (CR0.PE set and not
// V86). Real mode and V86 mode accept any selector unconditionally and
// leave the descriptor cache unpopulated, preserving the flat, zero-base
// addressing the interpreter has always used for those modes.
//
// On a protected-mode validation failure the segment register is left
// untouched and #GP(selector) is raised (#NP, or #SS for SS, when the
// descriptor is not present): per the no-half-loaded-state
// invariant, a rejected load must not partially update CS/the descriptor
// cache. Returns true if the register was updated.
func (c *CPU_X86) loadSegment(segIdx int, selector uint16) bool {
	if c.sys.CR0&x86CR0PE == 0 || c.Flags&x86FlagVM != 0 {
		c.setSeg(segIdx, selector)
		return true
	}

	// A null selector in a data segment is legal (and leaves the
	// descriptor cache invalid, to be caught on first use); CS/SS
	// must never be null.
	index := selector >> 3
	if index == 0 {
		if segIdx == x86SegCS || segIdx == x86SegSS {
			c.raiseException(13, uint32(selector), true)
			return false
		}
		c.setSeg(segIdx, selector)
		c.sys.seg[segIdx] = descCache{}
		return true
	}

	var tableBase uint32
	var tableLimit uint32
	if selector&4 != 0 {
		tableBase = c.sys.LDTR.Base
		tableLimit = uint32(c.sys.LDTR.Limit)
	} else {
		tableBase = c.sys.GDTR.Base
		tableLimit = uint32(c.sys.GDTR.Limit)
	}
	entryAddr := tableBase + uint32(index)*8
	if uint32(index)*8+7 > tableLimit {
		c.raiseException(13, uint32(selector), true)
		return false
	}

	lo := c.physRead32(entryAddr)
	hi := c.physRead32(entryAddr + 4)

	access := byte(hi >> 8)
	if access&0x80 == 0 { // present bit
		vector := byte(11) // #NP
		if segIdx == x86SegSS {
			vector = 12 // #SS
		}
		c.raiseException(vector, uint32(selector), true)
		return false
	}

	limit := (lo & 0xFFFF) | (hi & 0x000F0000)
	base := (lo >> 16) | ((hi & 0xFF) << 16) | (hi & 0xFF000000)
	if hi&(1<<23) != 0 { // G bit: limit is in 4KB units
		limit = (limit << 12) | 0xFFF
	}

	c.setSeg(segIdx, selector)
	c.sys.seg[segIdx] = descCache{Base: base, Limit: limit, Access: access, valid: true}
	return true
}

// -----------------------------------------------------------------------------
// MOV to/from control and debug registers (0F 20-23)
// -----------------------------------------------------------------------------

func (c *CPU_X86) opMOV_Rd_Cd() {
	c.fetchModRM()
	cr := c.getModRMReg() & 7
	var v uint32
	switch cr {
	case 0:
		v = c.sys.CR0
	case 2:
		v = c.sys.CR2
	case 3:
		v = c.sys.CR3
	case 4:
		v = c.sys.CR4
	}
	c.setReg32(c.getModRMRM(), v)
	c.Cycles += 6
}

func (c *CPU_X86) opMOV_Cd_Rd() {
	c.fetchModRM()
	cr := c.getModRMReg() & 7
	v := c.getReg32(c.getModRMRM())
	switch cr {
	case 0:
		prevPG := c.sys.CR0 & x86CR0PG
		c.sys.CR0 = v
		if v&x86CR0PG != prevPG {
			c.flushTLB()
		}
	case 2:
		c.sys.CR2 = v
	case 3:
		c.sys.CR3 = v
		c.flushTLB()
	case 4:
		c.sys.CR4 = v
		c.flushTLB()
	}
	c.Cycles += 6
}

func (c *CPU_X86) opMOV_Rd_Dd() {
	c.fetchModRM()
	c.setReg32(c.getModRMRM(), c.sys.DR[c.getModRMReg()&7])
	c.Cycles += 6
}

func (c *CPU_X86) opMOV_Dd_Rd() {
	c.fetchModRM()
	c.sys.DR[c.getModRMReg()&7] = c.getReg32(c.getModRMRM())
	c.Cycles += 6
}

func (c *CPU_X86) opCLTS() {
	c.sys.CR0 &^= x86CR0TS
	c.Cycles += 2
}

func (c *CPU_X86) opWBINVD() {
	// No guest-visible cache model to invalidate; cycle-accurate only.
	c.Cycles += 2
}

// -----------------------------------------------------------------------------
// Descriptor table instructions: Grp7 (0F 01) dispatches on the ModR/M
// reg field: 0=SGDT 1=SIDT 2=LGDT 3=LIDT 4=SMSW 6=LMSW 7=INVLPG.
// -----------------------------------------------------------------------------

func (c *CPU_X86) opGrp7() {
	c.fetchModRM()
	switch c.getModRMReg() & 7 {
	case 0:
		addr := c.getEffectiveAddress()
		c.write16(addr, c.sys.GDTR.Limit)
		c.write32(addr+2, c.sys.GDTR.Base)
	case 1:
		addr := c.getEffectiveAddress()
		c.write16(addr, c.sys.IDTR.Limit)
		c.write32(addr+2, c.sys.IDTR.Base)
	case 2:
		addr := c.getEffectiveAddress()
		c.sys.GDTR.Limit = c.read16(addr)
		c.sys.GDTR.Base = c.read32(addr + 2)
	case 3:
		addr := c.getEffectiveAddress()
		c.sys.IDTR.Limit = c.read16(addr)
		c.sys.IDTR.Base = c.read32(addr + 2)
	case 4:
		if c.getModRMMod() == 3 {
			c.setReg16(c.getModRMRM(), uint16(c.sys.CR0))
		} else {
			c.write16(c.getEffectiveAddress(), uint16(c.sys.CR0))
		}
	case 6:
		var v uint16
		if c.getModRMMod() == 3 {
			v = c.getReg16(c.getModRMRM())
		} else {
			v = c.read16(c.getEffectiveAddress())
		}
		c.sys.CR0 = (c.sys.CR0 &^ 0xFFFF) | uint32(v)
	case 7:
		addr := c.getEffectiveAddress()
		c.invalidatePage(addr)
	}
	c.Cycles += 4
}

// Grp6 (0F 00): 0=SLDT 1=STR 2=LLDT 3=LTR 4=VERR 5=VERW.
func (c *CPU_X86) opGrp6() {
	c.fetchModRM()
	switch c.getModRMReg() & 7 {
	case 0:
		c.writeRM16(c.sys.LDTR.Selector)
	case 1:
		c.writeRM16(c.sys.TR.Selector)
	case 2:
		sel := c.readRM16()
		c.sys.LDTR.Selector = sel
		// Load the LDT descriptor's base and limit out of the GDT so
		// loadSegment can walk LDT-relative selectors.
		entry := c.sys.GDTR.Base + uint32(sel>>3)*8
		lo, hi := c.physRead32(entry), c.physRead32(entry+4)
		c.sys.LDTR.Base = (lo >> 16) | ((hi & 0xFF) << 16) | (hi & 0xFF000000)
		c.sys.LDTR.Limit = uint16(lo & 0xFFFF)
	case 3:
		c.sys.TR.Selector = c.readRM16()
	case 4, 5:
		// VERR/VERW: without full descriptor-table parsing, report
		// "not verifiable" by clearing ZF.
		c.readRM16()
		c.setFlag(x86FlagZF, false)
	}
	c.Cycles += 4
}

// -----------------------------------------------------------------------------
// CPUID (0F A2) and RDTSC (0F 31)
// -----------------------------------------------------------------------------

func (c *CPU_X86) opCPUID() {
	switch c.EAX {
	case 0:
		c.EAX = 1
		c.EBX = uint32(c.sys.vendor[0]) | uint32(c.sys.vendor[1])<<8 | uint32(c.sys.vendor[2])<<16 | uint32(c.sys.vendor[3])<<24
		c.EDX = uint32(c.sys.vendor[4]) | uint32(c.sys.vendor[5])<<8 | uint32(c.sys.vendor[6])<<16 | uint32(c.sys.vendor[7])<<24
		c.ECX = uint32(c.sys.vendor[8]) | uint32(c.sys.vendor[9])<<8 | uint32(c.sys.vendor[10])<<16 | uint32(c.sys.vendor[11])<<24
	case 1:
		c.EAX = (c.sys.cpuidFamily << 8) | (c.sys.cpuidModel << 4) | c.sys.cpuidStepping
		c.EBX = 0
		c.ECX = 0
		c.EDX = c.sys.cpuidFeatureEDX
	default:
		c.EAX, c.EBX, c.ECX, c.EDX = 0, 0, 0, 0
	}
	c.Cycles += 14
}

func (c *CPU_X86) opRDTSC() {
	c.EAX = uint32(c.Cycles)
	c.EDX = uint32(c.Cycles >> 32)
	c.Cycles += 3
}

// -----------------------------------------------------------------------------
// System Management Mode: SMI entry and RSM.
// -----------------------------------------------------------------------------

// EnterSMM saves visible CPU state into the SMRAM state-save area at
// SMBASE+0x10000-0x100 (the standard 386/486 SMM layout) and switches
// execution to SMBASE:0x8000, per spec's SMM entry/exit contract. The
// host (chipset SMI# line) decides when to call this; the CPU itself
// has no SMI pin model beyond this hook.
func (c *CPU_X86) EnterSMM() {
	if c.sys.smmActive {
		return
	}
	c.sys.smmActive = true
	base := c.sys.smBase + 0x10000
	save := func(off uint32, v uint32) { c.write32(base-off, v) }
	save(0x08, c.EAX)
	save(0x0C, c.ECX)
	save(0x10, c.EDX)
	save(0x14, c.EBX)
	save(0x18, c.ESP)
	save(0x1C, c.EBP)
	save(0x20, c.ESI)
	save(0x24, c.EDI)
	save(0x28, c.EIP)
	c.flagsRebuild()
	save(0x2C, c.Flags)
	save(0x30, c.sys.CR0)
	save(0x34, c.sys.CR3)
	save(0x38, uint32(c.CS))
	save(0x3C, uint32(c.SS))

	c.CS = uint16(c.sys.smBase >> 4)
	c.EIP = 0x8000
}

// ExecRSM restores CPU state from the SMRAM save area and leaves SMM.
func (c *CPU_X86) ExecRSM() {
	if !c.sys.smmActive {
		return
	}
	base := c.sys.smBase + 0x10000
	load := func(off uint32) uint32 { return c.read32(base - off) }
	c.EAX = load(0x08)
	c.ECX = load(0x0C)
	c.EDX = load(0x10)
	c.EBX = load(0x14)
	c.ESP = load(0x18)
	c.EBP = load(0x1C)
	c.ESI = load(0x20)
	c.EDI = load(0x24)
	c.EIP = load(0x28)
	c.Flags = load(0x2C)
	c.lazyOp = lazyOpNone
	c.sys.CR0 = load(0x30)
	c.sys.CR3 = load(0x34)
	c.flushTLB()
	c.CS = uint16(load(0x38))
	c.SS = uint16(load(0x3C))
	c.sys.smmActive = false
}

func (c *CPU_X86) opRSM() {
	c.ExecRSM()
	c.Cycles += 30
}
