// debug_x86.go - x86 debug adapter for the machine monitor.
//
// Grounded on debug_cpu_x86.go's DebugX86: same breakpoint/watchpoint
// maps and trap-loop design, retargeted from the teacher's CPU_X86
// (which exposed an unexported `bus` field reachable only from within
// package main) to internal/cpu's exported PeekPhysByte/PokePhysByte/
// PC/Running/SetRunning/Step surface, since this monitor lives in its
// own package.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package monitor

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/intuitionamiga/pccore/internal/cpu"
)

// DebugX86 adapts a *cpu.CPU_X86 to DebuggableCPU.
type DebugX86 struct {
	cpu *cpu.CPU_X86

	bpMu        sync.RWMutex
	breakpoints map[uint64]*ConditionalBreakpoint
	watchpoints map[uint64]*Watchpoint
	bpChan      chan<- BreakpointEvent

	trapRunning atomic.Bool
	trapStop    chan struct{}
}

// NewDebugX86 wraps c for monitor use.
func NewDebugX86(c *cpu.CPU_X86) *DebugX86 {
	return &DebugX86{
		cpu:         c,
		breakpoints: make(map[uint64]*ConditionalBreakpoint),
		watchpoints: make(map[uint64]*Watchpoint),
	}
}

func (d *DebugX86) GetRegisters() []RegisterInfo {
	c := d.cpu
	return []RegisterInfo{
		{Name: "EAX", BitWidth: 32, Value: uint64(c.EAX)},
		{Name: "EBX", BitWidth: 32, Value: uint64(c.EBX)},
		{Name: "ECX", BitWidth: 32, Value: uint64(c.ECX)},
		{Name: "EDX", BitWidth: 32, Value: uint64(c.EDX)},
		{Name: "ESI", BitWidth: 32, Value: uint64(c.ESI)},
		{Name: "EDI", BitWidth: 32, Value: uint64(c.EDI)},
		{Name: "EBP", BitWidth: 32, Value: uint64(c.EBP)},
		{Name: "ESP", BitWidth: 32, Value: uint64(c.ESP)},
		{Name: "EIP", BitWidth: 32, Value: uint64(c.EIP)},
		{Name: "EFLAGS", BitWidth: 32, Value: uint64(c.Flags)},
		{Name: "CS", BitWidth: 16, Value: uint64(c.CS)},
		{Name: "DS", BitWidth: 16, Value: uint64(c.DS)},
		{Name: "ES", BitWidth: 16, Value: uint64(c.ES)},
		{Name: "SS", BitWidth: 16, Value: uint64(c.SS)},
		{Name: "FS", BitWidth: 16, Value: uint64(c.FS)},
		{Name: "GS", BitWidth: 16, Value: uint64(c.GS)},
	}
}

func (d *DebugX86) GetRegister(name string) (uint64, bool) {
	c := d.cpu
	switch strings.ToUpper(name) {
	case "EAX":
		return uint64(c.EAX), true
	case "EBX":
		return uint64(c.EBX), true
	case "ECX":
		return uint64(c.ECX), true
	case "EDX":
		return uint64(c.EDX), true
	case "ESI":
		return uint64(c.ESI), true
	case "EDI":
		return uint64(c.EDI), true
	case "EBP":
		return uint64(c.EBP), true
	case "ESP":
		return uint64(c.ESP), true
	case "EIP", "PC":
		return uint64(c.EIP), true
	case "FLAGS", "EFLAGS":
		return uint64(c.Flags), true
	case "CS":
		return uint64(c.CS), true
	case "DS":
		return uint64(c.DS), true
	case "ES":
		return uint64(c.ES), true
	case "SS":
		return uint64(c.SS), true
	case "FS":
		return uint64(c.FS), true
	case "GS":
		return uint64(c.GS), true
	}
	return 0, false
}

func (d *DebugX86) SetRegister(name string, value uint64) bool {
	c := d.cpu
	switch strings.ToUpper(name) {
	case "EAX":
		c.EAX = uint32(value)
	case "EBX":
		c.EBX = uint32(value)
	case "ECX":
		c.ECX = uint32(value)
	case "EDX":
		c.EDX = uint32(value)
	case "ESI":
		c.ESI = uint32(value)
	case "EDI":
		c.EDI = uint32(value)
	case "EBP":
		c.EBP = uint32(value)
	case "ESP":
		c.ESP = uint32(value)
	case "EIP", "PC":
		c.EIP = uint32(value)
	case "FLAGS", "EFLAGS":
		c.Flags = uint32(value)
	case "CS":
		c.CS = uint16(value)
	case "DS":
		c.DS = uint16(value)
	case "ES":
		c.ES = uint16(value)
	case "SS":
		c.SS = uint16(value)
	case "FS":
		c.FS = uint16(value)
	case "GS":
		c.GS = uint16(value)
	default:
		return false
	}
	return true
}

func (d *DebugX86) GetPC() uint64     { return uint64(d.cpu.EIP) }
func (d *DebugX86) SetPC(addr uint64) { d.cpu.EIP = uint32(addr) }

func (d *DebugX86) IsRunning() bool {
	return d.cpu.Running() || d.trapRunning.Load()
}

func (d *DebugX86) Halted() bool {
	return d.cpu.Halted
}

// Freeze stops execution, preserving state: if a breakpoint/watchpoint
// trap loop owns the CPU it is asked to stop and waited out, otherwise
// the CPU's own run flag is cleared directly.
func (d *DebugX86) Freeze() {
	if d.trapRunning.Load() {
		close(d.trapStop)
		for d.trapRunning.Load() {
		}
		return
	}
	d.cpu.SetRunning(false)
}

// Resume restarts execution: through a trap loop if any breakpoints or
// watchpoints are armed (so they can be checked every instruction),
// otherwise by setting the CPU's run flag directly.
func (d *DebugX86) Resume() {
	d.bpMu.RLock()
	hasBP := len(d.breakpoints) > 0 || len(d.watchpoints) > 0
	d.bpMu.RUnlock()
	if hasBP {
		d.trapStop = make(chan struct{})
		d.trapRunning.Store(true)
		go d.trapLoop()
		return
	}
	d.cpu.SetRunning(true)
}

func (d *DebugX86) trapLoop() {
	defer d.trapRunning.Store(false)
	d.cpu.SetRunning(true)
	d.cpu.Halted = false
	for {
		select {
		case <-d.trapStop:
			d.cpu.SetRunning(false)
			return
		default:
		}

		d.bpMu.RLock()
		bp := d.breakpoints[uint64(d.cpu.EIP)]
		d.bpMu.RUnlock()
		if bp != nil {
			bp.HitCount++
			if evaluateConditionWithHitCount(bp.Condition, d, bp.HitCount) {
				d.cpu.SetRunning(false)
				d.publish(BreakpointEvent{Address: uint64(d.cpu.EIP)})
				return
			}
		}

		if d.cpu.Step() == 0 {
			d.cpu.SetRunning(false)
			return
		}

		d.bpMu.RLock()
		for _, wp := range d.watchpoints {
			cur := d.cpu.PeekPhysByte(uint32(wp.Address))
			if cur != wp.LastValue {
				old := wp.LastValue
				wp.LastValue = cur
				d.bpMu.RUnlock()
				d.cpu.SetRunning(false)
				d.publish(BreakpointEvent{
					Address: uint64(d.cpu.EIP), IsWatch: true,
					WatchAddr: wp.Address, WatchOldValue: old, WatchNewValue: cur,
				})
				return
			}
		}
		d.bpMu.RUnlock()
	}
}

func (d *DebugX86) publish(ev BreakpointEvent) {
	if d.bpChan == nil {
		return
	}
	select {
	case d.bpChan <- ev:
	default:
	}
}

func (d *DebugX86) Step() int { return d.cpu.Step() }

func (d *DebugX86) Disassemble(addr uint64, count int) []DisassembledLine {
	pc := uint64(d.cpu.EIP)
	mode32 := d.cpu.Mode() == 1
	decoded := cpu.DisassembleRange(d.cpu, uint32(addr), count, mode32)
	lines := make([]DisassembledLine, len(decoded))
	for i, l := range decoded {
		hex := make([]byte, 0, len(l.Bytes)*2)
		for _, b := range l.Bytes {
			hex = append(hex, "0123456789ABCDEF"[b>>4], "0123456789ABCDEF"[b&0xF])
		}
		lines[i] = disassembledLineFrom(l, string(hex))
		lines[i].IsPC = uint64(l.Address) == pc
	}
	return lines
}

// disassembledLineFrom converts a cpu.DisasmLine into the monitor's
// display type.
func disassembledLineFrom(l cpu.DisasmLine, hexBytes string) DisassembledLine {
	return DisassembledLine{
		Address:      uint64(l.Address),
		HexBytes:     hexBytes,
		Mnemonic:     l.Mnemonic,
		Size:         l.Size,
		IsBranch:     l.IsBranch,
		BranchTarget: uint64(l.Target),
	}
}

func (d *DebugX86) SetBreakpoint(addr uint64) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	d.breakpoints[addr] = &ConditionalBreakpoint{Address: addr}
	return true
}

func (d *DebugX86) SetConditionalBreakpoint(addr uint64, cond *BreakpointCondition) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	d.breakpoints[addr] = &ConditionalBreakpoint{Address: addr, Condition: cond}
	return true
}

func (d *DebugX86) ClearBreakpoint(addr uint64) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	if _, ok := d.breakpoints[addr]; ok {
		delete(d.breakpoints, addr)
		return true
	}
	return false
}

func (d *DebugX86) ClearAllBreakpoints() {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	d.breakpoints = make(map[uint64]*ConditionalBreakpoint)
}

func (d *DebugX86) ListBreakpoints() []uint64 {
	d.bpMu.RLock()
	defer d.bpMu.RUnlock()
	result := make([]uint64, 0, len(d.breakpoints))
	for addr := range d.breakpoints {
		result = append(result, addr)
	}
	return result
}

func (d *DebugX86) GetConditionalBreakpoint(addr uint64) *ConditionalBreakpoint {
	d.bpMu.RLock()
	defer d.bpMu.RUnlock()
	return d.breakpoints[addr]
}

func (d *DebugX86) SetWatchpoint(addr uint64) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	d.watchpoints[addr] = &Watchpoint{Address: addr, LastValue: d.cpu.PeekPhysByte(uint32(addr))}
	return true
}

func (d *DebugX86) ClearWatchpoint(addr uint64) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	if _, ok := d.watchpoints[addr]; ok {
		delete(d.watchpoints, addr)
		return true
	}
	return false
}

func (d *DebugX86) ClearAllWatchpoints() {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	d.watchpoints = make(map[uint64]*Watchpoint)
}

func (d *DebugX86) ListWatchpoints() []uint64 {
	d.bpMu.RLock()
	defer d.bpMu.RUnlock()
	result := make([]uint64, 0, len(d.watchpoints))
	for addr := range d.watchpoints {
		result = append(result, addr)
	}
	return result
}

func (d *DebugX86) ReadMemory(addr uint64, size int) []byte {
	result := make([]byte, size)
	for i := range result {
		result[i] = d.cpu.PeekPhysByte(uint32(addr) + uint32(i))
	}
	return result
}

func (d *DebugX86) WriteMemory(addr uint64, data []byte) {
	for i, b := range data {
		d.cpu.PokePhysByte(uint32(addr)+uint32(i), b)
	}
}

func (d *DebugX86) SetBreakpointChannel(ch chan<- BreakpointEvent) {
	d.bpChan = ch
}
