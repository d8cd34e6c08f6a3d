// interface.go - DebuggableCPU interface and supporting types for the
// machine monitor.
//
// Grounded on debug_interface.go, trimmed to this core's single x86
// target (the teacher's multi-architecture Group/BitWidth fields and
// MonitorAttachable overlay hook served a 6-CPU-family emulator; this
// core has one CPU type, so those are dropped rather than carried as
// unused surface).
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package monitor

// RegisterInfo describes a single CPU register for display.
type RegisterInfo struct {
	Name     string
	BitWidth int
	Value    uint64
}

// DisassembledLine is one decoded instruction for the "u" command.
type DisassembledLine struct {
	Address      uint64
	HexBytes     string
	Mnemonic     string
	Size         int
	IsPC         bool
	IsBranch     bool
	BranchTarget uint64
}

// BreakpointEvent is published when the CPU hits a breakpoint or
// watchpoint during execution.
type BreakpointEvent struct {
	Address uint64

	IsWatch       bool
	WatchAddr     uint64
	WatchOldValue byte
	WatchNewValue byte
}

// ConditionOp is a breakpoint condition's comparison operator.
type ConditionOp int

const (
	CondOpEqual ConditionOp = iota
	CondOpNotEqual
	CondOpLess
	CondOpGreater
	CondOpLessEqual
	CondOpGreaterEqual
)

// ConditionSource is what a breakpoint condition compares.
type ConditionSource int

const (
	CondSourceRegister ConditionSource = iota
	CondSourceMemory
	CondSourceHitCount
)

// BreakpointCondition is a conditional expression guarding a
// breakpoint.
type BreakpointCondition struct {
	Source  ConditionSource
	RegName string
	MemAddr uint64
	Op      ConditionOp
	Value   uint64
}

// ConditionalBreakpoint associates a breakpoint with an optional
// condition.
type ConditionalBreakpoint struct {
	Address   uint64
	Condition *BreakpointCondition
	HitCount  uint64
}

// Watchpoint is a write watchpoint on a memory address.
type Watchpoint struct {
	Address   uint64
	LastValue byte
}

// DebuggableCPU is the interface the monitor drives; internal/cpu's
// CPU_X86 is wrapped to satisfy it via DebugX86 in debug_x86.go.
type DebuggableCPU interface {
	GetRegisters() []RegisterInfo
	GetRegister(name string) (uint64, bool)
	SetRegister(name string, value uint64) bool
	GetPC() uint64
	SetPC(addr uint64)

	IsRunning() bool
	Freeze()
	Resume()
	Halted() bool

	Step() int

	Disassemble(addr uint64, count int) []DisassembledLine

	SetBreakpoint(addr uint64) bool
	SetConditionalBreakpoint(addr uint64, cond *BreakpointCondition) bool
	ClearBreakpoint(addr uint64) bool
	ClearAllBreakpoints()
	ListBreakpoints() []uint64
	GetConditionalBreakpoint(addr uint64) *ConditionalBreakpoint

	SetWatchpoint(addr uint64) bool
	ClearWatchpoint(addr uint64) bool
	ClearAllWatchpoints()
	ListWatchpoints() []uint64

	ReadMemory(addr uint64, size int) []byte
	WriteMemory(addr uint64, data []byte)

	SetBreakpointChannel(ch chan<- BreakpointEvent)
}
