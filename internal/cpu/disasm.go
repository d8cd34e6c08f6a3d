// disasm.go - x86 instruction decoding for internal/monitor's
// unassemble command, replacing the teacher's hand-rolled
// debug_disasm_x86.go table with a real decoder.
//
// Grounded on golang.org/x/arch/x86/x86asm, already a direct go.mod
// dependency (spec §9: "golang.org/x/arch/x86/x86asm ... replaces/
// augments the teacher's hand-rolled debug_disasm_x86.go").
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// DisasmLine is one decoded instruction, the unit internal/monitor's
// disassembly view renders.
type DisasmLine struct {
	Address  uint32
	Bytes    []byte
	Mnemonic string
	Size     int
	IsBranch bool
	Target   uint32
}

// ByteSource supplies raw code bytes for decoding; *CPU_X86 satisfies
// this via PeekPhysByte, but it is also how internal/monitor can
// disassemble a loaded image before the machine starts running.
type ByteSource interface {
	PeekPhysByte(addr uint32) byte
}

// DisassembleRange decodes count instructions starting at addr. mode32
// selects 32-bit vs 16-bit decoding (real/V86 mode uses 16-bit operand
// defaults; this engine's flat code model keeps segment prefixes out of
// scope, matching CPU_X86.PC's header-documented simplification).
func DisassembleRange(src ByteSource, addr uint32, count int, mode32 bool) []DisasmLine {
	mode := 16
	if mode32 {
		mode = 32
	}

	lines := make([]DisasmLine, 0, count)
	pc := addr
	for i := 0; i < count; i++ {
		buf := make([]byte, 16)
		for j := range buf {
			buf[j] = src.PeekPhysByte(pc + uint32(j))
		}

		inst, err := x86asm.Decode(buf, mode)
		line := DisasmLine{Address: pc}
		if err != nil || inst.Len == 0 {
			line.Bytes = buf[:1]
			line.Mnemonic = fmt.Sprintf("(bad) db 0x%02X", buf[0])
			line.Size = 1
		} else {
			line.Bytes = buf[:inst.Len]
			line.Size = inst.Len
			line.Mnemonic = x86asm.IntelSyntax(inst, uint64(pc), nil)
			line.IsBranch, line.Target = branchTarget(inst, pc)
		}
		lines = append(lines, line)
		pc += uint32(line.Size)
	}
	return lines
}

// branchTarget reports whether inst is a direct branch/call and, if
// so, its resolved absolute target.
func branchTarget(inst x86asm.Inst, pc uint32) (bool, uint32) {
	switch inst.Op {
	case x86asm.JMP, x86asm.CALL,
		x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ,
		x86asm.JECXZ, x86asm.JE, x86asm.JG, x86asm.JGE, x86asm.JL,
		x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS,
		x86asm.JO, x86asm.JP, x86asm.JS:
	default:
		return false, 0
	}
	if len(inst.Args) == 0 {
		return false, 0
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok {
		return false, 0
	}
	return true, uint32(int64(pc) + int64(inst.Len) + int64(rel))
}
