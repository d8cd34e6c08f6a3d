// lazy_flags_test.go - deferred EFLAGS computation unit tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package cpu

import "testing"

func newFlagsTestCPU() *CPU_X86 {
	return NewCPU_X86(NewTestX86Bus())
}

func TestLazyFlags_ArithDeferredUntilRead(t *testing.T) {
	c := newFlagsTestCPU()
	c.setFlagsArith8(0x100, 0xFF, 0x01, false) // 0xFF + 0x01 = 0x100
	if c.lazyOp == lazyOpNone {
		t.Fatal("setFlagsArith8 should leave a pending lazy op, not write flags eagerly")
	}
	if !c.ZF() {
		t.Error("ZF should be set: 0xFF+0x01 wraps to 0x00")
	}
	if !c.CF() {
		t.Error("CF should be set: 0xFF+0x01 carries out of the low byte")
	}
	if c.lazyOp != lazyOpNone {
		t.Error("lazyOp should be cleared once a flag read has rebuilt it")
	}
}

func TestLazyFlags_DirectWriteWinsOverPendingOp(t *testing.T) {
	c := newFlagsTestCPU()
	c.setFlagsArith8(0x02, 0x01, 0x01, false) // would set CF=false if rebuilt
	c.setFlag(x86FlagCF, true)                // e.g. STC executed right after
	if c.lazyOp != lazyOpNone {
		t.Error("a direct setFlag should invalidate the pending lazy op")
	}
	if !c.CF() {
		t.Error("CF should reflect the direct write, not a stale rebuild")
	}
}

func TestLazyFlags_PushfMaterializesBeforePush(t *testing.T) {
	c := newFlagsTestCPU()
	c.ESP = 0x10000
	c.setFlagsArith16(0x10000, 0xFFFF, 0x0001, false) // 0xFFFF+1 -> ZF, CF
	c.opPUSHF()
	got := c.pop32()
	if got&x86FlagZF == 0 {
		t.Error("pushed flags word should have ZF set from the deferred add")
	}
	if got&x86FlagCF == 0 {
		t.Error("pushed flags word should have CF set from the deferred add")
	}
}

func TestLazyFlags_PopfDiscardsPendingOp(t *testing.T) {
	c := newFlagsTestCPU()
	c.ESP = 0x10000
	c.setFlagsArith32(0, 1, 1, true) // SUB 1-1, would rebuild ZF=true
	c.push32(x86FlagCF)              // simulate a stack value with only CF set
	c.opPOPF()
	if c.lazyOp != lazyOpNone {
		t.Error("POPF should discard any pending lazy op")
	}
	if c.ZF() {
		t.Error("ZF should come from the popped word (clear), not a stale rebuild")
	}
	if !c.CF() {
		t.Error("CF should come from the popped word")
	}
}

func TestLazyFlags_SubtractionOverflowAndSign(t *testing.T) {
	c := newFlagsTestCPU()
	// 0x00 - 0x01 on 8 bits: result 0xFF, CF set (borrow), SF set, ZF clear.
	c.setFlagsArith8(0xFFFF, 0x00, 0x01, true)
	if !c.CF() {
		t.Error("CF should be set on borrow")
	}
	if !c.SF() {
		t.Error("SF should be set: result 0xFF has the high bit set")
	}
	if c.ZF() {
		t.Error("ZF should be clear: result is nonzero")
	}
}

func TestLazyFlags_LogicOpsStayEagerAndClearCFOF(t *testing.T) {
	c := newFlagsTestCPU()
	c.setFlag(x86FlagCF, true)
	c.setFlag(x86FlagOF, true)
	c.setFlagsLogic8(0x00)
	if c.CF() || c.OF() {
		t.Error("a logical op must always clear CF and OF")
	}
	if !c.ZF() {
		t.Error("ZF should be set for a zero logic result")
	}
}
