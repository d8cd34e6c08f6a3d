// monitor_test.go - tests for the machine monitor: condition parsing,
// the DebugX86 adapter, and the Lua script engine.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package monitor

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/intuitionamiga/pccore/internal/cpu"
)

// testBus is a flat 1MB memory/port space, grounded on
// internal/cpu's own TestX86Bus.
type testBus struct {
	memory [1024 * 1024]byte
	ports  [65536]byte
}

func (b *testBus) Read(addr uint32) byte {
	if addr < uint32(len(b.memory)) {
		return b.memory[addr]
	}
	return 0
}

func (b *testBus) Write(addr uint32, value byte) {
	if addr < uint32(len(b.memory)) {
		b.memory[addr] = value
	}
}

func (b *testBus) In(port uint16) byte         { return b.ports[port] }
func (b *testBus) Out(port uint16, value byte) { b.ports[port] = value }
func (b *testBus) Tick(cycles int)             {}

func newTestDebugX86() *DebugX86 {
	bus := &testBus{}
	c := cpu.NewCPU_X86(bus)
	return NewDebugX86(c)
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, c *BreakpointCondition)
	}{
		{
			name:  "register equal",
			input: "EAX==$FF",
			check: func(t *testing.T, c *BreakpointCondition) {
				if c.Source != CondSourceRegister || c.RegName != "EAX" || c.Op != CondOpEqual || c.Value != 0xFF {
					t.Errorf("got %+v", c)
				}
			},
		},
		{
			name:  "memory not equal",
			input: "[$1000]!=$42",
			check: func(t *testing.T, c *BreakpointCondition) {
				if c.Source != CondSourceMemory || c.MemAddr != 0x1000 || c.Op != CondOpNotEqual || c.Value != 0x42 {
					t.Errorf("got %+v", c)
				}
			},
		},
		{
			name:  "hitcount greater",
			input: "hitcount>10",
			check: func(t *testing.T, c *BreakpointCondition) {
				if c.Source != CondSourceHitCount || c.Op != CondOpGreater || c.Value != 10 {
					t.Errorf("got %+v", c)
				}
			},
		},
		{
			name:    "no operator",
			input:   "EAX",
			wantErr: true,
		},
		{
			name:    "bad value",
			input:   "EAX==bogus",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := ParseCondition(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, cond)
		})
	}
}

func TestFormatCondition_RoundTrip(t *testing.T) {
	cond, err := ParseCondition("ECX>=$20")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := FormatCondition(cond)
	want := "ECX>=$20"
	if got != want {
		t.Errorf("FormatCondition = %q, want %q", got, want)
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input   string
		want    uint64
		wantOK  bool
	}{
		{"$1000", 0x1000, true},
		{"0x1000", 0x1000, true},
		{"1000", 1000, true},
		{"nope", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseAddress(tt.input)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("ParseAddress(%q) = (%d, %v), want (%d, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestDebugX86_Registers(t *testing.T) {
	d := newTestDebugX86()

	if !d.SetRegister("EAX", 0x12345678) {
		t.Fatal("SetRegister(EAX) failed")
	}
	v, ok := d.GetRegister("eax")
	if !ok || v != 0x12345678 {
		t.Errorf("GetRegister(eax) = (%d, %v), want (0x12345678, true)", v, ok)
	}
	if _, ok := d.GetRegister("NOPE"); ok {
		t.Error("GetRegister(NOPE) should fail")
	}
	if d.SetRegister("NOPE", 1) {
		t.Error("SetRegister(NOPE) should fail")
	}

	found := false
	for _, r := range d.GetRegisters() {
		if r.Name == "EAX" {
			found = true
			if r.Value != 0x12345678 {
				t.Errorf("GetRegisters EAX = %d, want 0x12345678", r.Value)
			}
		}
	}
	if !found {
		t.Error("GetRegisters did not include EAX")
	}
}

func TestDebugX86_MemoryReadWrite(t *testing.T) {
	d := newTestDebugX86()
	d.WriteMemory(0x1000, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	got := d.ReadMemory(0x1000, 4)
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadMemory = % X, want % X", got, want)
	}
}

func TestDebugX86_Breakpoints(t *testing.T) {
	d := newTestDebugX86()

	if !d.SetBreakpoint(0x100) {
		t.Fatal("SetBreakpoint failed")
	}
	list := d.ListBreakpoints()
	if len(list) != 1 || list[0] != 0x100 {
		t.Errorf("ListBreakpoints = %v, want [0x100]", list)
	}
	if bp := d.GetConditionalBreakpoint(0x100); bp == nil || bp.Condition != nil {
		t.Errorf("GetConditionalBreakpoint = %+v, want unconditional", bp)
	}
	if !d.ClearBreakpoint(0x100) {
		t.Error("ClearBreakpoint should report success")
	}
	if d.ClearBreakpoint(0x100) {
		t.Error("ClearBreakpoint on an already-cleared address should report failure")
	}

	cond, err := ParseCondition("EAX==$1")
	if err != nil {
		t.Fatalf("ParseCondition: %v", err)
	}
	d.SetConditionalBreakpoint(0x200, cond)
	d.SetBreakpoint(0x300)
	d.ClearAllBreakpoints()
	if len(d.ListBreakpoints()) != 0 {
		t.Error("ClearAllBreakpoints left breakpoints behind")
	}
}

func TestDebugX86_Watchpoints(t *testing.T) {
	d := newTestDebugX86()

	if !d.SetWatchpoint(0x500) {
		t.Fatal("SetWatchpoint failed")
	}
	list := d.ListWatchpoints()
	if len(list) != 1 || list[0] != 0x500 {
		t.Errorf("ListWatchpoints = %v, want [0x500]", list)
	}
	if !d.ClearWatchpoint(0x500) {
		t.Error("ClearWatchpoint should report success")
	}

	d.SetWatchpoint(0x600)
	d.SetWatchpoint(0x700)
	d.ClearAllWatchpoints()
	if len(d.ListWatchpoints()) != 0 {
		t.Error("ClearAllWatchpoints left watchpoints behind")
	}
}

func TestDebugX86_PCAndHalted(t *testing.T) {
	d := newTestDebugX86()

	d.SetPC(0xABCD)
	if d.GetPC() != 0xABCD {
		t.Errorf("GetPC = %X, want 0xABCD", d.GetPC())
	}
	if d.Halted() {
		t.Error("freshly reset CPU should not report halted")
	}
}

func TestDebugX86_Disassemble(t *testing.T) {
	d := newTestDebugX86()
	// NOP; NOP
	d.WriteMemory(0, []byte{0x90, 0x90})
	d.SetPC(0)

	lines := d.Disassemble(0, 2)
	if len(lines) != 2 {
		t.Fatalf("Disassemble returned %d lines, want 2", len(lines))
	}
	if !lines[0].IsPC {
		t.Error("first line at PC should have IsPC set")
	}
	if !strings.Contains(strings.ToUpper(lines[0].Mnemonic), "NOP") {
		t.Errorf("mnemonic = %q, want it to mention NOP", lines[0].Mnemonic)
	}
}

func TestMachine_ActivateDeactivate(t *testing.T) {
	d := newTestDebugX86()
	m := New("test", d)

	m.Activate()
	if !m.IsActive() {
		t.Fatal("Activate did not mark the machine active")
	}
	m.Deactivate()
	if m.IsActive() {
		t.Fatal("Deactivate left the machine active")
	}
}

func TestScriptEngine_BasicScript(t *testing.T) {
	d := newTestDebugX86()
	d.WriteMemory(0x10, []byte{0x42})

	var out bytes.Buffer
	m := New("test", d)
	repl := NewREPL(m, &out)
	defer repl.Close()

	engine := NewScriptEngine(repl)

	dir := t.TempDir()
	script := dir + "/smoke.lua"
	contents := `
set_reg("EAX", 7)
if get_reg("EAX") ~= 7 then
  error("register round-trip failed")
end
local b = read_byte(0x10)
if b ~= 0x42 then
  error("read_byte mismatch")
end
write_byte(0x11, 99)
print_line("script ok")
`
	if err := os.WriteFile(script, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := engine.RunFile(script); err != nil {
		t.Fatalf("RunFile: %v", err)
	}
	if !strings.Contains(out.String(), "script ok") {
		t.Errorf("script output = %q, want it to contain %q", out.String(), "script ok")
	}
	if got := d.ReadMemory(0x11, 1)[0]; got != 99 {
		t.Errorf("write_byte did not take effect: got %d, want 99", got)
	}
}
