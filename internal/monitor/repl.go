// repl.go - terminal REPL for the machine monitor.
//
// Grounded on debug_monitor.go's freeze/resume/breakpoint-activation
// design (kept in monitor.go), but driven from a real terminal instead
// of an ebiten overlay: per spec §9's design decision, the teacher's
// hand-rolled `inputLine []byte`/`history []string` fields are replaced
// with github.com/peterh/liner's line editor, and golang.org/x/term
// saves/restores the host terminal's mode around each liner session so
// the monitor's cooked-mode prompt doesn't fight whatever raw-mode
// console the running machine's own serial/keyboard device may have
// left stdin in (terminal_host.go's TerminalHost is the one that does
// that raw-mode switch on the VM side).
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package monitor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"
)

// REPL is an interactive command-line session over a Machine.
type REPL struct {
	m      *Machine
	line   *liner.State
	out    io.Writer
	quit   bool
	script *ScriptEngine
}

// NewREPL builds a REPL over m, writing output to out.
func NewREPL(m *Machine, out io.Writer) *REPL {
	r := &REPL{m: m, line: liner.NewLiner(), out: out}
	r.line.SetCtrlCAborts(true)
	r.script = NewScriptEngine(r)
	return r
}

// Close releases the line editor.
func (r *REPL) Close() { r.line.Close() }

// Run reads and dispatches commands until "quit"/Ctrl-D, restoring the
// host terminal's prior mode (if stdin is a TTY the running machine's
// own console put into raw mode) before prompting, and leaving it as
// found on return.
func (r *REPL) Run() {
	var saved *term.State
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if s, err := term.GetState(fd); err == nil {
			saved = s
		}
	}
	defer func() {
		if saved != nil {
			_ = term.Restore(int(os.Stdin.Fd()), saved)
		}
	}()

	r.m.Activate()
	defer r.m.Deactivate()

	fmt.Fprintln(r.out, "monitor: type ? for help")
	r.showRegisters()

	for !r.quit {
		text, err := r.line.Prompt("(mon) ")
		if err != nil {
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		r.line.AppendHistory(text)
		r.dispatch(text)
	}
}

func (r *REPL) dispatch(line string) {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "?", "help":
		r.showHelp()
	case "q", "quit":
		r.quit = true
	case "r", "regs":
		r.showRegisters()
	case "s", "step":
		n := 1
		if len(args) > 0 {
			if v, err := strconv.Atoi(args[0]); err == nil {
				n = v
			}
		}
		for i := 0; i < n; i++ {
			r.m.CPU().Step()
		}
		r.showRegisters()
	case "c", "continue", "go":
		r.m.Deactivate()
		r.m.CPU().Resume()
		fmt.Fprintln(r.out, "running; breakpoints/watchpoints will stop it")
	case "b", "break":
		r.cmdBreak(args)
	case "bc", "breakif":
		r.cmdBreakIf(args)
	case "clear":
		r.cmdClear(args)
	case "w", "watch":
		r.cmdWatch(args)
	case "bl":
		r.cmdListBreakpoints()
	case "m", "mem":
		r.cmdMem(args)
	case "set":
		r.cmdSet(args)
	case "u", "disasm":
		r.cmdDisasm(args)
	case "script":
		r.cmdScript(args)
	case "save":
		r.cmdSave(args)
	case "load":
		r.cmdLoad(args)
	default:
		fmt.Fprintf(r.out, "unknown command %q (? for help)\n", cmd)
	}
}

func (r *REPL) showHelp() {
	fmt.Fprint(r.out, `commands:
  r, regs                  show registers
  s, step [n]              step n instructions (default 1)
  c, continue              resume execution until a breakpoint/watchpoint
  b, break <addr>          set a breakpoint
  bc, breakif <addr> <c>   set a conditional breakpoint, e.g. EAX==$10
  clear <addr>             clear a breakpoint
  bl                       list breakpoints
  w, watch <addr>          set a write watchpoint
  m, mem <addr> [len]      dump memory
  set <reg> <value>        set a register
  u, disasm <addr> [n]     disassemble n instructions (default 8)
  script <path>            run a Lua automation script
  save <path>              save a snapshot
  load <path>              load a snapshot
  q, quit                  leave the monitor
`)
}

func (r *REPL) showRegisters() {
	for _, reg := range r.m.CPU().GetRegisters() {
		fmt.Fprintf(r.out, "%-7s = $%0*X\n", reg.Name, reg.BitWidth/4, reg.Value)
	}
}

func (r *REPL) cmdBreak(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(r.out, "usage: break <addr>")
		return
	}
	addr, ok := ParseAddress(args[0])
	if !ok {
		fmt.Fprintf(r.out, "bad address %q\n", args[0])
		return
	}
	r.m.CPU().SetBreakpoint(addr)
	fmt.Fprintf(r.out, "breakpoint set at $%X\n", addr)
}

func (r *REPL) cmdBreakIf(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "usage: breakif <addr> <condition>")
		return
	}
	addr, ok := ParseAddress(args[0])
	if !ok {
		fmt.Fprintf(r.out, "bad address %q\n", args[0])
		return
	}
	cond, err := ParseCondition(strings.Join(args[1:], " "))
	if err != nil {
		fmt.Fprintf(r.out, "bad condition: %v\n", err)
		return
	}
	r.m.CPU().SetConditionalBreakpoint(addr, cond)
	fmt.Fprintf(r.out, "conditional breakpoint set at $%X: %s\n", addr, FormatCondition(cond))
}

func (r *REPL) cmdClear(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(r.out, "usage: clear <addr>")
		return
	}
	addr, ok := ParseAddress(args[0])
	if !ok {
		fmt.Fprintf(r.out, "bad address %q\n", args[0])
		return
	}
	if r.m.CPU().ClearBreakpoint(addr) {
		fmt.Fprintf(r.out, "cleared breakpoint at $%X\n", addr)
	} else {
		fmt.Fprintf(r.out, "no breakpoint at $%X\n", addr)
	}
}

func (r *REPL) cmdWatch(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(r.out, "usage: watch <addr>")
		return
	}
	addr, ok := ParseAddress(args[0])
	if !ok {
		fmt.Fprintf(r.out, "bad address %q\n", args[0])
		return
	}
	r.m.CPU().SetWatchpoint(addr)
	fmt.Fprintf(r.out, "watchpoint set at $%X\n", addr)
}

func (r *REPL) cmdListBreakpoints() {
	for _, addr := range r.m.CPU().ListBreakpoints() {
		bp := r.m.CPU().GetConditionalBreakpoint(addr)
		if bp != nil && bp.Condition != nil {
			fmt.Fprintf(r.out, "$%X  if %s  (hit %d)\n", addr, FormatCondition(bp.Condition), bp.HitCount)
		} else {
			fmt.Fprintf(r.out, "$%X\n", addr)
		}
	}
}

func (r *REPL) cmdMem(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(r.out, "usage: mem <addr> [len]")
		return
	}
	addr, ok := ParseAddress(args[0])
	if !ok {
		fmt.Fprintf(r.out, "bad address %q\n", args[0])
		return
	}
	length := 64
	if len(args) > 1 {
		if v, ok := ParseAddress(args[1]); ok {
			length = int(v)
		}
	}
	data := r.m.CPU().ReadMemory(addr, length)
	for i := 0; i < len(data); i += 16 {
		end := min(i+16, len(data))
		fmt.Fprintf(r.out, "%08X: % X\n", addr+uint64(i), data[i:end])
	}
}

func (r *REPL) cmdSet(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "usage: set <reg> <value>")
		return
	}
	value, ok := ParseAddress(args[1])
	if !ok {
		fmt.Fprintf(r.out, "bad value %q\n", args[1])
		return
	}
	if !r.m.CPU().SetRegister(args[0], value) {
		fmt.Fprintf(r.out, "unknown register %q\n", args[0])
		return
	}
	r.showRegisters()
}

func (r *REPL) cmdDisasm(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(r.out, "usage: disasm <addr> [count]")
		return
	}
	addr, ok := ParseAddress(args[0])
	if !ok {
		fmt.Fprintf(r.out, "bad address %q\n", args[0])
		return
	}
	count := 8
	if len(args) > 1 {
		if v, err := strconv.Atoi(args[1]); err == nil {
			count = v
		}
	}
	for _, l := range r.m.CPU().Disassemble(addr, count) {
		marker := " "
		if l.IsPC {
			marker = ">"
		}
		fmt.Fprintf(r.out, "%s%08X  %-24s  %s\n", marker, l.Address, l.HexBytes, l.Mnemonic)
	}
}

func (r *REPL) cmdScript(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(r.out, "usage: script <path>")
		return
	}
	if err := r.script.RunFile(args[0]); err != nil {
		fmt.Fprintf(r.out, "script error: %v\n", err)
	}
}

func (r *REPL) cmdSave(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(r.out, "usage: save <path>")
		return
	}
	snap := TakeSnapshot(r.m.CPU(), 0, 1<<20)
	if err := SaveSnapshotToFile(snap, args[0]); err != nil {
		fmt.Fprintf(r.out, "save failed: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "saved snapshot to %s\n", args[0])
}

func (r *REPL) cmdLoad(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(r.out, "usage: load <path>")
		return
	}
	snap, err := LoadSnapshotFromFile(args[0])
	if err != nil {
		fmt.Fprintf(r.out, "load failed: %v\n", err)
		return
	}
	RestoreSnapshot(r.m.CPU(), snap)
	fmt.Fprintf(r.out, "loaded snapshot from %s\n", args[0])
	r.showRegisters()
}
