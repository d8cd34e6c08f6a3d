// script.go - Lua-scripted monitor automation, for unattended
// POST-boot smoke tests (spec §8 scenario 1: boot to HLT, assert the
// POST code latch saw 0xFF) and scripted breakpoint actions.
//
// github.com/yuin/gopher-lua was already a direct teacher dependency
// (go.mod) but unwired anywhere in the copied tree; this is its home.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package monitor

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// ScriptEngine runs monitor-automation scripts against a REPL's
// Machine, exposing step/continue/register/memory primitives to Lua.
type ScriptEngine struct {
	repl *REPL
}

// NewScriptEngine builds a script engine bound to repl's machine.
func NewScriptEngine(repl *REPL) *ScriptEngine {
	return &ScriptEngine{repl: repl}
}

// RunFile executes the Lua script at path.
func (s *ScriptEngine) RunFile(path string) error {
	L := lua.NewState()
	defer L.Close()
	s.register(L)
	return L.DoFile(path)
}

func (s *ScriptEngine) register(L *lua.LState) {
	cpu := s.repl.m.CPU()

	L.SetGlobal("step", L.NewFunction(func(L *lua.LState) int {
		n := 1
		if L.GetTop() > 0 {
			n = int(L.CheckNumber(1))
		}
		for i := 0; i < n; i++ {
			cpu.Step()
		}
		return 0
	}))

	L.SetGlobal("get_reg", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		v, ok := cpu.GetRegister(name)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(v))
		return 1
	}))

	L.SetGlobal("set_reg", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		value := uint64(L.CheckNumber(2))
		L.Push(lua.LBool(cpu.SetRegister(name, value)))
		return 1
	}))

	L.SetGlobal("read_byte", L.NewFunction(func(L *lua.LState) int {
		addr := uint64(L.CheckNumber(1))
		data := cpu.ReadMemory(addr, 1)
		L.Push(lua.LNumber(data[0]))
		return 1
	}))

	L.SetGlobal("write_byte", L.NewFunction(func(L *lua.LState) int {
		addr := uint64(L.CheckNumber(1))
		value := byte(L.CheckNumber(2))
		cpu.WriteMemory(addr, []byte{value})
		return 0
	}))

	L.SetGlobal("set_break", L.NewFunction(func(L *lua.LState) int {
		addr := uint64(L.CheckNumber(1))
		L.Push(lua.LBool(cpu.SetBreakpoint(addr)))
		return 1
	}))

	L.SetGlobal("halted", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(cpu.Halted()))
		return 1
	}))

	L.SetGlobal("print_line", L.NewFunction(func(L *lua.LState) int {
		fmt.Fprintln(s.repl.out, L.CheckString(1))
		return 0
	}))
}
