package mni

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/masm-lang/masm/opcode"
	"github.com/masm-lang/masm/vm"
)

func (r *Registry) resolveLua(name string) lua.LValue {
	parts := strings.Split(name, ".")
	val := r.lua.GetGlobal(parts[0])
	for _, part := range parts[1:] {
		tbl, ok := val.(*lua.LTable)
		if !ok {
			return lua.LNil
		}
		val = tbl.RawGetString(part)
	}
	return val
}

// callLua looks up name as a dotted path into the Lua globals and, if
// found, invokes it with each operand's plain numeric value. handled
// reports whether name resolved to a callable at all, so Call can
// distinguish "no such Lua function" from "the function errored."
func (r *Registry) callLua(v *vm.VM, name string, args []opcode.Value) (handled bool, err error) {
	fn := r.resolveLua(name)
	if fn == lua.LNil {
		return false, nil
	}
	if _, ok := fn.(*lua.LFunction); !ok {
		return false, nil
	}

	r.bindVM(v)
	defer r.unbindVM()

	luaArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		n, err := v.ReadOperand(a)
		if err != nil {
			return true, err
		}
		luaArgs[i] = lua.LNumber(n)
	}
	callErr := r.lua.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, luaArgs...)
	if callErr != nil {
		return true, fmt.Errorf("mni: lua call %q: %w", name, callErr)
	}
	return true, nil
}

// bindVM exposes a "vm" table of memory-access helpers to the Lua
// state for the duration of one foreign call, scoped to v.
func (r *Registry) bindVM(v *vm.VM) {
	tbl := r.lua.NewTable()
	r.lua.SetFuncs(tbl, map[string]lua.LGFunction{
		"read_i32": func(L *lua.LState) int {
			addr := uint32(L.CheckNumber(1))
			val, err := v.Mem.Read32(addr)
			if err != nil {
				L.RaiseError("%v", err)
				return 0
			}
			L.Push(lua.LNumber(int32(val)))
			return 1
		},
		"write_i32": func(L *lua.LState) int {
			addr := uint32(L.CheckNumber(1))
			val := uint32(int32(L.CheckNumber(2)))
			if err := v.Mem.Write32(addr, val); err != nil {
				L.RaiseError("%v", err)
			}
			return 0
		},
		"read_string": func(L *lua.LState) int {
			addr := uint32(L.CheckNumber(1))
			s, err := v.Mem.ReadCString(addr)
			if err != nil {
				L.RaiseError("%v", err)
				return 0
			}
			L.Push(lua.LString(s))
			return 1
		},
		"set_zero_flag": func(L *lua.LState) int {
			v.ZeroFlag = L.CheckBool(1)
			return 0
		},
		"set_sign_flag": func(L *lua.LState) int {
			v.SignFlag = L.CheckBool(1)
			return 0
		},
	})
	r.lua.SetGlobal("vm", tbl)
}

func (r *Registry) unbindVM() {
	r.lua.SetGlobal("vm", lua.LNil)
}
