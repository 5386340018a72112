// Package mni implements the foreign-call surface the interpreter's
// MNI opcode dispatches through: a registry of natively implemented
// routines keyed by dotted module.function name, with an optional Lua
// scripting backend consulted for names no native routine claims.
package mni

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/masm-lang/masm/opcode"
	"github.com/masm-lang/masm/vm"
)

// NativeFunc is a foreign routine implemented directly in Go. It
// receives the decoded operand list exactly as the interpreter decoded
// it; reading an operand's value or the address it names goes through
// v.ReadOperand/v.OperandAddress.
type NativeFunc func(v *vm.VM, args []opcode.Value) error

// Registry is a vm.ForeignDispatcher backed by a native function table
// and, optionally, a Lua state loaded with one or more scripts. It is
// not safe for concurrent use, matching the single-threaded VM it
// serves.
type Registry struct {
	native map[string]NativeFunc
	lua    *lua.LState
}

// New creates an empty registry. Call RegisterDefaults to populate the
// built-in modules, or Register/LoadScript to add your own.
func New() *Registry {
	return &Registry{native: make(map[string]NativeFunc)}
}

// Register adds a natively implemented routine under "module.name".
func (r *Registry) Register(module, name string, fn NativeFunc) {
	r.native[module+"."+name] = fn
}

// LoadScript loads a Lua file into the registry's shared state,
// starting one lazily if this is the first script loaded.
func (r *Registry) LoadScript(path string) error {
	if r.lua == nil {
		r.lua = lua.NewState()
	}
	return r.lua.DoFile(path)
}

// Close releases the Lua state, if one was started.
func (r *Registry) Close() {
	if r.lua != nil {
		r.lua.Close()
	}
}

// UnknownForeignCallError reports an MNI name neither the native table
// nor the Lua backend recognises.
type UnknownForeignCallError struct{ Name string }

func (e *UnknownForeignCallError) Error() string {
	return fmt.Sprintf("mni: unregistered foreign call %q", e.Name)
}

// Call implements vm.ForeignDispatcher: native routines take priority
// over Lua-defined ones of the same name.
func (r *Registry) Call(v *vm.VM, name string, args []opcode.Value) error {
	if fn, ok := r.native[name]; ok {
		return fn(v, args)
	}
	if r.lua != nil {
		handled, err := r.callLua(v, name, args)
		if handled {
			return err
		}
	}
	return &UnknownForeignCallError{Name: name}
}
