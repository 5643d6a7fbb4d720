// Package nativefn is the external-collaborator stand-in for the
// native (host-implemented) function registry: a lookup from MFA to a
// Go closure that callgw.ApplyExport consults first, before the code
// server.
package nativefn

import (
	"beamrt/internal/codeserver"
	"beamrt/internal/process"
	"beamrt/internal/term"
	"beamrt/internal/vmerrors"
)

// Func is the native-function contract: a mutable VM handle (opaque
// here so this package never imports the dispatcher — the handle's
// concrete type is whatever the caller wired in, usually *vm.VM),
// the current process, and its argument slice.
type Func func(vmHandle interface{}, proc *process.Process, args []term.Term) (term.Term, *vmerrors.Exception)

// Registry maps MFAs to native implementations.
type Registry struct {
	funcs map[codeserver.MFA]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[codeserver.MFA]Func)}
}

func (r *Registry) Register(mfa codeserver.MFA, fn Func) {
	r.funcs[mfa] = fn
}

func (r *Registry) Exists(mfa codeserver.MFA) bool {
	_, ok := r.funcs[mfa]
	return ok
}

// Call invokes the registered function; ok is false if no such MFA was
// registered (the caller raises undef in that case).
func (r *Registry) Call(mfa codeserver.MFA, vmHandle interface{}, proc *process.Process, args []term.Term) (term.Term, *vmerrors.Exception, bool) {
	fn, ok := r.funcs[mfa]
	if !ok {
		return 0, nil, false
	}
	v, exc := fn(vmHandle, proc, args)
	return v, exc, true
}
