// Package callgw implements the three call gateways named in the
// component design: applying a closure, applying an export (which may
// resolve to Erlang code or a native function), and the shared arity
// checks and frozen-variable copying both paths need. The dispatcher's
// call-family opcodes are thin wrappers around these functions; keeping
// the gateways separate from opcode decoding lets make_fun2/call_fun and
// call_ext/call_ext_only share the exact same resolution logic.
package callgw

import (
	"beamrt/internal/atomtable"
	"beamrt/internal/codeserver"
	"beamrt/internal/heap"
	"beamrt/internal/nativefn"
	"beamrt/internal/object"
	"beamrt/internal/process"
	"beamrt/internal/term"
	"beamrt/internal/vmerrors"
)

// ApplyClosure implements the closure half of call_fun(arity): the
// caller has already placed arity arguments in X[0..arity-1] and the
// closure itself in x[arity]. It copies the closure's frozen variables
// into the registers just above the call arguments, verifies the
// combined arity matches the closure's declared arity, resolves the
// code pointer on first call (caching it on the closure object
// afterward), and returns the target code index plus the module the
// closure belongs to (the dispatcher needs this to keep the runtime
// context's current-module atom in sync with ip).
func ApplyClosure(x []term.Term, h *heap.Heap, closure term.Term, arity int, code *codeserver.Server, at *atomtable.Table) (codeIdx uint64, module term.Term, exc *vmerrors.Exception) {
	if !object.IsClosure(h, closure) {
		return 0, 0, vmerrors.Badfun(at, h, closure)
	}
	nfrozen := object.ClosureNFrozen(h, closure)
	if arity+nfrozen != object.ClosureArity(h, closure) {
		return 0, 0, vmerrors.Badarity(at)
	}
	for i := 0; i < nfrozen; i++ {
		x[arity+i] = object.ClosureFrozen(h, closure, i)
	}
	module = object.ClosureModule(h, closure)
	if idx, resolved := object.ClosureCodePtr(h, closure); resolved {
		return idx, module, nil
	}
	function := object.ClosureFunction(h, closure)
	mfa := codeserver.MFA{Module: module, Function: function, Arity: arity + nfrozen}
	idx, _, ok := code.Resolve(mfa)
	if !ok {
		return 0, 0, vmerrors.Undef(at)
	}
	object.SetClosureCodePtr(h, closure, idx)
	return idx, module, nil
}

// ApplyExport implements call_ext's resolution order: the native-
// function registry is consulted first (the native-fn registry is an
// external collaborator standing in for host-implemented BIFs), and
// only once it reports no such MFA does the gateway fall through to the
// code server. A native hit runs synchronously and is reported via
// result/isNative=true; an Erlang-code hit instead returns a jump
// target, mirroring the export path's single resolve-then-cache code
// pointer (cached on the Export object itself when export is non-zero,
// i.e. the call came through an Export term rather than a bare MFA from
// an import-table entry).
func ApplyExport(vmHandle interface{}, proc *process.Process, mfa codeserver.MFA, args []term.Term, export term.Term, h *heap.Heap, code *codeserver.Server, natives *nativefn.Registry, at *atomtable.Table) (codeIdx uint64, isNative bool, result term.Term, exc *vmerrors.Exception) {
	if natives.Exists(mfa) {
		v, nativeExc, _ := natives.Call(mfa, vmHandle, proc, args)
		if nativeExc != nil {
			return 0, true, 0, nativeExc
		}
		return 0, true, v, nil
	}
	if export != 0 && object.IsExport(h, export) {
		if idx, resolved := object.ExportCodePtr(h, export); resolved {
			return idx, false, 0, nil
		}
	}
	idx, _, ok := code.Resolve(mfa)
	if !ok {
		return 0, false, 0, vmerrors.Undef(at)
	}
	if export != 0 && object.IsExport(h, export) {
		object.SetExportCodePtr(h, export, idx)
	}
	return idx, false, 0, nil
}
