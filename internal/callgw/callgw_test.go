package callgw

import (
	"testing"

	"beamrt/internal/atomtable"
	"beamrt/internal/codeserver"
	"beamrt/internal/heap"
	"beamrt/internal/nativefn"
	"beamrt/internal/object"
	"beamrt/internal/process"
	"beamrt/internal/term"
	"beamrt/internal/vmerrors"
)

func TestApplyClosureArityMismatch(t *testing.T) {
	h := heap.New(256)
	at := atomtable.New()
	code := codeserver.New()
	module := term.FromAtomIndex(1)
	function := term.FromAtomIndex(2)
	closure, _ := object.NewClosure(h, module, function, 2, nil)

	x := make([]term.Term, 8)
	_, _, exc := ApplyClosure(x, h, closure, 3, code, at) // declared arity is 2, called with 3
	if exc == nil {
		t.Fatalf("expected badarity exception")
	}
	if exc.Reason != at.WellKnown(atomtable.Badarity) {
		t.Fatalf("expected badarity reason, got %v", exc.Reason)
	}
}

func TestApplyClosureNotAFunction(t *testing.T) {
	h := heap.New(64)
	at := atomtable.New()
	code := codeserver.New()
	x := make([]term.Term, 4)
	_, _, exc := ApplyClosure(x, h, term.FromSmall(5), 0, code, at)
	if exc == nil {
		t.Fatalf("expected badfun exception for a non-closure term")
	}
	if object.TupleArity(h, exc.Reason) != 2 {
		t.Fatalf("badfun reason should be a {badfun, Value} 2-tuple")
	}
}

func TestApplyClosureResolvesAndCachesCodePointer(t *testing.T) {
	h := heap.New(256)
	at := atomtable.New()
	code := codeserver.New()
	module := term.FromAtomIndex(1)
	function := term.FromAtomIndex(2)
	closure, _ := object.NewClosure(h, module, function, 2, []term.Term{term.FromSmall(9)})

	m := codeserver.NewModule(module, nil, 8)
	m.AddExport(function, 2, 100) // combined arity = called(1) + nfrozen(1) = 2
	code.Load(m)

	x := make([]term.Term, 8)
	idx, gotModule, exc := ApplyClosure(x, h, closure, 1, code, at)
	if exc != nil {
		t.Fatalf("unexpected exception: %v", exc)
	}
	if idx != 100 {
		t.Fatalf("resolved code index = %d, want 100", idx)
	}
	if gotModule != module {
		t.Fatalf("returned module mismatch")
	}
	if x[1] != term.FromSmall(9) {
		t.Fatalf("frozen variable was not copied into the register above the call args")
	}

	// Second call should use the cached code pointer (resolve a now-stale
	// module shouldn't matter since the pointer is cached on the closure).
	idx2, _, exc2 := ApplyClosure(x, h, closure, 1, codeserver.New(), at)
	if exc2 != nil {
		t.Fatalf("unexpected exception on cached path: %v", exc2)
	}
	if idx2 != 100 {
		t.Fatalf("cached code index = %d, want 100", idx2)
	}
}

func TestApplyExportNativeTakesPriority(t *testing.T) {
	at := atomtable.New()
	code := codeserver.New()
	natives := nativefn.NewRegistry()
	h := heap.New(64)
	mfa := codeserver.MFA{Module: term.FromAtomIndex(1), Function: term.FromAtomIndex(2), Arity: 1}
	natives.Register(mfa, func(vmHandle interface{}, proc *process.Process, args []term.Term) (term.Term, *vmerrors.Exception) {
		return args[0], nil
	})

	_, isNative, result, exc := ApplyExport(nil, nil, mfa, []term.Term{term.FromSmall(11)}, 0, h, code, natives, at)
	if exc != nil {
		t.Fatalf("unexpected exception: %v", exc)
	}
	if !isNative {
		t.Fatalf("expected native resolution to take priority")
	}
	if term.AsSmall(result) != 11 {
		t.Fatalf("native result = %v, want 11", result)
	}
}

func TestApplyExportFallsBackToCodeServer(t *testing.T) {
	at := atomtable.New()
	code := codeserver.New()
	natives := nativefn.NewRegistry()
	h := heap.New(64)
	module := term.FromAtomIndex(1)
	function := term.FromAtomIndex(2)
	m := codeserver.NewModule(module, nil, 8)
	m.AddExport(function, 0, 55)
	code.Load(m)

	mfa := codeserver.MFA{Module: module, Function: function, Arity: 0}
	idx, isNative, _, exc := ApplyExport(nil, nil, mfa, nil, 0, h, code, natives, at)
	if exc != nil {
		t.Fatalf("unexpected exception: %v", exc)
	}
	if isNative {
		t.Fatalf("expected non-native resolution")
	}
	if idx != 55 {
		t.Fatalf("resolved idx = %d, want 55", idx)
	}
}

func TestApplyExportUndef(t *testing.T) {
	at := atomtable.New()
	code := codeserver.New()
	natives := nativefn.NewRegistry()
	h := heap.New(64)
	mfa := codeserver.MFA{Module: term.FromAtomIndex(99), Function: term.FromAtomIndex(2), Arity: 0}
	_, _, _, exc := ApplyExport(nil, nil, mfa, nil, 0, h, code, natives, at)
	if exc == nil || exc.Reason != at.WellKnown(atomtable.Undef) {
		t.Fatalf("expected undef exception, got %v", exc)
	}
}
