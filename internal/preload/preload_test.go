package preload

import (
	"testing"

	"beamrt/internal/atomtable"
	"beamrt/internal/codeserver"
	"beamrt/internal/nativefn"
	"beamrt/internal/opcode"
	"beamrt/internal/term"
)

func TestInstallLoadsBootModuleAndPrintNative(t *testing.T) {
	code := codeserver.New()
	at := atomtable.New()
	natives := nativefn.NewRegistry()

	module, entry := Install(code, at, natives)

	if at.Lookup(module) != BootModuleName {
		t.Fatalf("module name = %q, want %q", at.Lookup(module), BootModuleName)
	}
	if entry != 0 {
		t.Fatalf("entry = %d, want 0", entry)
	}

	mod, ok := code.ModuleByName(module)
	if !ok {
		t.Fatalf("boot module not loaded into the code server")
	}
	if opcode.DecodeOp(mod.Code, entry) != opcode.LoopRec {
		t.Fatalf("entry label should decode to loop_rec, got %v", opcode.DecodeOp(mod.Code, entry))
	}

	idx, _, ok := code.Resolve(codeserver.MFA{Module: module, Function: at.FromStr("start"), Arity: 0})
	if !ok || idx != entry {
		t.Fatalf("start/0 should resolve to the entry label, got idx=%d ok=%v", idx, ok)
	}

	ioModule := at.FromStr(printModuleName)
	printFn := at.FromStr("print")
	mfa := codeserver.MFA{Module: ioModule, Function: printFn, Arity: 1}
	if !natives.Exists(mfa) {
		t.Fatalf("print/1 native was not registered")
	}

	if len(mod.Imports) != 1 || mod.Imports[0].Module != ioModule || mod.Imports[0].Function != printFn {
		t.Fatalf("boot module's single import should be beamrt_io:print/1, got %+v", mod.Imports)
	}

	result, exc, ok2 := natives.Call(mfa, nil, nil, []term.Term{term.FromSmall(42)})
	if !ok2 {
		t.Fatalf("print/1 should be found in the registry")
	}
	if exc != nil {
		t.Fatalf("unexpected exception calling print: %v", exc)
	}
	if result != term.FromSmall(42) {
		t.Fatalf("print native should return its argument unchanged, got %v", result)
	}
}
