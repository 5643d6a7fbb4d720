// Package preload is the minimal stand-in for the out-of-scope module
// loader (§4.6): since this repository never parses a real compiled
// module file, it hand-assembles one tiny bootstrap module directly out
// of opcode.Op values so cmd/beamrt has something to boot without a
// real .beam parser on hand. It also registers the one native function
// that bootstrap module calls, the way a real native-function registry
// would be populated by a host application before boot.
package preload

import (
	"fmt"

	"beamrt/internal/atomtable"
	"beamrt/internal/codeserver"
	"beamrt/internal/nativefn"
	"beamrt/internal/object"
	"beamrt/internal/opcode"
	"beamrt/internal/process"
	"beamrt/internal/term"
	"beamrt/internal/vmerrors"
)

// BootModuleName is the only module name this stand-in loader knows how
// to produce; cmd/beamrt rejects any other boot_module argument with the
// startup-failure exit code named in §6, since a real loader capable of
// reading arbitrary module names is out of scope here.
const BootModuleName = "beamrt_init"

const printModuleName = "beamrt_io"

// Install loads the bootstrap module into code and registers its one
// native dependency into natives, returning the boot module's atom and
// its start/0 entry label.
func Install(code *codeserver.Server, at *atomtable.Table, natives *nativefn.Registry) (module term.Term, entry uint64) {
	module = at.FromStr(BootModuleName)
	ioModule := at.FromStr(printModuleName)
	printFn := at.FromStr("print")

	natives.Register(codeserver.MFA{Module: ioModule, Function: printFn, Arity: 1}, func(vmHandle interface{}, proc *process.Process, args []term.Term) (term.Term, *vmerrors.Exception) {
		fmt.Println(displayTerm(proc, at, args[0]))
		return args[0], nil
	})

	// start/0: drain every mailbox message (the spawn arguments, each
	// delivered as its own message per Scheduler.Spawn's convention),
	// printing each via the registered native, then wait up to 50ms for
	// anything sent afterward before returning. Labels below are code
	// offsets computed by hand since there's no assembler here.
	const (
		lLoopRec     = 0
		lWaitTimeout = 9
	)

	mod := codeserver.NewModule(module, nil, 0)

	regX0 := term.FromRegisterRef(term.RegX, 0)
	c := []term.Term{
		opcode.EncodeOp(opcode.LoopRec), term.FromSmall(lWaitTimeout), regX0,
		opcode.EncodeOp(opcode.CallExt), term.FromSmall(1), term.FromSmall(0),
		opcode.EncodeOp(opcode.RemoveMessage),
		opcode.EncodeOp(opcode.Jump), term.FromSmall(lLoopRec),
		opcode.EncodeOp(opcode.WaitTimeout), term.FromSmall(lLoopRec), term.FromSmall(50),
		opcode.EncodeOp(opcode.Return),
	}
	mod.Code = c
	mod.AddExport(at.FromStr("start"), 0, lLoopRec)
	mod.AddImport(codeserver.MFA{Module: ioModule, Function: printFn, Arity: 1})
	code.Load(mod)

	return module, lLoopRec
}

// displayTerm renders a term well enough for the crash-free happy path
// cmd/beamrt exercises; it does not attempt the full escaping rules a
// real io_lib:format/2 would apply.
func displayTerm(proc *process.Process, at *atomtable.Table, t term.Term) string {
	h := proc.Heap
	switch {
	case term.IsSmall(t):
		return fmt.Sprintf("%d", term.AsSmall(t))
	case term.IsAtom(t):
		return at.Lookup(t)
	case term.IsNil(t):
		return "[]"
	case term.IsCons(t):
		var parts []string
		cur := t
		for term.IsCons(cur) {
			var head term.Term
			head, cur = object.GetList(h, cur)
			parts = append(parts, displayTerm(proc, at, head))
		}
		return "[" + join(parts, ",") + "]"
	case object.IsTuple(h, t):
		elems := object.TupleElements(h, t)
		parts := make([]string, len(elems))
		for i, e := range elems {
			parts[i] = displayTerm(proc, at, e)
		}
		return "{" + join(parts, ",") + "}"
	case object.IsFloat(h, t):
		return fmt.Sprintf("%g", object.FloatValue(h, t))
	case object.IsBignum(h, t):
		return object.BignumValue(h, t).String()
	default:
		return fmt.Sprintf("term(%#x)", uint64(t))
	}
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
