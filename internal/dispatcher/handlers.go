package dispatcher

import (
	"time"

	"beamrt/internal/callgw"
	"beamrt/internal/codeserver"
	"beamrt/internal/heap"
	"beamrt/internal/object"
	"beamrt/internal/opcode"
	"beamrt/internal/process"
	"beamrt/internal/runtime"
	"beamrt/internal/term"
	"beamrt/internal/vmerrors"
)

func init() {
	register(opcode.Move, opMove)

	register(opcode.Call, opCall)
	register(opcode.CallOnly, opCallOnly)
	register(opcode.CallLast, opCallLast)
	register(opcode.Return, opReturn)
	register(opcode.CallExt, opCallExt)
	register(opcode.CallExtOnly, opCallExtOnly)
	register(opcode.CallExtLast, opCallExtLast)

	register(opcode.Allocate, opAllocate)
	register(opcode.AllocateZero, opAllocateZero)
	register(opcode.Deallocate, opDeallocate)
	register(opcode.TestHeap, opTestHeap)

	register(opcode.MakeFun2, opMakeFun2)
	register(opcode.CallFun, opCallFun)

	register(opcode.IsEqExact, opIsEqExact)
	register(opcode.IsEq, opIsEq)
	register(opcode.IsLt, opIsLt)
	register(opcode.IsGe, opIsGe)
	register(opcode.IsAtom, opIsAtom)
	register(opcode.IsFunction, opIsFunction)
	register(opcode.IsFunction2, opIsFunction2)
	register(opcode.IsNil, opIsNil)
	register(opcode.IsNonemptyList, opIsNonemptyList)
	register(opcode.IsTuple, opIsTuple)
	register(opcode.IsInteger, opIsInteger)
	register(opcode.IsBinary, opIsBinary)
	register(opcode.IsMap, opIsMap)

	register(opcode.GetList, opGetList)
	register(opcode.PutList, opPutList)

	register(opcode.PutTuple, opPutTuple)
	register(opcode.Put, opPut)
	register(opcode.GetTupleElement, opGetTupleElement)
	register(opcode.SetTupleElement, opSetTupleElement)

	register(opcode.Send, opSend)
	register(opcode.LoopRec, opLoopRec)
	register(opcode.LoopRecEnd, opLoopRecEnd)
	register(opcode.Wait, opWait)
	register(opcode.WaitTimeout, opWaitTimeout)
	register(opcode.RemoveMessage, opRemoveMessage)

	register(opcode.Try, opTry)
	register(opcode.TryCase, opTryCase)
	register(opcode.Raise, opRaise)

	register(opcode.BsInit2, opBsInit2)
	register(opcode.BsPutBinary, opBsPutBinary)
	register(opcode.BsPutInteger, opBsPutInteger)

	register(opcode.BsStartMatch2, opBsStartMatch2)
	register(opcode.BsGetBinary2, opBsGetBinary2)
	register(opcode.BsTestTail2, opBsTestTail2)

	register(opcode.Jump, opJump)
	register(opcode.SelectVal, opSelectVal)
}

// --- data / move ----------------------------------------------------------

func opMove(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	v, exc := d.readOperand(ctx, proc, ops[0])
	if exc != nil {
		return Continue, exc
	}
	writeOperand(ctx, proc, ops[1], v)
	ctx.IP = next
	return Continue, nil
}

// --- execution / calls ------------------------------------------------------

// opCall implements a local call: arity args already sit in X[0..arity-1];
// loc is the callee's own module (the local call family never crosses a
// module boundary, per the calling convention), so ctx.Module is left
// unchanged. call sets ctx.CP to the instruction after itself (the
// return address) and jumps to loc.
func opCall(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	ctx.CP = term.FromCP(next)
	ctx.IP = addr(ops[1])
	return Continue, nil
}

// opCallOnly is a tail call: it reuses the caller's own CP rather than
// setting a fresh one, so the callee returns directly to whoever called
// the current function.
func opCallOnly(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	ctx.IP = addr(ops[1])
	return Continue, nil
}

// opCallLast is call_only preceded by a deallocate of the current stack
// frame, the pattern a compiler emits for a tail call from a function
// that itself used allocate/deallocate.
func opCallLast(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	ctx.CP = proc.Heap.Deallocate(int(term.AsSmall(ops[2])))
	ctx.IP = addr(ops[1])
	return Continue, nil
}

// opReturn jumps to the continuation pointer, or reports the process as
// finished if CP is NonValue (the outermost frame returning).
func opReturn(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	if term.IsNonValue(ctx.CP) {
		return Finished, nil
	}
	ctx.IP = term.AsCP(ctx.CP)
	return Continue, nil
}

// resolveImport looks the "import" operand up as an index into the
// current module's import table, the convention this dispatcher uses
// since the fixed opcode.Arity table only allows a plain small-int
// operand here (the loader, out of scope, is responsible for assigning
// these indices when it builds each Module's Imports slice).
func (d *Dispatcher) resolveImport(ctx *runtime.Context, importIdx int) (codeserver.MFA, bool) {
	mod, ok := d.Code.ModuleByName(ctx.Module)
	if !ok || importIdx < 0 || importIdx >= len(mod.Imports) {
		return codeserver.MFA{}, false
	}
	return mod.Imports[importIdx], true
}

func (d *Dispatcher) callExt(ctx *runtime.Context, proc *process.Process, arity int, importIdx int) (*vmerrors.Exception, bool) {
	mfa, ok := d.resolveImport(ctx, importIdx)
	if !ok {
		return vmerrors.Undef(d.Atoms), false
	}
	mfa.Arity = arity
	idx, isNative, result, exc := callgw.ApplyExport(d.VMHandle, proc, mfa, ctx.X[:arity], 0, proc.Heap, d.Code, d.Natives, d.Atoms)
	if exc != nil {
		return exc, false
	}
	if isNative {
		ctx.X[0] = result
		return nil, true
	}
	ctx.Module = mfa.Module
	ctx.IP = idx
	return nil, false
}

func opCallExt(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	arity := int(term.AsSmall(ops[0]))
	returnIP := next
	exc, handledNatively := d.callExt(ctx, proc, arity, int(term.AsSmall(ops[1])))
	if exc != nil {
		return Continue, exc
	}
	if handledNatively {
		ctx.IP = returnIP
		return Continue, nil
	}
	ctx.CP = term.FromCP(returnIP)
	return Continue, nil
}

func opCallExtOnly(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	arity := int(term.AsSmall(ops[0]))
	exc, handledNatively := d.callExt(ctx, proc, arity, int(term.AsSmall(ops[1])))
	if exc != nil {
		return Continue, exc
	}
	if handledNatively {
		if term.IsNonValue(ctx.CP) {
			return Finished, nil
		}
		ctx.IP = term.AsCP(ctx.CP)
		return Continue, nil
	}
	return Continue, nil
}

func opCallExtLast(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	arity := int(term.AsSmall(ops[0]))
	ctx.CP = proc.Heap.Deallocate(int(term.AsSmall(ops[2])))
	exc, handledNatively := d.callExt(ctx, proc, arity, int(term.AsSmall(ops[1])))
	if exc != nil {
		return Continue, exc
	}
	if handledNatively {
		if term.IsNonValue(ctx.CP) {
			return Finished, nil
		}
		ctx.IP = term.AsCP(ctx.CP)
		return Continue, nil
	}
	return Continue, nil
}

// --- allocation -------------------------------------------------------------

func opAllocate(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	n := int(term.AsSmall(ops[0]))
	ctx.Live = int(term.AsSmall(ops[1]))
	if err := proc.Heap.Ensure(n+1, gcRoot(ctx, proc)); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	if err := proc.Heap.StackAlloc(n, 0, heap.FillUninitialized); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	if err := proc.Heap.Push(ctx.CP); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	ctx.IP = next
	return Continue, nil
}

func opAllocateZero(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	n := int(term.AsSmall(ops[0]))
	ctx.Live = int(term.AsSmall(ops[1]))
	if err := proc.Heap.Ensure(n+1, gcRoot(ctx, proc)); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	if err := proc.Heap.StackAlloc(n, 0, heap.FillNil); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	if err := proc.Heap.Push(ctx.CP); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	ctx.IP = next
	return Continue, nil
}

func opDeallocate(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	ctx.CP = proc.Heap.Deallocate(int(term.AsSmall(ops[0])))
	ctx.IP = next
	return Continue, nil
}

func opTestHeap(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	words := int(term.AsSmall(ops[0]))
	ctx.Live = int(term.AsSmall(ops[1]))
	if err := proc.Heap.Ensure(words, gcRoot(ctx, proc)); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	ctx.IP = next
	return Continue, nil
}

// --- closures ---------------------------------------------------------------

// opMakeFun2 builds a Closure from the lambda table entry at the given
// index, writing the result to X[0] by convention (mirroring real BEAM's
// make_fun2 always targeting x0; the fixed operand count here leaves no
// room for an explicit destination).
func opMakeFun2(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	mod, ok := d.Code.ModuleByName(ctx.Module)
	if !ok {
		return Continue, vmerrors.Undef(d.Atoms)
	}
	idx := int(term.AsSmall(ops[0]))
	if idx < 0 || idx >= len(mod.Lambdas) {
		return Continue, vmerrors.Undef(d.Atoms)
	}
	entry := mod.Lambdas[idx]
	frozen := make([]term.Term, entry.NFrozen)
	for i := 0; i < entry.NFrozen; i++ {
		frozen[i] = ctx.X[i]
	}
	if err := proc.Heap.Ensure(2+entry.NFrozen, gcRoot(ctx, proc)); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	closure, err := object.NewClosure(proc.Heap, ctx.Module, entry.Function, entry.TotalArity, frozen)
	if err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	object.SetClosureCodePtr(proc.Heap, closure, entry.EntryLabel)
	ctx.X[0] = closure
	ctx.IP = next
	return Continue, nil
}

// opCallFun applies the closure sitting in X[arity] to the arity
// arguments already in X[0..arity-1], per the call_fun(Arity) convention.
func opCallFun(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	arity := int(term.AsSmall(ops[0]))
	closure := ctx.X[arity]
	idx, module, exc := callgw.ApplyClosure(ctx.X[:], proc.Heap, closure, arity, d.Code, d.Atoms)
	if exc != nil {
		return Continue, exc
	}
	ctx.CP = term.FromCP(next)
	ctx.Module = module
	ctx.IP = idx
	return Continue, nil
}

// --- predicates --------------------------------------------------------------

func predicateFailOrContinue(ctx *runtime.Context, ops []term.Term, next uint64, cond bool) (Verdict, *vmerrors.Exception) {
	if cond {
		ctx.IP = next
	} else {
		ctx.IP = addr(ops[0])
	}
	return Continue, nil
}

func opIsEqExact(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	a, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	b, exc := d.readOperand(ctx, proc, ops[2])
	if exc != nil {
		return Continue, exc
	}
	return predicateFailOrContinue(ctx, ops, next, object.CmpTermsWithBinHeap(proc.Heap, d.BinHeap, a, b, true) == 0)
}

func opIsEq(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	a, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	b, exc := d.readOperand(ctx, proc, ops[2])
	if exc != nil {
		return Continue, exc
	}
	return predicateFailOrContinue(ctx, ops, next, object.CmpTermsWithBinHeap(proc.Heap, d.BinHeap, a, b, false) == 0)
}

func opIsLt(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	a, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	b, exc := d.readOperand(ctx, proc, ops[2])
	if exc != nil {
		return Continue, exc
	}
	return predicateFailOrContinue(ctx, ops, next, object.CmpTermsWithBinHeap(proc.Heap, d.BinHeap, a, b, false) < 0)
}

func opIsGe(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	a, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	b, exc := d.readOperand(ctx, proc, ops[2])
	if exc != nil {
		return Continue, exc
	}
	return predicateFailOrContinue(ctx, ops, next, object.CmpTermsWithBinHeap(proc.Heap, d.BinHeap, a, b, false) >= 0)
}

func opIsAtom(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	v, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	return predicateFailOrContinue(ctx, ops, next, term.IsAtom(v))
}

func opIsFunction(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	v, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	return predicateFailOrContinue(ctx, ops, next, object.IsFunction(proc.Heap, v))
}

func opIsFunction2(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	v, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	arity := int(term.AsSmall(ops[2]))
	return predicateFailOrContinue(ctx, ops, next, object.IsFunctionOfArity(proc.Heap, v, arity))
}

func opIsNil(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	v, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	return predicateFailOrContinue(ctx, ops, next, term.IsNil(v))
}

func opIsNonemptyList(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	v, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	return predicateFailOrContinue(ctx, ops, next, object.IsNonEmptyList(v))
}

func opIsTuple(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	v, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	return predicateFailOrContinue(ctx, ops, next, object.IsTuple(proc.Heap, v))
}

func opIsInteger(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	v, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	return predicateFailOrContinue(ctx, ops, next, object.IsInteger(proc.Heap, v))
}

func opIsBinary(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	v, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	return predicateFailOrContinue(ctx, ops, next, object.IsBinary(v) || object.IsBinaryBoxed(proc.Heap, v))
}

func opIsMap(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	v, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	return predicateFailOrContinue(ctx, ops, next, object.IsMap(proc.Heap, v))
}

// --- lists --------------------------------------------------------------

func opGetList(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	cons, exc := d.readOperand(ctx, proc, ops[0])
	if exc != nil {
		return Continue, exc
	}
	head, tail := object.GetList(proc.Heap, cons)
	writeOperand(ctx, proc, ops[1], head)
	writeOperand(ctx, proc, ops[2], tail)
	ctx.IP = next
	return Continue, nil
}

func opPutList(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	h, exc := d.readOperand(ctx, proc, ops[0])
	if exc != nil {
		return Continue, exc
	}
	t, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	if err := proc.Heap.Ensure(2, gcRoot(ctx, proc)); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	cons, err := object.NewCons(proc.Heap, h, t)
	if err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	writeOperand(ctx, proc, ops[2], cons)
	ctx.IP = next
	return Continue, nil
}

// --- tuples --------------------------------------------------------------

// opPutTuple begins building a tuple of the given arity; the elements
// themselves arrive via the Put opcodes that directly follow it in the
// code stream, matching the teacher instruction-stream's "group of
// put_tuple followed by N put" shape. ctx.TuplePending and
// ctx.TupleNext track progress so Put knows which slot to fill next.
func opPutTuple(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	arity := int(term.AsSmall(ops[0]))
	if err := proc.Heap.Ensure(arity+1, gcRoot(ctx, proc)); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	tup, err := object.NewTuple(proc.Heap, arity)
	if err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	writeOperand(ctx, proc, ops[1], tup)
	ctx.TuplePending = tup
	ctx.TupleNext = 0
	ctx.IP = next
	return Continue, nil
}

func opPut(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	v, exc := d.readOperand(ctx, proc, ops[0])
	if exc != nil {
		return Continue, exc
	}
	object.SetTupleElement(proc.Heap, ctx.TuplePending, ctx.TupleNext, v)
	ctx.TupleNext++
	ctx.IP = next
	return Continue, nil
}

func opGetTupleElement(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	src, exc := d.readOperand(ctx, proc, ops[0])
	if exc != nil {
		return Continue, exc
	}
	i := int(term.AsSmall(ops[1]))
	writeOperand(ctx, proc, ops[2], object.GetTupleElement(proc.Heap, src, i))
	ctx.IP = next
	return Continue, nil
}

func opSetTupleElement(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	v, exc := d.readOperand(ctx, proc, ops[0])
	if exc != nil {
		return Continue, exc
	}
	src, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	i := int(term.AsSmall(ops[2]))
	object.SetTupleElement(proc.Heap, src, i, v)
	ctx.IP = next
	return Continue, nil
}

// --- messages --------------------------------------------------------------

// opSend reads its operands from fixed registers (Send has zero declared
// operand words): X[0] is the destination pid, X[1] is the message,
// mirroring real BEAM's send instruction. The result (the message term)
// is left in X[0], matching erlang:send/2's return value.
func opSend(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	to := ctx.X[0]
	msg := ctx.X[1]
	d.Sched.DeliverMessage(proc.Pid, to, msg, proc.Heap)
	ctx.X[0] = msg
	ctx.IP = next
	return Continue, nil
}

func opLoopRec(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	msg, ok := proc.Mailbox.Peek()
	if !ok {
		ctx.IP = addr(ops[0])
		return Continue, nil
	}
	writeOperand(ctx, proc, ops[1], msg)
	ctx.IP = next
	return Continue, nil
}

func opLoopRecEnd(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	proc.Mailbox.Advance()
	ctx.IP = addr(ops[0])
	return Continue, nil
}

func opWait(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	ctx.IP = addr(ops[0])
	proc.Mailbox.ResetScan()
	return InfiniteWait, nil
}

// opWaitTimeout is wait/1 with a deadline: on the first suspension it
// records a deadline ms milliseconds ahead and WaitAfterIP = the
// instruction after wait_timeout (the `after Ms -> ...` branch). A
// message arriving first resumes the process at label; once the
// deadline passes, the scheduler resumes it at WaitAfterIP.
func opWaitTimeout(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	ctx.IP = addr(ops[0])
	proc.Mailbox.ResetScan()
	if proc.WaitDeadline.IsZero() {
		ms := term.AsSmall(ops[1])
		proc.WaitDeadline = time.Now().Add(time.Duration(ms) * time.Millisecond)
		proc.WaitAfterIP = next
	}
	return InfiniteWait, nil
}

func opRemoveMessage(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	proc.Mailbox.Remove()
	ctx.IP = next
	return Continue, nil
}

// --- try/catch --------------------------------------------------------------

// opTry pushes a catch-frame marker as a new word on top of the stack so
// a later exception unwinds to catchLabel; the yreg operand is not read
// and no Y register is written. try itself otherwise falls through (the
// protected code follows directly).
func opTry(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	if err := proc.Heap.Ensure(1, gcRoot(ctx, proc)); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	if err := proc.Heap.Push(term.FromCatch(addr(ops[1]))); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	proc.NumCatches++
	ctx.IP = next
	return Continue, nil
}

// opTryCase ends a try block: it decrements NumCatches and falls
// through. It does not remove a catch marker from the stack and leaves
// the X registers unchanged.
func opTryCase(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	proc.NumCatches--
	ctx.IP = next
	return Continue, nil
}

// opRaise re-raises an explicit (class, reason) pair, e.g. from a user
// `erlang:raise/3` or a re-thrown catch pattern; stacktrace is left
// empty since this instruction doesn't originate the exception.
func opRaise(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	classVal, exc := d.readOperand(ctx, proc, ops[0])
	if exc != nil {
		return Continue, exc
	}
	reason, exc := d.readOperand(ctx, proc, ops[1])
	if exc != nil {
		return Continue, exc
	}
	class := vmerrors.Class(d.Atoms.Lookup(classVal))
	return Continue, vmerrors.New(class, reason)
}

// --- binary construction -----------------------------------------------------

// opBsInit2 opens a binary-construction cursor; the size operand is an
// advisory capacity hint only (CurrentBin grows as needed). The
// dispatcher's Run loop finalizes the cursor into a real Binary in X[0]
// the moment it reaches any opcode other than bs_put_binary/
// bs_put_integer, so no explicit "bs_finish" opcode is needed.
func opBsInit2(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	ctx.Live = int(term.AsSmall(ops[1]))
	ctx.CurrentBin = &object.CurrentBin{
		Buf: make([]byte, 0, int(term.AsSmall(ops[0]))),
	}
	ctx.IP = next
	return Continue, nil
}

func opBsPutBinary(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	if ctx.CurrentBin == nil {
		return Continue, vmerrors.Badarg(d.Atoms)
	}
	sizeBits := int(term.AsSmall(ops[0])) * int(term.AsSmall(ops[1]))
	src, exc := d.readOperand(ctx, proc, ops[3])
	if exc != nil {
		return Continue, exc
	}
	data := object.Bytes(proc.Heap, d.BinHeap, src)
	if err := ctx.CurrentBin.PutBinary(data, sizeBits); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	ctx.IP = next
	return Continue, nil
}

func opBsPutInteger(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	if ctx.CurrentBin == nil {
		return Continue, vmerrors.Badarg(d.Atoms)
	}
	sizeBits := int(term.AsSmall(ops[0])) * int(term.AsSmall(ops[1]))
	flags := term.AsSmall(ops[2])
	src, exc := d.readOperand(ctx, proc, ops[3])
	if exc != nil {
		return Continue, exc
	}
	little := flags&1 != 0
	signed := flags&2 != 0
	if err := ctx.CurrentBin.PutInteger(term.AsSmall(src), sizeBits, little, signed); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	ctx.IP = next
	return Continue, nil
}

// --- binary matching ---------------------------------------------------------

// opBsStartMatch2 builds a BinaryMatchState over the binary in X[0] and
// writes it back to X[0] by convention (mirroring make_fun2's X0
// convention, since the fixed operand layout has no destination slot).
func opBsStartMatch2(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	ctx.Live = int(term.AsSmall(ops[1]))
	bin := ctx.X[0]
	if err := proc.Heap.Ensure(4, gcRoot(ctx, proc)); err != nil {
		return Continue, vmerrors.SystemLimit(d.Atoms)
	}
	ms, err := object.NewMatchState(proc.Heap, bin)
	if err != nil {
		return Continue, vmerrors.Badarg(d.Atoms)
	}
	ctx.X[0] = ms
	ctx.IP = next
	return Continue, nil
}

// opBsGetBinary2 reads sizeBits from the match state held in X[0] by
// convention, advancing its cursor, and writes the extracted binary to
// dst; it jumps to fail if not enough bits remain.
func opBsGetBinary2(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	ms := ctx.X[0]
	sizeBits := int(term.AsSmall(ops[1])) * int(term.AsSmall(ops[2]))
	bin, ok := object.GetBinary(proc.Heap, d.BinHeap, ms, sizeBits)
	if !ok {
		ctx.IP = addr(ops[0])
		return Continue, nil
	}
	writeOperand(ctx, proc, ops[3], bin)
	ctx.IP = next
	return Continue, nil
}

// opBsTestTail2 checks that exactly bits remain unconsumed in the match
// state held in X[0] by convention.
func opBsTestTail2(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	ms := ctx.X[0]
	bits := int(term.AsSmall(ops[1]))
	return predicateFailOrContinue(ctx, ops, next, object.TestTail(proc.Heap, ms, bits))
}

// --- control flow -----------------------------------------------------------

func opJump(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	ctx.IP = addr(ops[0])
	return Continue, nil
}

// opSelectVal dispatches on src's value via a JumpTable literal,
// falling through to fail when no entry matches.
func opSelectVal(d *Dispatcher, ctx *runtime.Context, proc *process.Process, ops []term.Term, next uint64) (Verdict, *vmerrors.Exception) {
	src, exc := d.readOperand(ctx, proc, ops[0])
	if exc != nil {
		return Continue, exc
	}
	jt, exc := d.readOperand(ctx, proc, ops[2])
	if exc != nil {
		return Continue, exc
	}
	target, ok := object.JumpTableLookup(proc.Heap, jt, src)
	if !ok {
		ctx.IP = addr(ops[1])
		return Continue, nil
	}
	ctx.IP = target
	return Continue, nil
}
