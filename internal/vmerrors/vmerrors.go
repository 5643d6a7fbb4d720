// Package vmerrors implements the BEAM exception model: the
// (class, reason, stacktrace) triple propagated by opcode handlers and
// either caught by a try/catch frame or, uncaught, turned into a
// process exit broadcast as {'EXIT', pid, reason}.
package vmerrors

import (
	"fmt"

	"github.com/kr/pretty"
	"github.com/pkg/errors"

	"beamrt/internal/atomtable"
	"beamrt/internal/heap"
	"beamrt/internal/object"
	"beamrt/internal/term"
)

// Class is one of the four exception kinds named in the error-handling
// design: throw and error are catchable by try/catch, exit propagates
// to linked processes, panic is uncatchable and always terminates the
// process after a diagnostic dump.
type Class string

const (
	Throw Class = "throw"
	Error Class = "error"
	Exit  Class = "exit"
	Panic Class = "panic"
)

// StackFrame mirrors one call-gateway frame at the moment an exception
// was raised: the MFA being executed and the continuation it would
// have returned to.
type StackFrame struct {
	Module   term.Term
	Function term.Term
	Arity    int
	CP       uint64
}

// Exception is the value threaded through Result<_, Exception> return
// types across the dispatcher and call gateways.
type Exception struct {
	Class      Class
	Reason     term.Term
	Stacktrace []StackFrame
	cause      error // wrapped via pkg/errors when the reason originates in Go code, not a term
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s: %v (%d frames)", e.Class, e.Reason, len(e.Stacktrace))
}

// Unwrap exposes the wrapped Go cause, if any, to errors.Is/As.
func (e *Exception) Unwrap() error { return e.cause }

// New builds a bare exception with no stack yet attached; call gateways
// append frames as the exception unwinds through them.
func New(class Class, reason term.Term) *Exception {
	return &Exception{Class: class, Reason: reason}
}

// Wrap attaches a Go-level cause (e.g. a heap allocation failure) to an
// exception, using pkg/errors so the original call site is preserved in
// the cause chain for the fatal-path dump.
func Wrap(class Class, reason term.Term, cause error) *Exception {
	return &Exception{Class: class, Reason: reason, cause: errors.WithStack(cause)}
}

// AddFrame records a call-gateway frame, most-recent-first, as the
// exception unwinds.
func (e *Exception) AddFrame(f StackFrame) *Exception {
	e.Stacktrace = append(e.Stacktrace, f)
	return e
}

// IsPanic reports whether this exception is the uncatchable internal
// class; try/catch must never intercept it.
func (e *Exception) IsPanic() bool { return e.Class == Panic }

// Dump renders a structured, human-readable crash report for fatal
// conditions (heap corruption, header mismatch, opcode-table
// violations): the exception plus whatever extra context the caller
// supplies (runtime context, process state, ...).
func Dump(e *Exception, context ...interface{}) string {
	out := fmt.Sprintf("beamrt: fatal %s: %v\n", e.Class, e.Reason)
	for _, c := range context {
		out += pretty.Sprint(c) + "\n"
	}
	if e.cause != nil {
		out += fmt.Sprintf("cause: %+v\n", e.cause)
	}
	for i, f := range e.Stacktrace {
		out += fmt.Sprintf("  #%d cp=%d arity=%d\n", i, f.CP, f.Arity)
	}
	return out
}

// --- well-known reasons ----------------------------------------------
//
// Each of these builds the Error-class exception for one of the
// well-known atoms named in the error-handling design. Reasons that
// carry a payload (badmatch/badfun/nif_error) allocate a 2-tuple on h.

func Badarg(at *atomtable.Table) *Exception {
	return New(Error, at.WellKnown(atomtable.Badarg))
}

func Badarity(at *atomtable.Table) *Exception {
	return New(Error, at.WellKnown(atomtable.Badarity))
}

func Undef(at *atomtable.Table) *Exception {
	return New(Error, at.WellKnown(atomtable.Undef))
}

func SystemLimit(at *atomtable.Table) *Exception {
	return New(Error, at.WellKnown(atomtable.SystemLimit))
}

func FunctionClause(at *atomtable.Table) *Exception {
	return New(Error, at.WellKnown(atomtable.FunctionClause))
}

func CaseClause(at *atomtable.Table, h *heap.Heap, value term.Term) *Exception {
	return taggedReason(at, h, atomtable.CaseClause, value)
}

func IfClause(at *atomtable.Table) *Exception {
	return New(Error, at.WellKnown(atomtable.IfClause))
}

func TryClause(at *atomtable.Table, h *heap.Heap, value term.Term) *Exception {
	return taggedReason(at, h, atomtable.TryClause, value)
}

func Badmatch(at *atomtable.Table, h *heap.Heap, value term.Term) *Exception {
	return taggedReason(at, h, atomtable.Badmatch, value)
}

func Badfun(at *atomtable.Table, h *heap.Heap, value term.Term) *Exception {
	return taggedReason(at, h, atomtable.Badfun, value)
}

func NifError(at *atomtable.Table, h *heap.Heap, reason term.Term) *Exception {
	return taggedReason(at, h, atomtable.NifError, reason)
}

func Badarith(at *atomtable.Table) *Exception {
	return New(Error, at.WellKnown(atomtable.Badarith))
}

// taggedReason builds the {Tag, Value} 2-tuple reasons like
// badmatch(Value); allocation failure here is itself fatal (there is no
// heap room left even for a tiny tuple), so it panics rather than
// returning a second-order error.
func taggedReason(at *atomtable.Table, h *heap.Heap, tagAtom uint32, value term.Term) *Exception {
	tup, err := object.NewTupleFrom(h, []term.Term{at.WellKnown(tagAtom), value})
	if err != nil {
		panic(errors.Wrap(err, "vmerrors: out of heap building exception reason"))
	}
	return New(Error, tup)
}
