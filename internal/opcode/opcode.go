// Package opcode defines the dispatcher's instruction set: one Op per
// opcode group member named in the component design, plus the table
// describing how many operand words follow each opcode word in the
// loaded code array.
//
// Code is a flat []term.Term: each instruction is an opcode word
// (a SMALL_INT, decoded with Op) followed by its fixed operand count of
// term-encoded operands (register references, small integers, atoms,
// code addresses, or literal-pool pointers already resolved by the
// loader). This keeps the dispatcher's only contract with the loader
// exactly what §4.6 promises: code[] as a contiguous word array.
package opcode

import "beamrt/internal/term"

type Op int

const (
	// Data / move
	Move Op = iota

	// Execution
	Call
	CallOnly
	CallLast
	Return
	CallExt
	CallExtOnly
	CallExtLast

	// Allocation
	Allocate
	AllocateZero
	Deallocate
	TestHeap

	// Closures
	MakeFun2
	CallFun

	// Predicates (each takes a fail-label operand first)
	IsEqExact
	IsEq
	IsLt
	IsGe
	IsAtom
	IsFunction
	IsFunction2
	IsNil
	IsNonemptyList
	IsTuple
	IsInteger
	IsBinary
	IsMap

	// List
	GetList
	PutList

	// Tuple
	PutTuple
	Put
	GetTupleElement
	SetTupleElement

	// Message
	Send
	LoopRec
	LoopRecEnd
	Wait
	WaitTimeout
	RemoveMessage

	// Try/catch
	Try
	TryCase
	Raise

	// Binary construction
	BsInit2
	BsPutBinary
	BsPutInteger

	// Binary matching
	BsStartMatch2
	BsGetBinary2
	BsTestTail2

	// Control flow
	Jump
	SelectVal

	opCount
)

// Arity gives the number of operand words following each opcode word.
// Operands uses it to slice each instruction's operands; no code checks
// the table against the handlers.
var Arity = [opCount]int{
	Move: 2, // src, dst

	Call:        2, // arity, loc
	CallOnly:    2,
	CallLast:    3, // arity, loc, dealloc
	Return:      0,
	CallExt:     2, // arity, import
	CallExtOnly: 2,
	CallExtLast: 3,

	Allocate:     2, // n, live
	AllocateZero: 2,
	Deallocate:   1,
	TestHeap:     2, // words, live

	MakeFun2: 1, // entry
	CallFun:  1, // arity

	IsEqExact:      3, // fail, a, b
	IsEq:           3,
	IsLt:           3,
	IsGe:           3,
	IsAtom:         2, // fail, a
	IsFunction:     2,
	IsFunction2:    3, // fail, a, arity
	IsNil:          2,
	IsNonemptyList: 2,
	IsTuple:        2,
	IsInteger:      2,
	IsBinary:       2,
	IsMap:          2,

	GetList: 3, // cons, h, t
	PutList: 3, // h, t, dst

	PutTuple:        2, // arity, dst
	Put:             1, // val
	GetTupleElement: 3, // src, i, dst
	SetTupleElement: 3, // val, src, i

	Send:          0,
	LoopRec:       2, // fail, dst
	LoopRecEnd:    1, // label
	Wait:          1, // label
	WaitTimeout:   2, // label, ms
	RemoveMessage: 0,

	Try:     2, // yreg, catch_label
	TryCase: 1, // yreg
	Raise:   2, // class, reason

	BsInit2:     2, // size, words
	BsPutBinary: 4, // size, unit, flags, src
	BsPutInteger: 4,

	BsStartMatch2: 3, // ctx, live, slots
	BsGetBinary2:  4, // fail, size, unit, dst
	BsTestTail2:   2, // fail, bits

	Jump:      1,
	SelectVal: 3, // src, fail, jumptable
}

// EncodeOp boxes an Op as the opcode word stored in the code array.
func EncodeOp(op Op) term.Term { return term.FromSmall(int64(op)) }

// DecodeOp reads the Op at code[ip].
func DecodeOp(code []term.Term, ip uint64) Op {
	return Op(term.AsSmall(code[ip]))
}

// Operands returns the slice of operand words following the opcode at
// ip, and the ip of the next instruction.
func Operands(code []term.Term, ip uint64) (ops []term.Term, nextIP uint64) {
	op := DecodeOp(code, ip)
	n := Arity[op]
	return code[ip+1 : ip+1+uint64(n)], ip + 1 + uint64(n)
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "unknown_op"
}

var opNames = [opCount]string{
	Move: "move",

	Call: "call", CallOnly: "call_only", CallLast: "call_last", Return: "return",
	CallExt: "call_ext", CallExtOnly: "call_ext_only", CallExtLast: "call_ext_last",

	Allocate: "allocate", AllocateZero: "allocate_zero", Deallocate: "deallocate", TestHeap: "test_heap",

	MakeFun2: "make_fun2", CallFun: "call_fun",

	IsEqExact: "is_eq_exact", IsEq: "is_eq", IsLt: "is_lt", IsGe: "is_ge",
	IsAtom: "is_atom", IsFunction: "is_function", IsFunction2: "is_function2",
	IsNil: "is_nil", IsNonemptyList: "is_nonempty_list", IsTuple: "is_tuple",
	IsInteger: "is_integer", IsBinary: "is_binary", IsMap: "is_map",

	GetList: "get_list", PutList: "put_list",

	PutTuple: "put_tuple", Put: "put", GetTupleElement: "get_tuple_element", SetTupleElement: "set_tuple_element",

	Send: "send", LoopRec: "loop_rec", LoopRecEnd: "loop_rec_end",
	Wait: "wait", WaitTimeout: "wait_timeout", RemoveMessage: "remove_message",

	Try: "try", TryCase: "try_case", Raise: "raise",

	BsInit2: "bs_init2", BsPutBinary: "bs_put_binary", BsPutInteger: "bs_put_integer",

	BsStartMatch2: "bs_start_match2", BsGetBinary2: "bs_get_binary2", BsTestTail2: "bs_test_tail2",

	Jump: "jump", SelectVal: "select_val",
}
