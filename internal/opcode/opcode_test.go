package opcode

import (
	"testing"

	"beamrt/internal/term"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for op := Move; op < opCount; op++ {
		w := EncodeOp(op)
		code := []term.Term{w}
		if got := DecodeOp(code, 0); got != op {
			t.Fatalf("DecodeOp(EncodeOp(%v)) = %v", op, got)
		}
	}
}

func TestOperandsSlicesByArity(t *testing.T) {
	// move src, dst
	code := []term.Term{
		EncodeOp(Move), term.FromSmall(1), term.FromSmall(2),
		EncodeOp(Return),
	}
	ops, next := Operands(code, 0)
	if len(ops) != Arity[Move] {
		t.Fatalf("Operands length = %d, want %d", len(ops), Arity[Move])
	}
	if term.AsSmall(ops[0]) != 1 || term.AsSmall(ops[1]) != 2 {
		t.Fatalf("operand values mismatch: %v", ops)
	}
	if next != 3 {
		t.Fatalf("next ip = %d, want 3", next)
	}
	if DecodeOp(code, next) != Return {
		t.Fatalf("expected Return at next ip")
	}
	retOps, retNext := Operands(code, next)
	if len(retOps) != 0 {
		t.Fatalf("Return should have zero operands")
	}
	if retNext != next+1 {
		t.Fatalf("next ip after zero-arity op mismatch")
	}
}

func TestOpStringNames(t *testing.T) {
	if Move.String() != "move" {
		t.Fatalf("Move.String() = %q, want move", Move.String())
	}
	if SelectVal.String() != "select_val" {
		t.Fatalf("SelectVal.String() = %q, want select_val", SelectVal.String())
	}
	if Op(9999).String() != "unknown_op" {
		t.Fatalf("out-of-range Op should stringify as unknown_op")
	}
}

func TestEveryOpHasAName(t *testing.T) {
	for op := Move; op < opCount; op++ {
		if op.String() == "unknown_op" {
			t.Fatalf("opcode %d missing from opNames table", op)
		}
	}
}
