package runtime

import (
	"testing"

	"beamrt/internal/object"
	"beamrt/internal/term"
)

func TestNewContextDefaults(t *testing.T) {
	c := New()
	if c.CP != term.NonValue {
		t.Fatalf("fresh context should have CP = NonValue")
	}
}

func TestResetClearsTransientState(t *testing.T) {
	c := New()
	c.X[0] = term.FromSmall(1)
	c.Live = 3
	c.TuplePending = term.FromSmall(5)
	c.TupleNext = 2
	c.Reset(10, term.FromAtomIndex(7))
	if c.IP != 10 || c.Module != term.FromAtomIndex(7) {
		t.Fatalf("Reset did not set IP/Module")
	}
	if c.CP != term.NonValue {
		t.Fatalf("Reset should clear CP to NonValue")
	}
	if c.Live != 0 {
		t.Fatalf("Reset should clear Live")
	}
	if c.CurrentBin != nil {
		t.Fatalf("Reset should clear CurrentBin")
	}
	if c.TuplePending != term.NonValue || c.TupleNext != 0 {
		t.Fatalf("Reset should clear tuple-construction state")
	}
	// X registers are not touched by Reset (array reused across calls).
	if c.X[0] != term.FromSmall(1) {
		t.Fatalf("Reset should not clobber X registers")
	}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	c := New()
	c.X[3] = term.FromSmall(77)
	c.FP[1] = 3.5
	c.IP = 42
	c.CP = term.FromCP(99)
	c.Module = term.FromAtomIndex(2)
	c.Live = 4

	saved := c.Save()

	c2 := New()
	c2.Restore(saved)
	if c2.X[3] != term.FromSmall(77) {
		t.Fatalf("restored X register mismatch")
	}
	if c2.FP[1] != 3.5 {
		t.Fatalf("restored FP register mismatch")
	}
	if c2.IP != 42 || c2.CP != term.FromCP(99) || c2.Module != term.FromAtomIndex(2) || c2.Live != 4 {
		t.Fatalf("restored scalar fields mismatch")
	}
	if c2.CurrentBin != nil {
		t.Fatalf("Restore should reset CurrentBin to nil")
	}
}

func TestSavePanicsOnOpenBinaryConstruction(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Save to panic with an open CurrentBin")
		}
	}()
	c := New()
	c.CurrentBin = &object.CurrentBin{}
	c.Save()
}
