package process

import (
	"testing"

	"beamrt/internal/term"
	"beamrt/internal/vmerrors"
)

func TestMailboxScanAdvanceRemove(t *testing.T) {
	var m Mailbox
	m.Deliver(term.FromSmall(1))
	m.Deliver(term.FromSmall(2))
	m.Deliver(term.FromSmall(3))

	v, ok := m.Peek()
	if !ok || term.AsSmall(v) != 1 {
		t.Fatalf("Peek = (%v, %v), want (1, true)", v, ok)
	}
	m.Advance()
	v, ok = m.Peek()
	if !ok || term.AsSmall(v) != 2 {
		t.Fatalf("Peek after advance = (%v, %v), want (2, true)", v, ok)
	}
	m.Remove()
	if m.Len() != 2 {
		t.Fatalf("Len after remove = %d, want 2", m.Len())
	}
	v, ok = m.Peek()
	if !ok || term.AsSmall(v) != 1 {
		t.Fatalf("Remove should reset cursor to head, got (%v, %v)", v, ok)
	}
}

func TestMailboxResetScan(t *testing.T) {
	var m Mailbox
	m.Deliver(term.FromSmall(1))
	m.Deliver(term.FromSmall(2))
	m.Advance()
	m.Advance()
	if _, ok := m.Peek(); ok {
		t.Fatalf("expected cursor past the end")
	}
	m.ResetScan()
	v, ok := m.Peek()
	if !ok || term.AsSmall(v) != 1 {
		t.Fatalf("ResetScan did not rewind cursor")
	}
}

func TestProcessLinkUnlinkDedup(t *testing.T) {
	p := New(term.FromPidCounter(1), term.Nil, 64, PriorityNormal)
	other := term.FromPidCounter(2)
	p.Link(other)
	p.Link(other)
	if len(p.Links) != 1 {
		t.Fatalf("Link should dedup, got %d entries", len(p.Links))
	}
	p.Unlink(other)
	if len(p.Links) != 0 {
		t.Fatalf("Unlink did not remove the link")
	}
}

func TestProcessAliveKill(t *testing.T) {
	p := New(term.FromPidCounter(1), term.Nil, 64, PriorityNormal)
	if !p.Alive() {
		t.Fatalf("new process should be alive")
	}
	p.Kill()
	if p.Alive() {
		t.Fatalf("process should be dead after Kill")
	}
}

func TestExceptionStateSetClear(t *testing.T) {
	p := New(term.FromPidCounter(1), term.Nil, 64, PriorityNormal)
	p.SetException(vmerrors.Error, term.FromSmall(7), nil)
	if p.Exception == nil || p.Exception.Reason != term.FromSmall(7) {
		t.Fatalf("SetException did not record state")
	}
	p.ClearException()
	if p.Exception != nil {
		t.Fatalf("ClearException did not clear state")
	}
}
