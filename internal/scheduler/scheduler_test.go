package scheduler

import (
	"testing"

	"beamrt/internal/heap"
	"beamrt/internal/object"
	"beamrt/internal/process"
	"beamrt/internal/term"
)

func TestSpawnAndNext(t *testing.T) {
	s := New()
	pid, err := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, []term.Term{term.FromSmall(42)}, SpawnOptions{Priority: process.PriorityNormal})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !s.IsAlive(pid) {
		t.Fatalf("freshly spawned process should be alive")
	}
	got, ok := s.Next()
	if !ok || got != pid {
		t.Fatalf("Next() = (%v, %v), want (%v, true)", got, ok, pid)
	}
	proc, ok := s.Process(pid)
	if !ok {
		t.Fatalf("Process lookup failed")
	}
	msg, hasMsg := proc.Mailbox.Peek()
	if !hasMsg || term.AsSmall(msg) != 42 {
		t.Fatalf("Spawn args should be delivered as mailbox message, got (%v,%v)", msg, hasMsg)
	}
}

func TestSpawnWithSystemProcessOptionSetsFlag(t *testing.T) {
	s := New()
	pid, err := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil,
		SpawnOptions{Priority: process.PriorityMax, SystemProcess: true})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	proc, _ := s.Process(pid)
	if !proc.Flags.SystemProcess {
		t.Fatalf("SpawnOptions.SystemProcess should set Flags.SystemProcess up front")
	}

	other, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})
	otherProc, _ := s.Process(other)
	if otherProc.Flags.SystemProcess {
		t.Fatalf("a plain Spawn should leave Flags.SystemProcess false")
	}
}

func TestNextPriorityOrdering(t *testing.T) {
	s := New()
	low, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityLow})
	high, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityHigh})
	max, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityMax})
	normal, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})

	order := []term.Term{}
	for i := 0; i < 4; i++ {
		pid, ok := s.Next()
		if !ok {
			t.Fatalf("Next() ran out early at step %d", i)
		}
		order = append(order, pid)
	}
	want := []term.Term{max, high, normal, low}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order[%d] = %v, want %v", i, order[i], w)
		}
	}
}

func TestSpawnFromDeepCopiesArgs(t *testing.T) {
	s := New()
	callerHeap := heap.New(64)
	tup, _ := object.NewTupleFrom(callerHeap, []term.Term{term.FromSmall(1), term.FromSmall(2)})

	pid, err := s.SpawnFrom(term.Nil, term.FromAtomIndex(1), 0, callerHeap, []term.Term{tup}, SpawnOptions{Priority: process.PriorityNormal})
	if err != nil {
		t.Fatalf("SpawnFrom: %v", err)
	}
	proc, _ := s.Process(pid)
	msg, ok := proc.Mailbox.Peek()
	if !ok {
		t.Fatalf("expected a delivered startup message")
	}
	if object.GetTupleElement(proc.Heap, msg, 0) != term.FromSmall(1) {
		t.Fatalf("copied tuple content mismatch")
	}
	// Mutating caller's original must not affect the copy.
	object.SetTupleElement(callerHeap, tup, 0, term.FromSmall(999))
	if object.GetTupleElement(proc.Heap, msg, 0) != term.FromSmall(1) {
		t.Fatalf("SpawnFrom did not deep-copy onto the new process's heap")
	}
}

func TestRequeueDeadProcessNoop(t *testing.T) {
	s := New()
	pid, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})
	s.Next()
	proc, _ := s.Process(pid)
	proc.Kill()
	s.Requeue(pid)
	if _, ok := s.Next(); ok {
		t.Fatalf("Requeue should be a no-op for a dead process")
	}
}

func TestTerminateRemovesFromRegistries(t *testing.T) {
	s := New()
	pid, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})
	if err := s.Register(term.FromAtomIndex(50), pid); err != nil {
		t.Fatalf("Register: %v", err)
	}
	normalAtom := term.FromAtomIndex(21)
	exitAtom := term.FromAtomIndex(20)
	s.Terminate(pid, normalAtom, normalAtom, exitAtom)
	if s.IsAlive(pid) {
		t.Fatalf("process should be dead after Terminate")
	}
	if _, ok := s.FindRegistered(term.FromAtomIndex(50)); ok {
		t.Fatalf("name registration should be removed on termination")
	}
}

func TestSpawnWithLinkOptionLinksBothDirections(t *testing.T) {
	s := New()
	parent, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})
	parentProc, _ := s.Process(parent)

	child, _ := s.Spawn(parent, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal, Link: true})
	childProc, _ := s.Process(child)

	if len(parentProc.Links) != 1 || parentProc.Links[0] != child {
		t.Fatalf("parent should be linked to spawned child, links=%v", parentProc.Links)
	}
	if len(childProc.Links) != 1 || childProc.Links[0] != parent {
		t.Fatalf("spawned child should be linked back to parent, links=%v", childProc.Links)
	}

	normalAtom := term.FromAtomIndex(21)
	exitAtom := term.FromAtomIndex(20)
	reason := term.FromAtomIndex(9)
	s.Terminate(parent, reason, normalAtom, exitAtom)
	if s.IsAlive(child) {
		t.Fatalf("spawn_link child should die when its non-trapping parent exits abnormally")
	}
}

func TestSpawnWithoutLinkOptionLeavesProcessesUnlinked(t *testing.T) {
	s := New()
	parent, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})
	parentProc, _ := s.Process(parent)

	child, _ := s.Spawn(parent, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})
	childProc, _ := s.Process(child)

	if len(parentProc.Links) != 0 || len(childProc.Links) != 0 {
		t.Fatalf("plain Spawn (Link: false) should not link parent and child")
	}
}

func TestTerminateBroadcastsToTrappingLinks(t *testing.T) {
	s := New()
	victim, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})
	linked, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})

	victimProc, _ := s.Process(victim)
	linkedProc, _ := s.Process(linked)
	linkedProc.Flags.TrapExit = true
	victimProc.Link(linked)

	normalAtom := term.FromAtomIndex(21)
	exitAtom := term.FromAtomIndex(20)
	reason := term.FromAtomIndex(9) // some non-normal reason
	s.Terminate(victim, reason, normalAtom, exitAtom)

	if !s.IsAlive(linked) {
		t.Fatalf("trapping linked process should survive")
	}
	msg, ok := linkedProc.Mailbox.Peek()
	if !ok {
		t.Fatalf("expected an {'EXIT', pid, reason} message delivered")
	}
	if object.GetTupleElement(linkedProc.Heap, msg, 0) != exitAtom {
		t.Fatalf("exit message tag mismatch")
	}
}

func TestTerminatePropagatesToNonTrappingLinksOnAbnormalExit(t *testing.T) {
	s := New()
	victim, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})
	linked, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})
	victimProc, _ := s.Process(victim)
	victimProc.Link(linked)

	normalAtom := term.FromAtomIndex(21)
	exitAtom := term.FromAtomIndex(20)
	reason := term.FromAtomIndex(9)
	s.Terminate(victim, reason, normalAtom, exitAtom)

	if s.IsAlive(linked) {
		t.Fatalf("non-trapping linked process should die on abnormal exit propagation")
	}
}

func TestTerminateNormalExitDoesNotKillNonTrappingLinks(t *testing.T) {
	s := New()
	victim, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})
	linked, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})
	victimProc, _ := s.Process(victim)
	victimProc.Link(linked)

	normalAtom := term.FromAtomIndex(21)
	exitAtom := term.FromAtomIndex(20)
	s.Terminate(victim, normalAtom, normalAtom, exitAtom)

	if !s.IsAlive(linked) {
		t.Fatalf("normal exit should not propagate to non-trapping links")
	}
}

func TestRegisterErrors(t *testing.T) {
	s := New()
	pid, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})
	if err := s.Register(term.FromAtomIndex(10), pid); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := s.Register(term.FromAtomIndex(10), pid); err != ErrNameTaken {
		t.Fatalf("duplicate Register should fail with ErrNameTaken, got %v", err)
	}
	if err := s.Register(term.FromAtomIndex(11), term.FromSmall(5)); err != ErrBadType {
		t.Fatalf("non-pid target should fail with ErrBadType, got %v", err)
	}
	deadPid := term.FromPidCounter(9999)
	if err := s.Register(term.FromAtomIndex(12), deadPid); err != ErrNotAlive {
		t.Fatalf("dead pid should fail with ErrNotAlive, got %v", err)
	}
}

func TestDeliverMessageToDeadPidSilentlySucceeds(t *testing.T) {
	s := New()
	fromHeap := heap.New(16)
	s.DeliverMessage(term.Nil, term.FromPidCounter(777), term.FromSmall(1), fromHeap)
}

func TestDeliverMessageCopiesOntoTargetHeap(t *testing.T) {
	s := New()
	fromHeap := heap.New(64)
	to, _ := s.Spawn(term.Nil, term.FromAtomIndex(1), 0, nil, SpawnOptions{Priority: process.PriorityNormal})
	tup, _ := object.NewTupleFrom(fromHeap, []term.Term{term.FromSmall(5)})
	s.DeliverMessage(term.Nil, to, tup, fromHeap)
	proc, _ := s.Process(to)
	msg, ok := proc.Mailbox.Peek()
	if !ok {
		t.Fatalf("expected delivered message")
	}
	if object.GetTupleElement(proc.Heap, msg, 0) != term.FromSmall(5) {
		t.Fatalf("delivered message content mismatch")
	}
}
