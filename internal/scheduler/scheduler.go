// Package scheduler implements cooperative multi-process scheduling:
// four priority run-queues, the pid and name registries, spawn, and
// message delivery. It holds no opcode logic; the dispatcher calls back
// into it for exactly the operations named in the component design.
package scheduler

import (
	"beamrt/internal/heap"
	"beamrt/internal/object"
	"beamrt/internal/process"
	"beamrt/internal/runtime"
	"beamrt/internal/term"
)

// ErrNameTaken, ErrNotAlive, and ErrBadType are the three register/1
// failure modes named in the scheduler design.
type RegisterError int

const (
	ErrNameTaken RegisterError = iota
	ErrNotAlive
	ErrBadType
)

func (e RegisterError) Error() string {
	switch e {
	case ErrNameTaken:
		return "scheduler: name already registered"
	case ErrNotAlive:
		return "scheduler: target is not alive"
	default:
		return "scheduler: bad register target type"
	}
}

const defaultHeapWords = 1 << 12

// SpawnOptions configures a newly spawned process beyond its priority,
// the Go analogue of the original runtime's spawn_options.rs. Link
// wires spawn_link's companion behavior: the new process and parent
// are linked atomically at spawn time, so the two can never race a
// separate `link/1` call landing after one side has already exited.
// SystemProcess marks the spawned process with Flags.SystemProcess up
// front, the analogue of erts_internal:spawn_system_process/3 (a
// system process is spawned with that flag already set, not toggled
// on after the fact). Monitor-at-spawn, off-heap message queues, and a
// spawn-time min-heap hint are not modeled; see DESIGN.md for why each
// is out of scope.
type SpawnOptions struct {
	Priority      process.Priority
	Link          bool
	SystemProcess bool
}

// Scheduler owns every live process and the four priority run-queues.
type Scheduler struct {
	queues [4][]term.Term // indexed by process.Priority, holds pids FIFO

	byPid  map[term.Term]*process.Process
	saved  map[term.Term]runtime.Saved
	byName map[term.Term]term.Term // name atom -> pid

	nextPidCounter uint64
}

func New() *Scheduler {
	return &Scheduler{
		byPid:  make(map[term.Term]*process.Process),
		saved:  make(map[term.Term]runtime.Saved),
		byName: make(map[term.Term]term.Term),
	}
}

// Spawn allocates a fresh pid and a process with its own heap, and
// enqueues it. It assumes args are immediates resident on no heap at all
// (used for the boot process, whose arguments are plain atoms); each arg
// is delivered as its own mailbox message.
// Process code that spawns from a running process's own heap should use
// SpawnFrom instead, which performs the required deep copy.
func (s *Scheduler) Spawn(parent term.Term, module term.Term, entry uint64, args []term.Term, opts SpawnOptions) (term.Term, error) {
	pid := term.FromPidCounter(s.nextPidCounter)
	s.nextPidCounter++

	p := process.New(pid, parent, defaultHeapWords, opts.Priority)
	p.Flags.SystemProcess = opts.SystemProcess
	for _, a := range args {
		p.Mailbox.Deliver(a)
	}

	s.saved[pid] = runtime.Saved{IP: entry, CP: term.NonValue, Module: module}
	s.byPid[pid] = p
	s.enqueue(pid, opts.Priority)
	s.linkIfRequested(parent, pid, opts)
	return pid, nil
}

// SpawnFrom is Spawn but deep-copies args off of callerHeap onto the new
// process's heap, the path used by call_fun/spawn native functions
// where arguments live on the spawning process's own heap.
func (s *Scheduler) SpawnFrom(parent term.Term, module term.Term, entry uint64, callerHeap *heap.Heap, args []term.Term, opts SpawnOptions) (term.Term, error) {
	pid := term.FromPidCounter(s.nextPidCounter)
	s.nextPidCounter++

	p := process.New(pid, parent, defaultHeapWords, opts.Priority)
	p.Flags.SystemProcess = opts.SystemProcess
	for _, a := range args {
		v, err := object.CopyTerm(p.Heap, callerHeap, a)
		if err != nil {
			return 0, err
		}
		p.Mailbox.Deliver(v)
	}
	// Each copied arg is delivered as its own mailbox message rather
	// than pre-loaded into X registers; the entry code reads them with
	// loop_rec, keeping Spawn itself opcode-agnostic.

	s.saved[pid] = runtime.Saved{IP: entry, CP: term.NonValue, Module: module}
	s.byPid[pid] = p
	s.enqueue(pid, opts.Priority)
	s.linkIfRequested(parent, pid, opts)
	return pid, nil
}

// linkIfRequested wires spawn_link's bidirectional link between parent
// and the just-spawned pid when opts.Link is set. A parent that is NIL
// (the boot process has no spawner) or not found in the registry (a
// caller passing a stale pid) leaves the new process unlinked rather
// than erroring, matching Spawn/SpawnFrom's own "errors are impossible
// here" contract.
func (s *Scheduler) linkIfRequested(parent, child term.Term, opts SpawnOptions) {
	if !opts.Link || parent == term.Nil {
		return
	}
	parentProc, ok := s.byPid[parent]
	if !ok {
		return
	}
	childProc := s.byPid[child]
	parentProc.Link(child)
	childProc.Link(parent)
}

func (s *Scheduler) enqueue(pid term.Term, priority process.Priority) {
	s.queues[priority] = append(s.queues[priority], pid)
}

// Next pops the head pid of the highest-priority non-empty queue.
func (s *Scheduler) Next() (term.Term, bool) {
	for p := len(s.queues) - 1; p >= 0; p-- {
		if len(s.queues[p]) > 0 {
			pid := s.queues[p][0]
			s.queues[p] = s.queues[p][1:]
			return pid, true
		}
	}
	return 0, false
}

// Requeue re-enqueues a yielded process at the back of its priority
// queue.
func (s *Scheduler) Requeue(pid term.Term) {
	p, ok := s.byPid[pid]
	if !ok || !p.Alive() {
		return
	}
	s.enqueue(pid, p.Priority)
}

func (s *Scheduler) Process(pid term.Term) (*process.Process, bool) {
	p, ok := s.byPid[pid]
	return p, ok
}

func (s *Scheduler) SavedContext(pid term.Term) runtime.Saved { return s.saved[pid] }
func (s *Scheduler) SetSavedContext(pid term.Term, saved runtime.Saved) { s.saved[pid] = saved }

func (s *Scheduler) IsAlive(pid term.Term) bool {
	p, ok := s.byPid[pid]
	return ok && p.Alive()
}

// Terminate marks a process dead, removes it from the registries, and
// broadcasts its exit reason to linked processes per the cancellation
// model (trapping links receive {'EXIT', pid, reason} as a mailbox
// message; non-trapping links die too unless the reason is `normal`).
func (s *Scheduler) Terminate(pid, reason term.Term, normalAtom, exitTagAtom term.Term) {
	p, ok := s.byPid[pid]
	if !ok {
		return
	}
	p.Kill()
	delete(s.saved, pid)
	for name, bound := range s.byName {
		if bound == pid {
			delete(s.byName, name)
		}
	}
	for _, linked := range p.Links {
		lp, ok := s.byPid[linked]
		if !ok || !lp.Alive() {
			continue
		}
		if lp.Flags.TrapExit {
			exitMsg, err := object.NewTupleFrom(lp.Heap, []term.Term{exitTagAtom, pid, reason})
			if err == nil {
				lp.Mailbox.Deliver(exitMsg)
			}
			continue
		}
		if reason != normalAtom {
			s.Terminate(linked, reason, normalAtom, exitTagAtom)
		}
	}
}

// Register binds name to a pid (or port), rejecting name collisions and
// dead targets.
func (s *Scheduler) Register(name, target term.Term) error {
	if !term.IsLocalPid(target) && !term.IsLocalPort(target) {
		return ErrBadType
	}
	if _, taken := s.byName[name]; taken {
		return ErrNameTaken
	}
	if term.IsLocalPid(target) && !s.IsAlive(target) {
		return ErrNotAlive
	}
	s.byName[name] = target
	return nil
}

func (s *Scheduler) Unregister(name term.Term) { delete(s.byName, name) }

func (s *Scheduler) FindRegistered(name term.Term) (term.Term, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// DeliverMessage copies term onto the target's heap and appends it to
// the mailbox; delivering to a pid that no longer exists silently
// succeeds, matching the at-most-once, no-error semantics of send to a
// dead process.
func (s *Scheduler) DeliverMessage(from, to term.Term, msg term.Term, fromHeap *heap.Heap) {
	p, ok := s.byPid[to]
	if !ok || !p.Alive() {
		return
	}
	copied, err := object.CopyTerm(p.Heap, fromHeap, msg)
	if err != nil {
		return
	}
	p.Mailbox.Deliver(copied)
}
