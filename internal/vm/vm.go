// Package vm wires the dispatcher, scheduler, code server, atom table,
// native-function registry, and shared binary heap into one runnable
// machine: the component every cmd/beamrt invocation boots and ticks.
package vm

import (
	"time"

	"beamrt/internal/atomtable"
	"beamrt/internal/codeserver"
	"beamrt/internal/dispatcher"
	"beamrt/internal/nativefn"
	"beamrt/internal/object"
	"beamrt/internal/process"
	"beamrt/internal/runtime"
	"beamrt/internal/scheduler"
	"beamrt/internal/term"
	"beamrt/internal/vmerrors"
)

// VM owns every shared collaborator and the one Dispatcher all
// processes run through.
type VM struct {
	Atoms   *atomtable.Table
	Code    *codeserver.Server
	Natives *nativefn.Registry
	BinHeap *object.BinHeap
	Sched   *scheduler.Scheduler
	Disp    *dispatcher.Dispatcher

	// waiting holds pids currently blocked in wait/wait_timeout, kept
	// off the scheduler's run queues until a message arrives or a
	// deadline elapses.
	waiting map[term.Term]bool

	bootPid       term.Term
	bootException *vmerrors.Exception
}

// New assembles a VM with empty module/native registries; callers load
// modules via VM.Code.Load and register natives via VM.Natives.Register
// before calling Boot.
func New() *VM {
	v := &VM{
		Atoms:   atomtable.New(),
		Code:    codeserver.New(),
		Natives: nativefn.NewRegistry(),
		BinHeap: object.NewBinHeap(),
		Sched:   scheduler.New(),
		waiting: make(map[term.Term]bool),
	}
	v.Disp = &dispatcher.Dispatcher{
		Code:     v.Code,
		Atoms:    v.Atoms,
		Natives:  v.Natives,
		BinHeap:  v.BinHeap,
		Sched:    v.Sched,
		VMHandle: v,
	}
	return v
}

// Boot spawns the initial process at module:entry with each of args
// delivered as its own mailbox message (the same convention as
// Scheduler.Spawn), and returns its pid.
func (v *VM) Boot(module term.Term, entry uint64, args []term.Term) term.Term {
	pid, err := v.Sched.Spawn(term.Nil, module, entry, args, scheduler.SpawnOptions{Priority: process.PriorityNormal})
	if err != nil {
		panic("vm: boot spawn failed: " + err.Error())
	}
	v.bootPid = pid
	return pid
}

// BootResult reports how the boot process (the one Boot spawned) ended:
// exc is nil on a clean `normal` exit, matching the CLI's 0/1 exit-code
// split (§6). It returns ok=false if the boot process has not finished
// yet.
func (v *VM) BootResult() (exc *vmerrors.Exception, ok bool) {
	if v.Sched.IsAlive(v.bootPid) {
		return nil, false
	}
	return v.bootException, true
}

// TickResult reports what a single Tick accomplished, used by cmd/
// beamrt to decide whether to keep driving the scheduler or exit.
type TickResult int

const (
	// Idle means no process was runnable this tick (every process is
	// either finished or blocked with no expired deadline); the caller
	// should sleep briefly before ticking again.
	Idle TickResult = iota
	// Progressed means some process executed at least one reduction.
	Progressed
	// Drained means there is no live process left at all.
	Drained
)

// Tick promotes any waiting process whose mailbox filled or deadline
// passed, then runs one scheduled process for up to the default
// reduction budget.
func (v *VM) Tick() TickResult {
	v.promoteWaiting()

	pid, ok := v.Sched.Next()
	if !ok {
		if len(v.waiting) > 0 {
			return Idle
		}
		return Drained
	}

	proc, ok := v.Sched.Process(pid)
	if !ok || !proc.Alive() {
		return Progressed
	}

	ctx := runtime.New()
	ctx.Restore(v.Sched.SavedContext(pid))

	verdict, exc := v.Disp.Run(ctx, proc, dispatcher.DefaultReductions)

	switch verdict {
	case dispatcher.Yield:
		v.Sched.SetSavedContext(pid, ctx.Save())
		v.Sched.Requeue(pid)
	case dispatcher.InfiniteWait:
		v.Sched.SetSavedContext(pid, ctx.Save())
		v.waiting[pid] = true
	case dispatcher.Finished:
		v.terminate(pid, exc)
	}
	return Progressed
}

// promoteWaiting moves every blocked process whose mailbox now has a
// message, or whose wait_timeout deadline has elapsed, back onto the
// scheduler's run queue.
func (v *VM) promoteWaiting() {
	now := time.Now()
	for pid := range v.waiting {
		proc, ok := v.Sched.Process(pid)
		if !ok || !proc.Alive() {
			delete(v.waiting, pid)
			continue
		}
		if _, hasMsg := proc.Mailbox.Peek(); hasMsg {
			delete(v.waiting, pid)
			proc.WaitDeadline = time.Time{}
			v.Sched.Requeue(pid)
			continue
		}
		if !proc.WaitDeadline.IsZero() && now.After(proc.WaitDeadline) {
			delete(v.waiting, pid)
			saved := v.Sched.SavedContext(pid)
			saved.IP = proc.WaitAfterIP
			v.Sched.SetSavedContext(pid, saved)
			proc.WaitDeadline = time.Time{}
			v.Sched.Requeue(pid)
		}
	}
}

// terminate reports a process's exit reason to the scheduler: `normal`
// on a clean return, otherwise the uncaught exception's own reason term
// (matching exit/1's convention that the broadcast reason is the raw
// term, not a wrapped {Class, Reason} pair).
func (v *VM) terminate(pid term.Term, exc *vmerrors.Exception) {
	reason := v.Atoms.WellKnown(atomtable.Normal)
	if exc != nil {
		reason = exc.Reason
	}
	if pid == v.bootPid {
		v.bootException = exc
	}
	exitTag := v.Atoms.WellKnown(atomtable.ExitMarker)
	normalAtom := v.Atoms.WellKnown(atomtable.Normal)
	v.Sched.Terminate(pid, reason, normalAtom, exitTag)
}
