// Package process implements the Process struct: everything owned by a
// single scheduled unit of execution except the transient VM registers,
// which live in the runtime package and are swapped in only while the
// process is running.
package process

import (
	"time"

	"beamrt/internal/heap"
	"beamrt/internal/term"
	"beamrt/internal/vmerrors"
)

// Priority orders a process's run queue; max is served before high,
// high before normal, normal before low.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityMax
)

// Flags holds the small set of per-process boolean switches named in
// the data model.
type Flags struct {
	TrapExit     bool
	SystemProcess bool
}

// Mailbox is an ordered queue of delivered messages plus a cursor used
// by loop_rec/loop_rec_end to scan without destructively removing
// messages that don't match a receive clause.
type Mailbox struct {
	messages []term.Term
	cursor   int
}

func (m *Mailbox) Deliver(t term.Term) { m.messages = append(m.messages, t) }

func (m *Mailbox) Len() int { return len(m.messages) }

// Peek returns the message at the scan cursor (loop_rec).
func (m *Mailbox) Peek() (term.Term, bool) {
	if m.cursor >= len(m.messages) {
		return 0, false
	}
	return m.messages[m.cursor], true
}

// Advance moves the scan cursor forward without removing anything
// (loop_rec_end on a non-matching message).
func (m *Mailbox) Advance() { m.cursor++ }

// Remove deletes the message currently under the scan cursor and resets
// the cursor to the mailbox head (remove_message).
func (m *Mailbox) Remove() {
	if m.cursor >= len(m.messages) {
		return
	}
	m.messages = append(m.messages[:m.cursor], m.messages[m.cursor+1:]...)
	m.cursor = 0
}

// ResetScan rewinds the cursor to the head, done when a receive block
// is entered.
func (m *Mailbox) ResetScan() { m.cursor = 0 }

// ExceptionState is the process's currently-active exception, visible
// to a catch handler as (class, reason, stacktrace) and cleared once
// handled.
type ExceptionState struct {
	Class      vmerrors.Class
	Reason     term.Term
	Stacktrace []vmerrors.StackFrame
}

// Process is one schedulable unit: pid, lineage, an owned heap, a
// mailbox, and the bookkeeping try/catch and exit-signal handling need.
type Process struct {
	Pid    term.Term
	Parent term.Term // NIL if this is the boot process

	Heap    *heap.Heap
	Mailbox Mailbox

	NumCatches int
	Exception  *ExceptionState

	Flags    Flags
	Priority Priority

	// Links: pids this process will notify (or be
	// notified by) on exit, per the cancellation model.
	Links []term.Term

	// WaitDeadline is set by wait_timeout the first time it suspends a
	// process and cleared once the scheduler promotes it back to the
	// run queue, either because a message arrived or the deadline
	// passed; the zero value means "no pending timeout".
	WaitDeadline time.Time

	// WaitAfterIP is the code offset to resume at once WaitDeadline
	// elapses (the `after Ms -> ...` block immediately following a
	// wait_timeout), as opposed to the loop_rec retry label normally
	// resumed at when a message arrives first.
	WaitAfterIP uint64

	alive bool
}

func New(pid, parent term.Term, heapWords int, priority Priority) *Process {
	return &Process{
		Pid:      pid,
		Parent:   parent,
		Heap:     heap.New(heapWords),
		Priority: priority,
		alive:    true,
	}
}

func (p *Process) Alive() bool    { return p.alive }
func (p *Process) Kill()         { p.alive = false }

func (p *Process) Link(other term.Term) {
	for _, l := range p.Links {
		if l == other {
			return
		}
	}
	p.Links = append(p.Links, other)
}

func (p *Process) Unlink(other term.Term) {
	for i, l := range p.Links {
		if l == other {
			p.Links = append(p.Links[:i], p.Links[i+1:]...)
			return
		}
	}
}

// SetException records the process's active exception ahead of a
// try/catch unwind; the catch target reads it back out via X[0..2].
func (p *Process) SetException(class vmerrors.Class, reason term.Term, stack []vmerrors.StackFrame) {
	p.Exception = &ExceptionState{Class: class, Reason: reason, Stacktrace: stack}
}

func (p *Process) ClearException() { p.Exception = nil }
