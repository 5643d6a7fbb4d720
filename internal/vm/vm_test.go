package vm

import (
	"testing"

	"beamrt/internal/codeserver"
	"beamrt/internal/object"
	"beamrt/internal/opcode"
	"beamrt/internal/process"
	"beamrt/internal/scheduler"
	"beamrt/internal/term"
	"beamrt/internal/vmerrors"
)

// TestScenarioSpawnAndEcho drives the full VM (dispatcher + scheduler)
// through a spawn-and-echo round trip: the boot process spawns an echo
// process with its own pid and a payload as a startup message, the echo
// process replies with the same payload, and the boot process records
// what it got back via a native hook before exiting normally.
func TestScenarioSpawnAndEcho(t *testing.T) {
	machine := New()

	var recorded term.Term
	gotRecord := false

	echoModule := machine.Atoms.FromStr("echo_mod")
	bootModule := machine.Atoms.FromStr("boot_mod")
	utilModule := machine.Atoms.FromStr("util_mod")
	spawnFn := machine.Atoms.FromStr("spawn_echo")
	recordFn := machine.Atoms.FromStr("record")

	// --- echo module -------------------------------------------------------
	//
	// entry 0: loop_rec the single startup message (a 2-tuple of
	// {replyTo, payload}, delivered by SpawnFrom), reply to replyTo with
	// the same payload, then return.
	const echoFail = 19 // Return's index; never taken since the message is always present
	echoCode := []term.Term{
		opcode.EncodeOp(opcode.LoopRec), term.FromSmall(echoFail), term.FromRegisterRef(term.RegX, 0), // idx0
		opcode.EncodeOp(opcode.GetTupleElement), term.FromRegisterRef(term.RegX, 0), term.FromSmall(0), term.FromRegisterRef(term.RegX, 1), // idx3
		opcode.EncodeOp(opcode.GetTupleElement), term.FromRegisterRef(term.RegX, 0), term.FromSmall(1), term.FromRegisterRef(term.RegX, 2), // idx7
		opcode.EncodeOp(opcode.Move), term.FromRegisterRef(term.RegX, 1), term.FromRegisterRef(term.RegX, 0), // idx11: X0 = replyTo
		opcode.EncodeOp(opcode.Move), term.FromRegisterRef(term.RegX, 2), term.FromRegisterRef(term.RegX, 1), // idx14: X1 = payload
		opcode.EncodeOp(opcode.Send),          // idx17
		opcode.EncodeOp(opcode.RemoveMessage), // idx18
		opcode.EncodeOp(opcode.Return),        // idx19
	}
	echoMod := codeserver.NewModule(echoModule, echoCode, 0)
	machine.Code.Load(echoMod)

	// --- native util_mod:spawn_echo/1 --------------------------------------
	//
	// Spawns the echo process with a startup message of {self(), Arg},
	// mirroring how a real spawn/1 BIF would be implemented as a native.
	machine.Natives.Register(codeserver.MFA{Module: utilModule, Function: spawnFn, Arity: 1},
		func(vmHandle interface{}, proc *process.Process, args []term.Term) (term.Term, *vmerrors.Exception) {
			startup, err := object.NewTupleFrom(proc.Heap, []term.Term{proc.Pid, args[0]})
			if err != nil {
				return 0, vmerrors.SystemLimit(machine.Atoms)
			}
			pid, spawnErr := machine.Sched.SpawnFrom(proc.Pid, echoModule, 0, proc.Heap, []term.Term{startup}, scheduler.SpawnOptions{Priority: process.PriorityNormal, Link: true})
			if spawnErr != nil {
				return 0, vmerrors.SystemLimit(machine.Atoms)
			}
			return pid, nil
		})

	// --- native util_mod:record/1 -------------------------------------------
	machine.Natives.Register(codeserver.MFA{Module: utilModule, Function: recordFn, Arity: 1},
		func(vmHandle interface{}, proc *process.Process, args []term.Term) (term.Term, *vmerrors.Exception) {
			recorded = args[0]
			gotRecord = true
			return args[0], nil
		})

	// --- boot module ---------------------------------------------------------
	//
	// entry 0: move a payload into X0, call_ext spawn_echo(X0) -> X0=pid,
	// then loop_rec/wait_timeout (mirroring the preload bootstrap's
	// drain loop) until the echo's reply arrives, call_ext record(X0)
	// on it, then return.
	const (
		lLoopRec     = 6
		lWaitTimeout = 15
	)
	bootCode := []term.Term{
		opcode.EncodeOp(opcode.Move), term.FromSmall(123), term.FromRegisterRef(term.RegX, 0), // idx0: payload
		opcode.EncodeOp(opcode.CallExt), term.FromSmall(1), term.FromSmall(0), // idx3: spawn_echo(X0) -> X0=pid
		opcode.EncodeOp(opcode.LoopRec), term.FromSmall(lWaitTimeout), term.FromRegisterRef(term.RegX, 0), // idx6
		opcode.EncodeOp(opcode.CallExt), term.FromSmall(1), term.FromSmall(1), // idx9: record(X0)
		opcode.EncodeOp(opcode.RemoveMessage),                     // idx12
		opcode.EncodeOp(opcode.Jump), term.FromSmall(lLoopRec),    // idx13
		opcode.EncodeOp(opcode.WaitTimeout), term.FromSmall(lLoopRec), term.FromSmall(50), // idx15
		opcode.EncodeOp(opcode.Return), // idx18
	}
	bootMod := codeserver.NewModule(bootModule, bootCode, 0)
	bootMod.AddImport(codeserver.MFA{Module: utilModule, Function: spawnFn, Arity: 1})
	bootMod.AddImport(codeserver.MFA{Module: utilModule, Function: recordFn, Arity: 1})
	machine.Code.Load(bootMod)

	machine.Boot(bootModule, 0, nil)

	// Drive the scheduler until the boot process finishes or we give up
	// waiting far longer than should ever be required. The boot module's
	// trailing wait_timeout loop (mirroring the preload bootstrap) needs
	// real wall-clock milliseconds to elapse, so this spins generously
	// rather than bounding by tick count alone.
	const maxTicks = 2000000
	for i := 0; i < maxTicks; i++ {
		result := machine.Tick()
		if exc, ok := machine.BootResult(); ok {
			if exc != nil {
				t.Fatalf("boot process exited with exception: %v", exc)
			}
			break
		}
		if result == Drained {
			t.Fatalf("scheduler drained before the boot process finished")
		}
	}

	if !gotRecord {
		t.Fatalf("boot process never recorded the echo reply")
	}
	if recorded != term.FromSmall(123) {
		t.Fatalf("recorded payload = %v, want 123", recorded)
	}
}
