// Command beamrt is the thin command-line shim named as an external
// collaborator in §4.6/§6: it parses the fixed flag set, wires a fresh
// VM together with the one bootstrap module internal/preload can
// produce (standing in for a real .beam loader), boots it, and drives
// the scheduler until the boot process exits; other processes still
// alive at that point are not run further. It carries no VM logic of its own — everything here is
// argument handling, process wiring, and the fatal-path crash dump.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kr/pretty"
	"github.com/mattn/go-isatty"

	"beamrt/internal/preload"
	"beamrt/internal/term"
	"beamrt/internal/vm"
	"beamrt/internal/vmerrors"
)

// searchPath collects repeated --search-path DIR flags; honored only as
// a programmatic list (§6 "core honors a programmatic search-path list
// only" — the launcher-level SEARCH_PATH environment variable is out of
// scope).
type searchPath []string

func (s *searchPath) String() string { return strings.Join(*s, ":") }

func (s *searchPath) Set(v string) error {
	*s = append(*s, v)
	return nil
}

const usage = `usage: beamrt [options] <boot_module> [args...]

options:
  --search-path DIR   add DIR to the module search path (repeatable)
  --no-preload        skip preloading built-in modules
  --compat=VERSION     one of r20, r21, r22

exit codes: 0 normal, 1 uncaught exception, 2 startup failure
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := flag.NewFlagSet("beamrt", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	var paths searchPath
	fs.Var(&paths, "search-path", "add DIR to the module search path")
	noPreload := fs.Bool("no-preload", false, "skip preloading built-in modules")
	compat := fs.String("compat", "r22", "compatibility mode: r20, r21, or r22")

	if err := fs.Parse(argv); err != nil {
		return 2
	}
	switch *compat {
	case "r20", "r21", "r22":
	default:
		fmt.Fprintf(os.Stderr, "beamrt: bad --compat %q (want r20, r21, or r22)\n", *compat)
		return 2
	}

	args := fs.Args()
	if len(args) < 1 {
		fs.Usage()
		return 2
	}
	bootModule := args[0]
	bootArgs := args[1:]

	if bootModule != preload.BootModuleName {
		fmt.Fprintf(os.Stderr, "beamrt: unknown boot module %q (no .beam loader wired in; only %q is preloaded)\n", bootModule, preload.BootModuleName)
		return 2
	}

	machine := vm.New()

	if *noPreload {
		fmt.Fprintln(os.Stderr, "beamrt: --no-preload requested but no other module source is wired; nothing to boot")
		return 2
	}
	module, entry := preload.Install(machine.Code, machine.Atoms, machine.Natives)

	termArgs := make([]term.Term, len(bootArgs))
	for i, a := range bootArgs {
		termArgs[i] = machine.Atoms.FromStr(a)
	}

	machine.Boot(module, entry, termArgs)

	return drive(machine)
}

// drive ticks the scheduler until the boot process has exited, sleeping
// briefly whenever a
// tick makes no progress (every live process is blocked in wait or
// wait_timeout with no expired deadline yet) rather than busy-spinning,
// and maps the boot process's own exit to the 0/1 exit-code split (§6).
func drive(machine *vm.VM) int {
	for {
		result := machine.Tick()
		if exc, ok := machine.BootResult(); ok {
			if exc != nil {
				fmt.Fprint(os.Stderr, crashDump(exc))
				return 1
			}
			return 0
		}
		if result == vm.Idle {
			time.Sleep(time.Millisecond)
		}
	}
}

// crashDump renders a fatal exception the way the fatal-dump path
// requires: vmerrors.Dump's structured report plus a kr/pretty rendering
// of whatever extra context the caller has on hand (a process or
// runtime-context snapshot), colorized only when stdout is a real
// terminal.
func crashDump(exc *vmerrors.Exception, context ...interface{}) string {
	report := vmerrors.Dump(exc)
	for _, c := range context {
		report += pretty.Sprint(c) + "\n"
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return report
	}
	return "\x1b[31m" + report + "\x1b[0m"
}
