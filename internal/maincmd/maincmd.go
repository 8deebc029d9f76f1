// Package maincmd implements the srdg command-line tool: flag parsing and
// subcommand dispatch for the compile, run, tokenize and disasm commands.
// Subcommands are exported methods on Cmd discovered by reflection, so
// adding a command is adding a method with the right signature.
package maincmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mna/mainer"

	"github.com/srdglang/srdg/internal/config"
	"github.com/srdglang/srdg/lang/verifier"
)

const binName = "srdg"

// verifyFailedExit is the exit code for a verification failure, distinct
// from the generic failure code so scripts can tell a rejected program from
// a broken invocation.
const verifyFailedExit = mainer.ExitCode(2)

// errVerifyFailed marks a verification failure so Main can map it to
// verifyFailedExit. The failure itself is already printed to stderr by the
// command that detected it.
var errVerifyFailed = errors.New("verification failed")

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <command> <path>...
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] <command> <path>...
       %[1]s -h|--help
       %[1]s -v|--version

Compiler, optimizer, verifier and virtual machine for the %[1]s
bytecode language.

The <command> can be one of:
       compile                   Compile each source file to a bytecode
                                 blob written to standard output in
                                 binary form.
       run                       Compile each source file and execute it.
       tokenize                  Execute only the lexer phase and print
                                 the resulting tokens with positions.
       disasm                    Compile each source file and print the
                                 disassembled instruction stream.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.

Valid flag options for the <compile> command are:
       --opt                     Optimize the stream before writing it.
       --verify                  Verify the blob; exit with code 2 if
                                 verification fails.
       --disasm                  Print the disassembly instead of writing
                                 the binary blob.

Valid flag options for the <run> command are:
       --opt                     Optimize the stream before executing.
       --trace                   Append a JSON-encoded trace log of the
                                 execution to standard output.
       --fuel N                  Verify before executing, with the loop
                                 iteration budget overridden to N.

Valid flag options for the <disasm> command are:
       --opt                     Optimize the stream before printing.

The verifier budgets default to PRINT=1000, MUTATE=1000, LOOP_FUEL=10000
and can be overridden with the SRDG_PRINT_BUDGET, SRDG_MUTATE_BUDGET and
SRDG_LOOP_FUEL environment variables.
`, binName)
)

type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	Opt        bool `flag:"opt"`
	VerifyBlob bool `flag:"verify"`
	ShowDisasm bool `flag:"disasm"`
	Trace      bool `flag:"trace"`
	Fuel       int  `flag:"fuel"`

	args  []string
	flags map[string]bool
	cmdFn func(context.Context, mainer.Stdio, []string) error
}

func (c *Cmd) SetArgs(args []string) {
	c.args = args
}

func (c *Cmd) SetFlags(flags map[string]bool) {
	c.flags = flags
}

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}

	if len(c.args) == 0 {
		return errors.New("no command specified")
	}

	cmdName := c.args[0]

	commands := buildCmds(c)
	c.cmdFn = commands[cmdName]
	if c.cmdFn == nil {
		return fmt.Errorf("unknown command: %s", c.args[0])
	}

	if len(c.args[1:]) == 0 {
		return fmt.Errorf("%s: at least one file must be provided", cmdName)
	}

	for flag, validFor := range map[string]map[string]bool{
		"opt":    {"compile": true, "run": true, "disasm": true},
		"verify": {"compile": true},
		"disasm": {"compile": true},
		"trace":  {"run": true},
		"fuel":   {"run": true},
	} {
		if c.flags[flag] && !validFor[cmdName] {
			return fmt.Errorf("%s: invalid flag '%s'", cmdName, flag)
		}
	}
	if c.flags["fuel"] && c.Fuel < 0 {
		return errors.New("run: fuel cannot be negative")
	}

	return nil
}

// budgets resolves the verifier budgets for this invocation: the
// environment-configured values, with --fuel overriding the loop budget.
func (c *Cmd) budgets() (verifier.Budgets, error) {
	cfg, err := config.Load()
	if err != nil {
		return verifier.Budgets{}, err
	}
	bud := cfg.Budgets()
	if c.flags["fuel"] {
		bud.LoopFuel = c.Fuel
	}
	return bud, nil
}

func printError(stdio mainer.Stdio, err error) error {
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
	}
	return err
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{
		EnvVars:   false,
		EnvPrefix: binName + "_",
	}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success

	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	if err := c.cmdFn(ctx, stdio, c.args[1:]); err != nil {
		// each command takes care of printing its errors, just return with an
		// error code
		if errors.Is(err, errVerifyFailed) {
			return verifyFailedExit
		}
		return mainer.Failure
	}
	return mainer.Success
}

// valid commands are those that take a mainer.Stdio and a slice of strings as
// input, and return an error as output.
func buildCmds(v interface{}) map[string]func(context.Context, mainer.Stdio, []string) error {
	cmds := make(map[string]func(context.Context, mainer.Stdio, []string) error)

	vv := reflect.ValueOf(v)
	vt := vv.Type()
	for i := 0; i < vt.NumMethod(); i++ {
		m := vt.Method(i)
		mt := m.Type

		// must take 4 parameters (including receiver) and return 1
		if mt.NumIn() != 4 || mt.NumOut() != 1 {
			continue
		}

		if rt := mt.Out(0); rt.Kind() != reflect.Interface || rt.Name() != "error" {
			continue
		}
		if p0 := mt.In(0); p0.Kind() != reflect.Ptr || p0.Elem().Name() != "Cmd" {
			continue
		}
		if p1 := mt.In(1); p1.Kind() != reflect.Interface || p1.Name() != "Context" {
			continue
		}
		if p2 := mt.In(2); p2.Kind() != reflect.Struct || p2.Name() != "Stdio" {
			continue
		}
		if p3 := mt.In(3); p3.Kind() != reflect.Slice || p3.Elem().Name() != "string" {
			continue
		}
		cmds[strings.ToLower(m.Name)] = vv.Method(i).Interface().(func(context.Context, mainer.Stdio, []string) error)
	}
	return cmds
}
