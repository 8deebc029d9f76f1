package maincmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mna/mainer"

	"github.com/srdglang/srdg/lang/verifier"
	"github.com/srdglang/srdg/lang/vm"
)

// Run compiles each source file and executes it. With --fuel, the blob is
// verified against the overridden loop budget before execution; with
// --trace, the execution's JSON-encoded trace log follows the program's
// own output on stdout.
func (c *Cmd) Run(ctx context.Context, stdio mainer.Stdio, args []string) error {
	for _, path := range args {
		if err := ctx.Err(); err != nil {
			return err
		}
		blob, err := compileFile(path, c.Opt)
		if err != nil {
			return printError(stdio, err)
		}

		if c.flags["fuel"] {
			bud, err := c.budgets()
			if err != nil {
				return printError(stdio, err)
			}
			if err := verifier.Verify(blob, bud); err != nil {
				fmt.Fprintf(stdio.Stderr, "%s: %s\n", path, err)
				return errVerifyFailed
			}
		}

		m, err := vm.New(blob)
		if err != nil {
			return printError(stdio, err)
		}
		m.Stdout = stdio.Stdout
		m.Trace = c.Trace
		if err := m.Run(); err != nil {
			return printError(stdio, err)
		}

		if c.Trace {
			enc := json.NewEncoder(stdio.Stdout)
			if err := enc.Encode(m.TraceLog); err != nil {
				return printError(stdio, err)
			}
		}
	}
	return nil
}
