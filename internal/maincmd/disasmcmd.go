package maincmd

import (
	"context"
	"fmt"

	"github.com/mna/mainer"

	"github.com/srdglang/srdg/lang/disasm"
)

// Disasm compiles each source file (optionally optimizing) and prints the
// disassembled instruction stream, without requiring compile --disasm.
func (c *Cmd) Disasm(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return DisasmFiles(ctx, stdio, c.Opt, args...)
}

// DisasmFiles is the reusable body of the disasm command.
func DisasmFiles(ctx context.Context, stdio mainer.Stdio, opt bool, files ...string) error {
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		blob, err := compileFile(path, opt)
		if err != nil {
			return printError(stdio, err)
		}
		text, err := disasm.Text(blob)
		if err != nil {
			return printError(stdio, err)
		}
		fmt.Fprintln(stdio.Stdout, text)
	}
	return nil
}
