package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/srdglang/srdg/lang/disasm"
	"github.com/srdglang/srdg/lang/ir"
	"github.com/srdglang/srdg/lang/optimizer"
	"github.com/srdglang/srdg/lang/parser"
	"github.com/srdglang/srdg/lang/verifier"
)

// Compile compiles each source file to a bytecode blob. The binary blob is
// written to stdout, unless --disasm asks for the textual disassembly
// instead. With --verify, a blob failing verification aborts with the
// dedicated exit code.
func (c *Cmd) Compile(ctx context.Context, stdio mainer.Stdio, args []string) error {
	bud, err := c.budgets()
	if err != nil {
		return printError(stdio, err)
	}

	for _, path := range args {
		if err := ctx.Err(); err != nil {
			return err
		}
		blob, err := compileFile(path, c.Opt)
		if err != nil {
			return printError(stdio, err)
		}

		if c.VerifyBlob {
			if err := verifier.Verify(blob, bud); err != nil {
				fmt.Fprintf(stdio.Stderr, "%s: %s\n", path, err)
				return errVerifyFailed
			}
		}

		if c.ShowDisasm {
			text, err := disasm.Text(blob)
			if err != nil {
				return printError(stdio, err)
			}
			fmt.Fprintln(stdio.Stdout, text)
			continue
		}

		data, err := blob.Marshal()
		if err != nil {
			return printError(stdio, err)
		}
		if _, err := stdio.Stdout.Write(data); err != nil {
			return printError(stdio, err)
		}
	}
	return nil
}

// compileFile reads and compiles a single source file, optionally running
// the optimizer over the resulting stream.
func compileFile(path string, opt bool) (ir.Blob, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return ir.Blob{}, err
	}
	b, err := parser.Parse(src)
	if err != nil {
		return ir.Blob{}, fmt.Errorf("%s: %w", path, err)
	}
	blob := ir.FromBuilder(b)
	if opt {
		return optimizer.Optimize(blob, optimizer.DefaultOptions)
	}
	return blob, nil
}
