package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/srdglang/srdg/lang/lexer"
)

// Tokenize runs only the lexer phase over each file and prints the token
// stream with positions, one token per line.
func (c *Cmd) Tokenize(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return TokenizeFiles(ctx, stdio, args...)
}

// TokenizeFiles is the reusable body of the tokenize command: every token
// scanned is printed, then any accumulated lexical errors go to stderr.
func TokenizeFiles(ctx context.Context, stdio mainer.Stdio, files ...string) error {
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return printError(stdio, err)
		}
		toks, err := lexer.Tokenize(src)
		for _, tok := range toks {
			line, col := tok.Start.LineCol()
			fmt.Fprintf(stdio.Stdout, "%d:%d: %s\n", line, col, tok)
		}
		if err != nil {
			fmt.Fprintln(stdio.Stderr, err)
			return err
		}
	}
	return nil
}
