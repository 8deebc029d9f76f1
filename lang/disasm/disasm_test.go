package disasm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/srdglang/srdg/lang/ir"
	"github.com/srdglang/srdg/lang/parser"
)

func compile(t *testing.T, src string) ir.Blob {
	t.Helper()
	b, err := parser.Parse([]byte(src))
	require.NoError(t, err)
	return ir.FromBuilder(b)
}

func TestTextRendersLiteralAndPrint(t *testing.T) {
	text, err := Text(compile(t, `let x = 1 print x`))
	require.NoError(t, err)
	lines := strings.Split(text, "\n")

	require.Contains(t, lines, "LITERAL_I64 1")
	require.Contains(t, lines, "BIND_CONST x")
	require.Contains(t, lines, "LOAD x")
	require.Contains(t, lines, "PRINT")
	require.Equal(t, "HALT", lines[len(lines)-1])
}

func TestTextRendersForHint(t *testing.T) {
	text, err := Text(compile(t, `for (i in 0..=2) { print i }`))
	require.NoError(t, err)

	var hint string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "FOR_HINT") {
			hint = line
			break
		}
	}
	require.Equal(t, "FOR_HINT a=0 b=2 s=1 inc=1", hint)
}

func TestTextRendersFunctionLabelAndCall(t *testing.T) {
	src := `let mut total = 0
fn addTo(n) capture [total] {
	total = n
}
addTo(5)`
	text, err := Text(compile(t, src))
	require.NoError(t, err)

	var label, call string
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "FN_LABEL"):
			label = line
		case strings.HasPrefix(line, "CALL"):
			call = line
		}
	}
	require.Equal(t, "FN_LABEL addTo params=1 p:n captures=1 c:total", label)
	require.Equal(t, "CALL addTo argc=1", call)
}

func TestTextRejectsTruncatedCode(t *testing.T) {
	blob := compile(t, `let x = 1 print x`)
	blob.Code = blob.Code[:len(blob.Code)/2]
	_, err := Text(blob)
	require.Error(t, err)
}
