// Package disasm renders a compiled blob's instruction stream as text: one
// line per instruction, the opcode name followed by its operands in the
// operands rendered in a fixed textual shape, so a blob can be
// inspected without decoding bytes by hand.
package disasm

import (
	"fmt"
	"strings"

	"github.com/srdglang/srdg/lang/ir"
	"github.com/srdglang/srdg/lang/opcode"
)

// Text renders blob's instruction stream, one instruction per line, in the
// order the instructions appear in blob.Code.
func Text(blob ir.Blob) (string, error) {
	var lines []string
	for pos := 0; pos < len(blob.Code); {
		in, err := ir.Decode(blob.Code, pos)
		if err != nil {
			return "", fmt.Errorf("disasm: %w", err)
		}
		line, err := renderLine(blob, in)
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
		pos = in.Next
	}
	return strings.Join(lines, "\n"), nil
}

func renderLine(blob ir.Blob, in ir.Instruction) (string, error) {
	row := []string{in.Op.String()}

	switch in.Op {
	case opcode.LITERAL_I64, opcode.SCOPE_ENTER, opcode.SCOPE_EXIT,
		opcode.RANGE_BEGIN, opcode.RANGE_END, opcode.JMP, opcode.JMP_IF_FALSE:
		row = append(row, fmt.Sprintf("%d", in.Varint))

	case opcode.FOR_HINT:
		row = append(row,
			fmt.Sprintf("a=%d", in.ForHint[0]),
			fmt.Sprintf("b=%d", in.ForHint[1]),
			fmt.Sprintf("s=%d", in.ForHint[2]),
			fmt.Sprintf("inc=%d", in.ForHint[3]),
		)

	case opcode.LITERAL_STR, opcode.BIND_CONST, opcode.BIND_MUT,
		opcode.LOAD, opcode.STORE, opcode.CALL, opcode.FN_LABEL:
		s, err := blob.String(in.StrIdx)
		if err != nil {
			return "", fmt.Errorf("disasm: %s operand: %w", in.Op, err)
		}
		row = append(row, s)

		if in.Op == opcode.CALL {
			row = append(row, fmt.Sprintf("argc=%d", in.Argc))
		}
		if in.Op == opcode.FN_LABEL {
			row = append(row, fmt.Sprintf("params=%d", len(in.Params)))
			for _, idx := range in.Params {
				p, err := blob.String(idx)
				if err != nil {
					return "", fmt.Errorf("disasm: FN_LABEL param: %w", err)
				}
				row = append(row, "p:"+p)
			}
			row = append(row, fmt.Sprintf("captures=%d", len(in.Captures)))
			for _, idx := range in.Captures {
				c, err := blob.String(idx)
				if err != nil {
					return "", fmt.Errorf("disasm: FN_LABEL capture: %w", err)
				}
				row = append(row, "c:"+c)
			}
		}
	}

	return strings.Join(row, " "), nil
}
