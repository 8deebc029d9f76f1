// Package optimizer rewrites an already-serialized opcode stream: it strips
// advisory trace/hook/NOP instructions and folds constant integer
// arithmetic and comparisons across contiguous literal runs. Both passes
// share the ir package's operand walker so neither can mis-parse a string
// reference or a multi-immediate instruction.
package optimizer

import (
	"github.com/srdglang/srdg/lang/ir"
	"github.com/srdglang/srdg/lang/opcode"
)

// Options controls which advisory instruction families the strip pass
// removes. The zero value strips only NOPs; callers that want the CLI's
// `--opt` behavior use DefaultOptions.
type Options struct {
	StripTrace bool
	StripHooks bool
}

// DefaultOptions strips both trace and hook markers, matching the CLI's
// `--opt` behavior.
var DefaultOptions = Options{StripTrace: true, StripHooks: true}

// Optimize runs both passes over blob and returns the rewritten blob. The
// string table is carried through unchanged — the optimizer never adds or
// removes interned strings, only instructions.
func Optimize(blob ir.Blob, opts Options) (ir.Blob, error) {
	stripped, err := strip(blob.Code, opts)
	if err != nil {
		return ir.Blob{}, err
	}
	folded, err := fold(stripped)
	if err != nil {
		return ir.Blob{}, err
	}
	return ir.Blob{Strings: blob.Strings, Code: folded}, nil
}

var traceOps = map[opcode.Op]bool{
	opcode.TRACE_START: true,
	opcode.TRACE_MARK:  true,
	opcode.TRACE_END:   true,
}

var hookOps = map[opcode.Op]bool{
	opcode.HOOK_PRE_RULE:  true,
	opcode.HOOK_POST_RULE: true,
}

func isStripped(op opcode.Op, opts Options) bool {
	if op == opcode.NOP {
		return true
	}
	if opts.StripTrace && traceOps[op] {
		return true
	}
	if opts.StripHooks && hookOps[op] {
		return true
	}
	return false
}

// strip is pass 1: copy every instruction verbatim except the advisory ones
// Options says to drop, correctly skipping a dropped instruction's operands
// via the shared decoder.
func strip(code []byte, opts Options) ([]byte, error) {
	out := make([]byte, 0, len(code))
	for pos := 0; pos < len(code); {
		in, err := ir.Decode(code, pos)
		if err != nil {
			return nil, err
		}
		if !isStripped(in.Op, opts) {
			out = append(out, code[in.Pos:in.Next]...)
		}
		pos = in.Next
	}
	return out, nil
}

// literal is one entry of the shadow stack fold mirrors: the folded integer
// value, and where in the output buffer its pushing instruction begins (so
// that folding a binary op can truncate both operands' bytes away and
// replace them with a single LITERAL_I64 of the result).
type literal struct {
	value    int64
	outStart int
}

// fold is pass 2: constant-fold ADD/SUB/MUL and the six comparisons across
// runs of contiguous integer literals, via a shadow stack that mirrors only
// the known-literal portion of the real value stack. Any instruction not
// explicitly handled below clears the shadow stack, per the conservative
// rule that an unknown-producing instruction (LOAD, LITERAL_STR, CALL, …)
// breaks a fold run.
func fold(code []byte) ([]byte, error) {
	out := make([]byte, 0, len(code))
	var stack []literal

	for pos := 0; pos < len(code); {
		in, err := ir.Decode(code, pos)
		if err != nil {
			return nil, err
		}

		switch {
		case in.Op == opcode.LITERAL_I64:
			start := len(out)
			out = append(out, code[in.Pos:in.Next]...)
			stack = append(stack, literal{value: in.Varint, outStart: start})

		case isFoldableArith(in.Op) && len(stack) >= 2:
			b, a := pop2(&stack)
			v := foldArith(in.Op, a.value, b.value)
			out = out[:a.outStart]
			out = emitLiteral(out, v)
			stack = append(stack, literal{value: v, outStart: a.outStart})

		case isFoldableCmp(in.Op) && len(stack) >= 2:
			b, a := pop2(&stack)
			v := foldCmp(in.Op, a.value, b.value)
			out = out[:a.outStart]
			out = emitLiteral(out, v)
			stack = append(stack, literal{value: v, outStart: a.outStart})

		default:
			stack = stack[:0]
			out = append(out, code[in.Pos:in.Next]...)
		}

		pos = in.Next
	}
	return out, nil
}

func pop2(stack *[]literal) (b, a literal) {
	n := len(*stack)
	b, a = (*stack)[n-1], (*stack)[n-2]
	*stack = (*stack)[:n-2]
	return b, a
}

func emitLiteral(out []byte, v int64) []byte {
	out = append(out, byte(opcode.LITERAL_I64))
	return ir.EncodeSVarint(out, v)
}

func isFoldableArith(op opcode.Op) bool {
	return op == opcode.ADD || op == opcode.SUB || op == opcode.MUL
}

func foldArith(op opcode.Op, a, b int64) int64 {
	switch op {
	case opcode.ADD:
		return a + b
	case opcode.SUB:
		return a - b
	default: // MUL
		return a * b
	}
}

func isFoldableCmp(op opcode.Op) bool {
	switch op {
	case opcode.CMP_GT, opcode.CMP_GE, opcode.CMP_LT, opcode.CMP_LE, opcode.CMP_EQ, opcode.CMP_NE:
		return true
	}
	return false
}

func foldCmp(op opcode.Op, a, b int64) int64 {
	var result bool
	switch op {
	case opcode.CMP_GT:
		result = a > b
	case opcode.CMP_GE:
		result = a >= b
	case opcode.CMP_LT:
		result = a < b
	case opcode.CMP_LE:
		result = a <= b
	case opcode.CMP_EQ:
		result = a == b
	default: // CMP_NE
		result = a != b
	}
	if result {
		return 1
	}
	return 0
}
