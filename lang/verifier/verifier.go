// Package verifier certifies the structural soundness and bounded resource
// usage of a compiled blob before it is handed to the VM: it walks the
// stream once with a symbolic stack of (is_literal_int, value) pairs,
// checking bracket balance and budgets, and uses the FOR_HINT annotation to
// statically bound any range-for loop it can.
package verifier

import (
	"fmt"

	"github.com/srdglang/srdg/lang/ir"
	"github.com/srdglang/srdg/lang/opcode"
)

// Kind identifies the category of verification failure.
type Kind uint8

const (
	StructuralUnderflow Kind = iota
	Unbalanced
	PrintBudget
	MutateBudget
	UnboundedLoop
	LoopBoundExceeded
	FORHintZeroStep
	FORHintBadInclusive
	CaptureInNonGlobal
	BadMagic
)

var kindNames = [...]string{
	StructuralUnderflow: "StructuralUnderflow",
	Unbalanced:          "Unbalanced",
	PrintBudget:         "PrintBudget",
	MutateBudget:        "MutateBudget",
	UnboundedLoop:       "UnboundedLoop",
	LoopBoundExceeded:   "LoopBoundExceeded",
	FORHintZeroStep:     "FORHintZeroStep",
	FORHintBadInclusive: "FORHintBadInclusive",
	CaptureInNonGlobal:  "CaptureInNonGlobal",
	BadMagic:            "BadMagic",
}

func (k Kind) String() string { return kindNames[k] }

// Error is a verification failure: its Kind plus a human-readable message
// and the byte offset it was detected at (Pos is -1 for whole-blob failures
// like BadMagic or the end-of-stream balance checks).
type Error struct {
	Kind Kind
	Msg  string
	Pos  int
}

func (e *Error) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s at %d: %s", e.Kind, e.Pos, e.Msg)
}

// Budgets bounds the verifier will enforce. The verifier never partially
// accepts a blob: it returns cleanly or surfaces the first failure.
type Budgets struct {
	Print    int
	Mutate   int
	LoopFuel int
}

// DefaultBudgets are the budgets used when none are configured.
var DefaultBudgets = Budgets{Print: 1000, Mutate: 1000, LoopFuel: 10000}

// VerifyBytes parses a serialized blob and verifies it, mapping a bad magic
// header to a BadMagic Error alongside the other verifier error kinds.
func VerifyBytes(data []byte, budgets Budgets) error {
	blob, err := ir.Parse(data)
	if err != nil {
		return &Error{Kind: BadMagic, Msg: err.Error(), Pos: -1}
	}
	return Verify(blob, budgets)
}

type literal struct {
	known bool
	value int64
}

// state carries the symbolic stack and structural counters across the
// single walk over the stream.
type state struct {
	stack                                      []literal
	scopeDepth, rangeDepth, ifDepth, loopDepth int
	prints, mutations, loopsUnknown            int

	// hintBound is set by a FOR_HINT that passed its own checks and is
	// consumed by the next LOOP_BEGIN: that loop's iteration count was
	// proven against LoopFuel, so it does not count as unknown even though
	// its condition is a LOAD/LOAD/CMP the symbolic stack cannot evaluate.
	hintBound bool

	// loopHeads counts LOOP_HEAD markers not yet matched by a LOOP_BEGIN.
	// The VM's backward loop scans land on these markers to re-evaluate the
	// condition, so a LOOP_BEGIN without one can never terminate.
	loopHeads int
}

// Verify walks blob's instruction stream once and returns the first
// violated invariant, or nil if the blob is structurally sound and within
// budget.
func Verify(blob ir.Blob, budgets Budgets) error {
	var st state

	for pos := 0; pos < len(blob.Code); {
		in, err := ir.Decode(blob.Code, pos)
		if err != nil {
			return &Error{Kind: Unbalanced, Msg: err.Error(), Pos: pos}
		}

		if err := st.step(blob, in, budgets); err != nil {
			return err
		}

		if st.scopeDepth < 0 || st.rangeDepth < 0 || st.ifDepth < 0 || st.loopDepth < 0 {
			return &Error{Kind: StructuralUnderflow, Msg: "a structural close exceeded its matching open", Pos: in.Pos}
		}

		pos = in.Next
	}

	if st.ifDepth != 0 || st.loopDepth != 0 || st.scopeDepth != 0 || st.rangeDepth != 0 || st.loopHeads != 0 {
		return &Error{Kind: Unbalanced, Msg: "structural brackets do not balance by end of stream", Pos: -1}
	}
	if st.prints > budgets.Print {
		return &Error{Kind: PrintBudget, Msg: fmt.Sprintf("%d prints > budget %d", st.prints, budgets.Print), Pos: -1}
	}
	if st.mutations > budgets.Mutate {
		return &Error{Kind: MutateBudget, Msg: fmt.Sprintf("%d mutations > budget %d", st.mutations, budgets.Mutate), Pos: -1}
	}
	if st.loopsUnknown > 0 {
		// A loop without a FOR_HINT has no static bound at all, so it is
		// rejected regardless of the configured LoopFuel; LoopFuel only
		// bounds loops the verifier can actually measure via FOR_HINT.
		return &Error{Kind: UnboundedLoop, Msg: fmt.Sprintf("%d loop(s) have no static FOR_HINT bound", st.loopsUnknown), Pos: -1}
	}
	return nil
}

func (st *state) push(v literal) { st.stack = append(st.stack, v) }

func (st *state) pop() (literal, bool) {
	n := len(st.stack)
	if n == 0 {
		return literal{}, false
	}
	v := st.stack[n-1]
	st.stack = st.stack[:n-1]
	return v, true
}

func (st *state) pop2() (a, b literal, ok bool) {
	if len(st.stack) < 2 {
		return literal{}, literal{}, false
	}
	b, _ = st.pop()
	a, _ = st.pop()
	return a, b, true
}

func (st *state) step(blob ir.Blob, in ir.Instruction, budgets Budgets) error {
	switch in.Op {
	case opcode.LITERAL_I64:
		st.push(literal{known: true, value: in.Varint})

	case opcode.LITERAL_STR:
		if _, err := blob.String(in.StrIdx); err != nil {
			return &Error{Kind: Unbalanced, Msg: err.Error(), Pos: in.Pos}
		}
		st.push(literal{})

	case opcode.FOR_HINT:
		a, b, s, inc := in.ForHint[0], in.ForHint[1], in.ForHint[2], in.ForHint[3]
		if s == 0 {
			return &Error{Kind: FORHintZeroStep, Msg: "FOR_HINT step cannot be zero", Pos: in.Pos}
		}
		if inc != 0 && inc != 1 {
			return &Error{Kind: FORHintBadInclusive, Msg: "FOR_HINT inclusive must be 0 or 1", Pos: in.Pos}
		}
		iters := forHintIters(a, b, s, inc == 1)
		if iters > int64(budgets.LoopFuel) {
			return &Error{Kind: LoopBoundExceeded, Msg: fmt.Sprintf("%d > LOOP_FUEL %d", iters, budgets.LoopFuel), Pos: in.Pos}
		}
		st.hintBound = true

	case opcode.ADD, opcode.SUB, opcode.MUL:
		// Folds only when the top two symbolic entries are both known
		// literals; otherwise the shadow stack is cleared — the same
		// conservative rule the optimizer's fold pass applies — so a stale
		// entry under an unknown operand can never be popped as if it were
		// the result of this operation.
		if n := len(st.stack); n >= 2 && st.stack[n-1].known && st.stack[n-2].known {
			a, b, _ := st.pop2()
			st.push(literal{known: true, value: arith(in.Op, a.value, b.value)})
		} else {
			st.stack = st.stack[:0]
		}

	case opcode.CMP_GT, opcode.CMP_GE, opcode.CMP_LT, opcode.CMP_LE, opcode.CMP_EQ, opcode.CMP_NE:
		if n := len(st.stack); n >= 2 && st.stack[n-1].known && st.stack[n-2].known {
			a, b, _ := st.pop2()
			st.push(literal{known: true, value: cmp(in.Op, a.value, b.value)})
		} else {
			st.stack = st.stack[:0]
		}

	case opcode.LOAD:
		if _, err := blob.String(in.StrIdx); err != nil {
			return &Error{Kind: Unbalanced, Msg: err.Error(), Pos: in.Pos}
		}
		st.push(literal{})

	case opcode.STORE:
		// The popped value may already have been dropped by a conservative
		// clear above, so an empty shadow stack here is not an error.
		if _, err := blob.String(in.StrIdx); err != nil {
			return &Error{Kind: Unbalanced, Msg: err.Error(), Pos: in.Pos}
		}
		st.pop()

	case opcode.BIND_CONST:
		// The symbolic stack is not popped here: BIND_CONST/BIND_MUT only
		// consume a real stack slot at runtime, which this literal-folding
		// shadow does not track.
		if _, err := blob.String(in.StrIdx); err != nil {
			return &Error{Kind: Unbalanced, Msg: err.Error(), Pos: in.Pos}
		}

	case opcode.BIND_MUT:
		if _, err := blob.String(in.StrIdx); err != nil {
			return &Error{Kind: Unbalanced, Msg: err.Error(), Pos: in.Pos}
		}
		st.mutations++

	case opcode.PRINT:
		st.prints++
		st.pop()

	case opcode.IF_BEGIN:
		st.pop()
		st.ifDepth++

	case opcode.IF_END:
		st.ifDepth--

	case opcode.LOOP_HEAD:
		st.loopHeads++

	case opcode.LOOP_BEGIN:
		if st.loopHeads == 0 {
			return &Error{Kind: StructuralUnderflow, Msg: "LOOP_BEGIN without a preceding loop header", Pos: in.Pos}
		}
		st.loopHeads--
		st.loopDepth++
		cond, ok := st.pop()
		switch {
		case st.hintBound:
			st.hintBound = false
		case !ok || !cond.known || cond.value == 0:
			st.loopsUnknown++
		}

	case opcode.LOOP_END:
		st.loopDepth--

	case opcode.SCOPE_ENTER:
		st.scopeDepth++

	case opcode.SCOPE_EXIT:
		st.scopeDepth--

	case opcode.RANGE_BEGIN:
		st.rangeDepth++

	case opcode.RANGE_END:
		st.rangeDepth--

	case opcode.FN_LABEL:
		if _, err := blob.String(in.StrIdx); err != nil {
			return &Error{Kind: Unbalanced, Msg: err.Error(), Pos: in.Pos}
		}
		for _, pidx := range in.Params {
			if _, err := blob.String(pidx); err != nil {
				return &Error{Kind: Unbalanced, Msg: err.Error(), Pos: in.Pos}
			}
		}
		if len(in.Captures) > 0 && st.scopeDepth > 1 {
			return &Error{Kind: CaptureInNonGlobal, Msg: "function declares captures outside global scope", Pos: in.Pos}
		}
		for _, cidx := range in.Captures {
			if _, err := blob.String(cidx); err != nil {
				return &Error{Kind: Unbalanced, Msg: err.Error(), Pos: in.Pos}
			}
		}

	case opcode.CALL:
		if _, err := blob.String(in.StrIdx); err != nil {
			return &Error{Kind: Unbalanced, Msg: err.Error(), Pos: in.Pos}
		}
	}

	return nil
}

// forHintIters computes the statically bounded iteration count for a
// FOR_HINT(a,b,step,inclusive), matching the range-for lowering's own
// comparison choice (CMP_LE/LT for step>=0, CMP_GE/GT for step<0).
func forHintIters(a, b, s int64, inclusive bool) int64 {
	incAdj := int64(0)
	if inclusive {
		incAdj = 1
	}
	if s > 0 {
		bound := b + incAdj
		return maxI64(0, ceilDiv(bound-a, s))
	}
	bound := b - incAdj
	return maxI64(0, ceilDiv(a-bound, -s))
}

// ceilDiv computes the ceiling of n/d for d > 0. A non-positive numerator
// yields zero, which the max(0, ...) at the call site would clamp anyway.
func ceilDiv(n, d int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func arith(op opcode.Op, a, b int64) int64 {
	switch op {
	case opcode.ADD:
		return a + b
	case opcode.SUB:
		return a - b
	default:
		return a * b
	}
}

func cmp(op opcode.Op, a, b int64) int64 {
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
	default:
		result = a != b
	}
	if result {
		return 1
	}
	return 0
}
