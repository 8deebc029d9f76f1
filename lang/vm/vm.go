// Package vm is the stack virtual machine that executes a verified SRDG
// blob: an unstructured, IP-driven interpreter that realizes if/while/for
// control flow with forward/backward bracket scans rather than
// pre-resolved jump targets, backed by a lexically-scoped environment with
// per-name mutability and an explicit function call frame with capture
// binding by name.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/srdglang/srdg/lang/ir"
	"github.com/srdglang/srdg/lang/opcode"
)

// TraceEntry is one instruction's record in the optional trace log: the
// instruction pointer before its operands were consumed, the opcode's
// name, the value stack before and after execution, and an unboxed view of
// the current frame's bindings.
type TraceEntry struct {
	IPBeforeOperands int              `json:"ip_before_operands"`
	OpName           string           `json:"op_name"`
	StackBefore      []Value          `json:"stack_before"`
	EnvView          map[string]Value `json:"env_view"`
	StackAfter       []Value          `json:"stack_after"`
}

// VM holds all the execution state for one run of a blob: the value stack,
// the stack of call frames, the call stack of saved return addresses,
// and the function metadata table and instruction boundary table built by
// the pre-execution scan.
type VM struct {
	blob ir.Blob
	code []byte

	ip    int
	stack []Value

	frames    []*Frame
	callStack []int

	funcs         map[string]FuncMeta
	instrStarts   []int
	boundaryIndex map[int]int

	// Stdout receives PRINT output; defaults to os.Stdout.
	Stdout io.Writer

	// Trace enables recording of TraceLog. Leave false for normal execution.
	Trace    bool
	TraceLog []TraceEntry
}

// New builds a VM ready to run blob, running the pre-execution scan for
// its function metadata and instruction boundary tables.
func New(blob ir.Blob) (*VM, error) {
	funcs, starts, err := preScan(blob)
	if err != nil {
		return nil, err
	}
	boundaryIndex := make(map[int]int, len(starts))
	for i, p := range starts {
		boundaryIndex[p] = i
	}
	return &VM{
		blob:          blob,
		code:          blob.Code,
		frames:        []*Frame{newFrame()},
		funcs:         funcs,
		instrStarts:   starts,
		boundaryIndex: boundaryIndex,
		Stdout:        os.Stdout,
	}, nil
}

// Run executes the blob from its current ip (0 for a fresh VM) until HALT
// or an empty-call-stack RET.
func (m *VM) Run() error {
	for m.ip < len(m.code) {
		pos := m.ip
		in, err := ir.Decode(m.code, m.ip)
		if err != nil {
			return err
		}
		m.ip = in.Next

		var preStack []Value
		var preEnv map[string]Value
		if m.Trace {
			preStack = append([]Value(nil), m.stack...)
			preEnv = m.frame().view()
		}

		halt, err := m.exec(pos, in)
		if err != nil {
			return err
		}

		if m.Trace {
			m.TraceLog = append(m.TraceLog, TraceEntry{
				IPBeforeOperands: pos,
				OpName:           in.Op.String(),
				StackBefore:      preStack,
				EnvView:          preEnv,
				StackAfter:       append([]Value(nil), m.stack...),
			})
		}

		if halt {
			return nil
		}
	}
	return nil
}

// exec dispatches a single decoded instruction. It returns halt=true when
// the program should stop (HALT, or RET with an empty call stack).
func (m *VM) exec(pos int, in ir.Instruction) (bool, error) {
	switch in.Op {
	case opcode.HALT:
		return true, nil

	case opcode.NOP,
		opcode.SCOPE_ENTER, opcode.SCOPE_EXIT, opcode.RANGE_BEGIN, opcode.RANGE_END,
		opcode.TRACE_START, opcode.TRACE_MARK, opcode.TRACE_END,
		opcode.HOOK_PRE_RULE, opcode.HOOK_POST_RULE,
		opcode.FOR_HINT, opcode.LOOP_HEAD:
		// Advisory and structural markers: runtime no-ops. Their operands
		// were already consumed by Decode; scope lifecycles are realized by
		// CALL/RET and the parser's own bracket discipline, not by these.

	case opcode.FN_LABEL:
		// A function declaration's body only ever runs when CALL jumps to
		// its recorded EntryIP; normal top-level flow must skip over it
		// instead of falling into it, so that a fn declared before its
		// first call site doesn't terminate the program at the function's
		// own trailing RET before that call is ever reached.
		if err := m.skipFunctionBody(); err != nil {
			return false, err
		}

	case opcode.LITERAL_I64:
		m.push(in.Varint)

	case opcode.LITERAL_STR:
		s, err := m.blob.String(in.StrIdx)
		if err != nil {
			return false, &Error{Kind: BadMarker, Msg: err.Error(), IP: pos}
		}
		m.push(s)

	case opcode.BIND_CONST:
		name, err := m.blob.String(in.StrIdx)
		if err != nil {
			return false, &Error{Kind: BadMarker, Msg: err.Error(), IP: pos}
		}
		m.frame().define(name, m.pop(), false)

	case opcode.BIND_MUT:
		name, err := m.blob.String(in.StrIdx)
		if err != nil {
			return false, &Error{Kind: BadMarker, Msg: err.Error(), IP: pos}
		}
		m.frame().define(name, m.pop(), true)

	case opcode.LOAD:
		name, err := m.blob.String(in.StrIdx)
		if err != nil {
			return false, &Error{Kind: BadMarker, Msg: err.Error(), IP: pos}
		}
		v, err := m.resolveLoad(pos, name)
		if err != nil {
			return false, err
		}
		m.push(v)

	case opcode.STORE:
		name, err := m.blob.String(in.StrIdx)
		if err != nil {
			return false, &Error{Kind: BadMarker, Msg: err.Error(), IP: pos}
		}
		if err := m.resolveStore(pos, name, m.pop()); err != nil {
			return false, err
		}

	case opcode.PRINT:
		fmt.Fprintln(m.Stdout, m.pop())

	case opcode.ADD, opcode.SUB, opcode.MUL, opcode.DIV, opcode.MOD:
		b, a := m.pop(), m.pop()
		v, err := arith(pos, in.Op, a, b)
		if err != nil {
			return false, err
		}
		m.push(v)

	case opcode.CMP_GT, opcode.CMP_GE, opcode.CMP_LT, opcode.CMP_LE, opcode.CMP_EQ, opcode.CMP_NE:
		b, a := m.pop(), m.pop()
		v, err := cmp(pos, in.Op, a, b)
		if err != nil {
			return false, err
		}
		m.push(v)

	case opcode.IF_BEGIN:
		if !truthy(m.pop()) {
			if err := m.skipToElseOrEnd(); err != nil {
				return false, err
			}
		}

	case opcode.IF_ELSE:
		if err := m.skipToIfEnd(); err != nil {
			return false, err
		}

	case opcode.IF_END:
		// no-op

	case opcode.LOOP_BEGIN:
		if !truthy(m.pop()) {
			if err := m.skipToLoopEnd(); err != nil {
				return false, err
			}
		}

	case opcode.LOOP_END, opcode.LOOP_CONTINUE:
		if err := m.jumpBackToLoopHead(pos); err != nil {
			return false, err
		}

	case opcode.LOOP_BREAK:
		if err := m.skipToLoopEnd(); err != nil {
			return false, err
		}

	case opcode.JMP:
		m.ip = int(in.Varint)

	case opcode.JMP_IF_FALSE:
		if !truthy(m.pop()) {
			m.ip = int(in.Varint)
		}

	case opcode.CALL:
		if err := m.call(pos, in); err != nil {
			return false, err
		}

	case opcode.RET:
		if len(m.callStack) == 0 {
			return true, nil
		}
		m.frames = m.frames[:len(m.frames)-1]
		n := len(m.callStack) - 1
		m.ip = m.callStack[n]
		m.callStack = m.callStack[:n]

	default:
		return false, &Error{Kind: UnknownOpcode, Msg: fmt.Sprintf("opcode %s", in.Op), IP: pos}
	}
	return false, nil
}

func (m *VM) frame() *Frame { return m.frames[len(m.frames)-1] }

func (m *VM) push(v Value) { m.stack = append(m.stack, v) }

// pop assumes a verified blob: popping an empty stack is a compiler
// invariant violation, not a reportable VMError, so it panics rather than
// silently returning a zero value.
func (m *VM) pop() Value {
	n := len(m.stack) - 1
	v := m.stack[n]
	m.stack = m.stack[:n]
	return v
}

func (m *VM) resolveLoad(pos int, name string) (Value, error) {
	for i := len(m.frames) - 1; i >= 0; i-- {
		if b, ok := m.frames[i].lookup(name); ok {
			return b.value, nil
		}
	}
	return nil, &Error{Kind: UnknownVariable, Msg: fmt.Sprintf("unknown variable %q", name), IP: pos}
}

func (m *VM) resolveStore(pos int, name string, v Value) error {
	for i := len(m.frames) - 1; i >= 0; i-- {
		if b, ok := m.frames[i].lookup(name); ok {
			if !b.mut {
				return &Error{Kind: ConstAssignment, Msg: fmt.Sprintf("variable %q is const", name), IP: pos}
			}
			b.value = v
			return nil
		}
	}
	return &Error{Kind: UnknownVariable, Msg: fmt.Sprintf("unknown variable %q", name), IP: pos}
}

func (m *VM) lookupBinding(name string) (*binding, bool) {
	for i := len(m.frames) - 1; i >= 0; i-- {
		if b, ok := m.frames[i].lookup(name); ok {
			return b, true
		}
	}
	return nil, false
}

// call resolves the callee's metadata, binds argc popped values to its
// parameters in reverse pop order (the last-pushed argument binds to the
// last parameter), resolves each declared capture by name against the
// calling frame chain and shares its binding (not a copy of its value) with
// the new frame, then pushes the new frame and jumps to the callee's entry.
//
// CALL does not push a return value onto the value stack: per the
// language's grammar a call is only ever a statement, never an operand of
// an expression, so RET's optional expression result (if any) is simply
// left on the shared value stack rather than being consumed by the caller.
func (m *VM) call(pos int, in ir.Instruction) error {
	name, err := m.blob.String(in.StrIdx)
	if err != nil {
		return &Error{Kind: BadMarker, Msg: err.Error(), IP: pos}
	}
	meta, ok := m.funcs[name]
	if !ok {
		return &Error{Kind: UnknownVariable, Msg: fmt.Sprintf("unknown function %q", name), IP: pos}
	}
	if int(in.Argc) != len(meta.Params) {
		return &Error{Kind: ArityMismatch, Msg: fmt.Sprintf("%s: expected %d args, got %d", name, len(meta.Params), in.Argc), IP: pos}
	}

	next := newFrame()
	for i := len(meta.Params) - 1; i >= 0; i-- {
		next.define(meta.Params[i], m.pop(), false)
	}
	for _, cname := range meta.Captures {
		b, ok := m.lookupBinding(cname)
		if !ok {
			return &Error{Kind: CaptureNotFound, Msg: fmt.Sprintf("capture %q not found", cname), IP: pos}
		}
		next.bind(cname, b)
	}

	m.frames = append(m.frames, next)
	m.callStack = append(m.callStack, m.ip)
	m.ip = meta.EntryIP
	return nil
}

// skipToElseOrEnd advances past an untaken if-branch to its matching
// IF_ELSE (at depth 1) or, absent one, its matching IF_END.
func (m *VM) skipToElseOrEnd() error {
	depth := 1
	for m.ip < len(m.code) {
		in, err := ir.Decode(m.code, m.ip)
		if err != nil {
			return err
		}
		switch in.Op {
		case opcode.IF_BEGIN:
			depth++
		case opcode.IF_END:
			depth--
			if depth == 0 {
				m.ip = in.Next
				return nil
			}
		case opcode.IF_ELSE:
			if depth == 1 {
				m.ip = in.Next
				return nil
			}
		}
		m.ip = in.Next
	}
	return &Error{Kind: BadMarker, Msg: "IF_BEGIN without matching IF_END", IP: m.ip}
}

// skipToIfEnd advances past an untaken else-branch to its matching IF_END.
func (m *VM) skipToIfEnd() error {
	depth := 1
	for m.ip < len(m.code) {
		in, err := ir.Decode(m.code, m.ip)
		if err != nil {
			return err
		}
		switch in.Op {
		case opcode.IF_BEGIN:
			depth++
		case opcode.IF_END:
			depth--
			if depth == 0 {
				m.ip = in.Next
				return nil
			}
		}
		m.ip = in.Next
	}
	return &Error{Kind: BadMarker, Msg: "IF_ELSE without matching IF_END", IP: m.ip}
}

// skipToLoopEnd advances past a loop body — either because its condition
// was false on entry, or because LOOP_BREAK was hit — to the matching
// LOOP_END.
func (m *VM) skipToLoopEnd() error {
	depth := 1
	for m.ip < len(m.code) {
		in, err := ir.Decode(m.code, m.ip)
		if err != nil {
			return err
		}
		switch in.Op {
		case opcode.LOOP_BEGIN:
			depth++
		case opcode.LOOP_END:
			depth--
			if depth == 0 {
				m.ip = in.Next
				return nil
			}
		}
		m.ip = in.Next
	}
	return &Error{Kind: BadMarker, Msg: "LOOP_BEGIN without matching LOOP_END", IP: m.ip}
}

// skipFunctionBody advances ip from a FN_LABEL's EntryIP (the byte right
// after the label's own operands) past the function's entire body to the
// byte after its trailing RET. A function body always opens with its own
// SCOPE_ENTER and, once that scope's matching SCOPE_EXIT is reached, is
// followed immediately by exactly one RET (fnDecl emits it unconditionally
// after closing the body's scope); any nested block inside the body — an
// if, while, or for — opens and closes its own scope first, so tracking
// SCOPE_ENTER/SCOPE_EXIT depth finds the function's own closing scope
// unambiguously, without needing to special-case RET instructions reached
// from an early return nested inside the body.
func (m *VM) skipFunctionBody() error {
	depth := 0
	entered := false
	for m.ip < len(m.code) {
		in, err := ir.Decode(m.code, m.ip)
		if err != nil {
			return err
		}
		switch in.Op {
		case opcode.SCOPE_ENTER:
			depth++
			entered = true
		case opcode.SCOPE_EXIT:
			depth--
		}
		m.ip = in.Next
		if entered && depth == 0 {
			ret, err := ir.Decode(m.code, m.ip)
			if err != nil {
				return err
			}
			m.ip = ret.Next
			return nil
		}
	}
	return &Error{Kind: BadMarker, Msg: "FN_LABEL body missing its closing scope", IP: m.ip}
}

// jumpBackToLoopHead moves ip to the first condition instruction of the
// loop enclosing the LOOP_END or LOOP_CONTINUE at fromPos, i.e. the
// instruction just after the loop's LOOP_HEAD marker. The condition is
// emitted between LOOP_HEAD and LOOP_BEGIN, so landing there re-evaluates
// it and LOOP_BEGIN pops the fresh result; landing anywhere later would
// skip the condition entirely and the loop could never terminate.
// Matching pairs LOOP_END openers with LOOP_HEAD closers — the LOOP_BEGINs
// in between are not counted, since each loop contributes exactly one of
// each and conditions cannot contain loops.
// The scan steps backward through the precomputed instruction boundary
// table rather than raw bytes: walking raw bytes backward cannot
// distinguish an operand byte from an opcode byte, so an operand that
// happens to collide with a marker's numeric code would corrupt the scan.
func (m *VM) jumpBackToLoopHead(fromPos int) error {
	idx, ok := m.boundaryIndex[fromPos]
	if !ok {
		return &Error{Kind: BadMarker, Msg: "current instruction is not a recorded boundary", IP: fromPos}
	}
	depth := 1
	for idx > 0 {
		idx--
		pos := m.instrStarts[idx]
		switch opcode.Op(m.code[pos]) {
		case opcode.LOOP_END:
			depth++
		case opcode.LOOP_HEAD:
			depth--
			if depth == 0 {
				m.ip = pos + 1 // LOOP_HEAD carries no operand
				return nil
			}
		}
	}
	return &Error{Kind: BadMarker, Msg: "LOOP_END without matching LOOP_HEAD", IP: fromPos}
}

func truthy(v Value) bool {
	switch x := v.(type) {
	case int64:
		return x != 0
	case string:
		return x != ""
	default:
		return false
	}
}

// arith implements the five integer operations. Division and modulus
// truncate toward zero. Non-integer operands reach here through
// grammatically valid programs (the verifier does not type operands), so
// they surface as a TypeMismatch error rather than a failed assertion.
func arith(pos int, op opcode.Op, a, b Value) (int64, error) {
	x, okA := a.(int64)
	y, okB := b.(int64)
	if !okA || !okB {
		return 0, &Error{Kind: TypeMismatch, Msg: fmt.Sprintf("%s needs integer operands, got %T and %T", op, a, b), IP: pos}
	}
	switch op {
	case opcode.ADD:
		return x + y, nil
	case opcode.SUB:
		return x - y, nil
	case opcode.MUL:
		return x * y, nil
	case opcode.DIV:
		return x / y, nil
	default: // MOD
		return x % y, nil
	}
}

// cmp implements the six comparisons for both scalar types the language
// supports: int64 (ordered and equality) and string (lexical ordering and
// equality). Comparing an integer to a string is a TypeMismatch error.
func cmp(pos int, op opcode.Op, a, b Value) (int64, error) {
	var result bool
	switch x := a.(type) {
	case int64:
		y, ok := b.(int64)
		if !ok {
			return 0, &Error{Kind: TypeMismatch, Msg: fmt.Sprintf("%s needs operands of the same type, got %T and %T", op, a, b), IP: pos}
		}
		result = cmpOrdered(op, x, y)
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, &Error{Kind: TypeMismatch, Msg: fmt.Sprintf("%s needs operands of the same type, got %T and %T", op, a, b), IP: pos}
		}
		result = cmpOrdered(op, x, y)
	default:
		return 0, &Error{Kind: TypeMismatch, Msg: fmt.Sprintf("%s cannot compare %T values", op, a), IP: pos}
	}
	if result {
		return 1, nil
	}
	return 0, nil
}

func cmpOrdered[T int64 | string](op opcode.Op, x, y T) bool {
	switch op {
	case opcode.CMP_GT:
		return x > y
	case opcode.CMP_GE:
		return x >= y
	case opcode.CMP_LT:
		return x < y
	case opcode.CMP_LE:
		return x <= y
	case opcode.CMP_EQ:
		return x == y
	default: // CMP_NE
		return x != y
	}
}
