package ir

import (
	"github.com/dolthub/swiss"

	"github.com/srdglang/srdg/lang/opcode"
	"github.com/srdglang/srdg/lang/token"
)

// Builder accumulates an opcode stream and the string table referenced from
// it. Every LITERAL_STR, BIND_CONST, BIND_MUT, LOAD, STORE, CALL and
// FN_LABEL name is interned exactly once; the stream carries only the
// resulting index, prefixed with StrMarker.
type Builder struct {
	code    []byte
	strings []string
	interns *swiss.Map[string, int]

	// Positions records the source Pos of the opcode byte at each emitted
	// instruction, indexed by the same offsets used in code. It is sparse:
	// only offsets that are instruction starts are populated for lookup by
	// callers that need diagnostics. Positions are not carried into a Blob,
	// so the verifier and the VM do not see them.
	Positions map[int]token.Pos
}

// NewBuilder returns an empty Builder ready to emit instructions.
func NewBuilder() *Builder {
	return &Builder{
		interns:   swiss.NewMap[string, int](16),
		Positions: make(map[int]token.Pos),
	}
}

// Intern returns the string table index for s, adding it to the table if
// this is the first occurrence.
func (b *Builder) Intern(s string) int {
	if idx, ok := b.interns.Get(s); ok {
		return idx
	}
	idx := len(b.strings)
	b.strings = append(b.strings, s)
	b.interns.Put(s, idx)
	return idx
}

// Strings returns the interned string table in index order.
func (b *Builder) Strings() []string { return b.strings }

// Len returns the current length of the emitted code stream, i.e. the
// offset the next emitted instruction will start at.
func (b *Builder) Len() int { return len(b.code) }

// Bytes returns the emitted code stream.
func (b *Builder) Bytes() []byte { return b.code }

func (b *Builder) mark(pos token.Pos) int {
	start := len(b.code)
	if !pos.Unknown() {
		b.Positions[start] = pos
	}
	return start
}

func (b *Builder) emitOp(op opcode.Op) { b.code = append(b.code, byte(op)) }

func (b *Builder) emitSVarint(v int64) { b.code = EncodeSVarint(b.code, v) }

func (b *Builder) emitStrRef(idx int) {
	b.code = append(b.code, StrMarker)
	b.emitSVarint(int64(idx))
}

// Emit appends a no-operand instruction and returns its offset.
func (b *Builder) Emit(pos token.Pos, op opcode.Op) int {
	start := b.mark(pos)
	b.emitOp(op)
	return start
}

// EmitVarint appends an instruction carrying a single svarint operand.
func (b *Builder) EmitVarint(pos token.Pos, op opcode.Op, v int64) int {
	start := b.mark(pos)
	b.emitOp(op)
	b.emitSVarint(v)
	return start
}

// EmitForHint appends a FOR_HINT instruction.
func (b *Builder) EmitForHint(pos token.Pos, a, lim, step, inclusive int64) int {
	start := b.mark(pos)
	b.emitOp(opcode.FOR_HINT)
	b.emitSVarint(a)
	b.emitSVarint(lim)
	b.emitSVarint(step)
	b.emitSVarint(inclusive)
	return start
}

// EmitString appends an instruction carrying one interned string reference
// (LITERAL_STR, BIND_CONST, BIND_MUT, LOAD, STORE).
func (b *Builder) EmitString(pos token.Pos, op opcode.Op, s string) int {
	start := b.mark(pos)
	b.emitOp(op)
	b.emitStrRef(b.Intern(s))
	return start
}

// EmitCall appends a CALL instruction.
func (b *Builder) EmitCall(pos token.Pos, name string, argc int64) int {
	start := b.mark(pos)
	b.emitOp(opcode.CALL)
	b.emitStrRef(b.Intern(name))
	b.emitSVarint(argc)
	return start
}

// EmitFnLabel appends a FN_LABEL instruction naming fn's parameters (in
// declaration order) and its explicit captures.
func (b *Builder) EmitFnLabel(pos token.Pos, name string, params, captures []string) int {
	start := b.mark(pos)
	b.emitOp(opcode.FN_LABEL)
	b.emitStrRef(b.Intern(name))

	b.emitSVarint(int64(len(params)))
	for _, p := range params {
		b.emitStrRef(b.Intern(p))
	}
	b.emitSVarint(int64(len(captures)))
	for _, c := range captures {
		b.emitStrRef(b.Intern(c))
	}
	return start
}

// Clip removes and returns the code emitted at or after start, for the
// classic for-loop lowering: the step clause is parsed (appending its
// instructions immediately after the condition), then clipped out and
// re-appended after the loop body so it runs once per iteration instead of
// once before it.
func (b *Builder) Clip(start int) []byte {
	clipped := append([]byte(nil), b.code[start:]...)
	b.code = b.code[:start]
	return clipped
}

// Append re-appends a previously clipped byte range, e.g. the classic
// for-loop's step clause after the body. Positions recorded for
// instructions inside clipped are not relocated; diagnostics for a
// re-spliced step clause report its original, no-longer-accurate offset.
func (b *Builder) Append(clipped []byte) {
	b.code = append(b.code, clipped...)
}

// EmitJump appends a JMP or JMP_IF_FALSE with an already-known absolute
// target address. The current parser never calls this — it realizes
// if/while/for control flow entirely with the structural brackets
// (IF_BEGIN/IF_ELSE/IF_END, LOOP_BEGIN/LOOP_END/LOOP_CONTINUE/LOOP_BREAK)
// resolved at VM runtime by bracket scanning — but the opcodes and their
// encoding are part of the format and the VM must honor them, so the
// builder supports emitting them directly for tools (tests, future
// front ends) that want pre-resolved jumps instead.
func (b *Builder) EmitJump(pos token.Pos, op opcode.Op, target int64) int {
	return b.EmitVarint(pos, op, target)
}
