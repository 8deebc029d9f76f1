package ir

import (
	"testing"

	"github.com/srdglang/srdg/lang/opcode"
	"github.com/srdglang/srdg/lang/token"
)

func TestInternDedupes(t *testing.T) {
	b := NewBuilder()
	i1 := b.Intern("x")
	i2 := b.Intern("y")
	i3 := b.Intern("x")
	if i1 != i3 {
		t.Errorf("Intern(\"x\") twice gave different indices: %d != %d", i1, i3)
	}
	if i1 == i2 {
		t.Errorf("distinct strings got the same index")
	}
	if got := b.Strings(); len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Errorf("Strings() = %v", got)
	}
}

func TestEmitAndDecodeRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.Emit(token.Pos(0), opcode.NOP)
	b.EmitVarint(token.Pos(0), opcode.LITERAL_I64, -7)
	b.EmitString(token.Pos(0), opcode.BIND_CONST, "answer")
	b.EmitCall(token.Pos(0), "f", 2)
	b.EmitFnLabel(token.Pos(0), "f", []string{"a", "b"}, nil)
	b.EmitForHint(token.Pos(0), 0, 10, 1, 0)

	code := b.Bytes()
	var got []opcode.Op
	for pos := 0; pos < len(code); {
		in, err := Decode(code, pos)
		if err != nil {
			t.Fatalf("Decode at %d: %v", pos, err)
		}
		got = append(got, in.Op)
		pos = in.Next
	}
	want := []opcode.Op{opcode.NOP, opcode.LITERAL_I64, opcode.BIND_CONST, opcode.CALL, opcode.FN_LABEL, opcode.FOR_HINT}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("op[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPositionsRecorded(t *testing.T) {
	b := NewBuilder()
	pos := token.MakePos(3, 5)
	start := b.Emit(pos, opcode.NOP)
	if got, ok := b.Positions[start]; !ok || got != pos {
		t.Errorf("Positions[%d] = %v, %v; want %v, true", start, got, ok, pos)
	}
}

func TestLenTracksOffsets(t *testing.T) {
	b := NewBuilder()
	if b.Len() != 0 {
		t.Fatalf("initial Len() = %d", b.Len())
	}
	b.Emit(token.Pos(0), opcode.NOP)
	if b.Len() != 1 {
		t.Errorf("Len() after NOP = %d", b.Len())
	}
}
