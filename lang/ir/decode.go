package ir

import (
	"errors"
	"fmt"

	"github.com/srdglang/srdg/lang/opcode"
)

// StrMarker is the sentinel byte that must immediately precede a string
// reference's svarint index in the stream. It was chosen because it is larger than the
// maximum opcode value (143) and cannot appear as a continuation byte of a
// valid svarint at a position where a marker is expected; its absence where
// one is required is a hard error (BadMarker).
const StrMarker = 254

// ErrBadMarker is returned by Decode when a string-shaped operand is
// missing its StrMarker prefix.
var ErrBadMarker = errors.New("ir: missing string marker")

// Instruction is the result of decoding a single instruction: its opcode,
// its position in the stream, the offset immediately following it, and its
// operands as determined by opcode.ShapeOf(Op). This is the single shared
// "operand walker" used by the optimizer, the verifier and the VM's
// forward/backward bracket scans, so that none of them can mis-parse a
// string reference or a multi-immediate instruction (FOR_HINT, FN_LABEL).
type Instruction struct {
	Op   opcode.Op
	Pos  int // offset of the opcode byte
	Next int // offset immediately after the full instruction

	Varint   int64    // ShapeVarint
	ForHint  [4]int64 // ShapeForHint: a, b, step, inclusive
	StrIdx   int      // ShapeString, and the name index for ShapeCall/ShapeFnLabel
	Argc     int64    // ShapeCall
	Params   []int    // ShapeFnLabel: string indices of parameter names
	Captures []int    // ShapeFnLabel: string indices of capture names
}

// Decode reads the single instruction starting at pos (which must be the
// offset of an opcode byte) and returns it along with the offset of the
// next instruction.
func Decode(code []byte, pos int) (Instruction, error) {
	if pos >= len(code) {
		return Instruction{}, fmt.Errorf("ir: decode at %d: %w", pos, ErrTruncated)
	}
	in := Instruction{Op: opcode.Op(code[pos]), Pos: pos}
	i := pos + 1

	switch opcode.ShapeOf(in.Op) {
	case opcode.ShapeNone:
		// no operand

	case opcode.ShapeVarint:
		v, next, err := DecodeSVarint(code, i)
		if err != nil {
			return Instruction{}, err
		}
		in.Varint, i = v, next

	case opcode.ShapeForHint:
		for k := 0; k < 4; k++ {
			v, next, err := DecodeSVarint(code, i)
			if err != nil {
				return Instruction{}, err
			}
			in.ForHint[k], i = v, next
		}

	case opcode.ShapeString:
		idx, next, err := readStrRef(code, i)
		if err != nil {
			return Instruction{}, err
		}
		in.StrIdx, i = idx, next

	case opcode.ShapeCall:
		idx, next, err := readStrRef(code, i)
		if err != nil {
			return Instruction{}, err
		}
		in.StrIdx, i = idx, next
		argc, next, err := DecodeSVarint(code, i)
		if err != nil {
			return Instruction{}, err
		}
		in.Argc, i = argc, next

	case opcode.ShapeFnLabel:
		idx, next, err := readStrRef(code, i)
		if err != nil {
			return Instruction{}, err
		}
		in.StrIdx, i = idx, next

		pc, next, err := DecodeSVarint(code, i)
		if err != nil {
			return Instruction{}, err
		}
		i = next
		in.Params = make([]int, pc)
		for k := int64(0); k < pc; k++ {
			pidx, next, err := readStrRef(code, i)
			if err != nil {
				return Instruction{}, err
			}
			in.Params[k], i = pidx, next
		}

		cc, next, err := DecodeSVarint(code, i)
		if err != nil {
			return Instruction{}, err
		}
		i = next
		in.Captures = make([]int, cc)
		for k := int64(0); k < cc; k++ {
			cidx, next, err := readStrRef(code, i)
			if err != nil {
				return Instruction{}, err
			}
			in.Captures[k], i = cidx, next
		}
	}

	in.Next = i
	return in, nil
}

func readStrRef(code []byte, pos int) (int, int, error) {
	if pos >= len(code) {
		return 0, pos, fmt.Errorf("ir: %w at %d: %v", ErrBadMarker, pos, ErrTruncated)
	}
	if code[pos] != StrMarker {
		return 0, pos, fmt.Errorf("ir: %w at %d", ErrBadMarker, pos)
	}
	idx, next, err := DecodeSVarint(code, pos+1)
	if err != nil {
		return 0, pos, err
	}
	return int(idx), next, nil
}
