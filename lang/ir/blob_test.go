package ir

import (
	"testing"

	"github.com/srdglang/srdg/lang/opcode"
	"github.com/srdglang/srdg/lang/token"
)

func TestBlobRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.EmitString(token.Pos(0), opcode.LITERAL_STR, "hello")
	b.Emit(token.Pos(0), opcode.PRINT)
	b.Emit(token.Pos(0), opcode.HALT)

	blob := FromBuilder(b)
	data, err := blob.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got.Strings) != 1 || got.Strings[0] != "hello" {
		t.Errorf("Strings = %v", got.Strings)
	}
	if string(got.Code) != string(blob.Code) {
		t.Errorf("Code mismatch: got %v want %v", got.Code, blob.Code)
	}
}

func TestBlobHeaderBytes(t *testing.T) {
	b := NewBuilder()
	b.Emit(token.Pos(0), opcode.HALT)
	data, err := FromBuilder(b).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data[:4]) != Magic {
		t.Errorf("magic = %q", data[:4])
	}
	if data[4] != Version {
		t.Errorf("version = %d", data[4])
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	data := []byte("XXXX\x01\x00\x00\x00\x00")
	if _, err := Parse(data); err != ErrBadMagic {
		t.Errorf("got %v, want ErrBadMagic", err)
	}
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	data := []byte("SRDG\x09\x00\x00\x00\x00")
	_, err := Parse(data)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParseRejectsTruncated(t *testing.T) {
	if _, err := Parse([]byte("SR")); err == nil {
		t.Error("expected error on truncated header")
	}
}

func TestBlobStringOutOfRange(t *testing.T) {
	blob := Blob{Strings: []string{"a"}}
	if _, err := blob.String(1); err == nil {
		t.Error("expected out-of-range error")
	}
	if s, err := blob.String(0); err != nil || s != "a" {
		t.Errorf("String(0) = %q, %v", s, err)
	}
}
