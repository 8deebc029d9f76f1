package ir

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Magic is the 4-byte header every blob starts with.
const Magic = "SRDG"

// Version is the single supported format version byte.
const Version = 1

// ErrBadMagic is returned by Parse when the header does not begin with
// Magic.
var ErrBadMagic = errors.New("ir: bad magic")

// ErrUnsupportedVersion is returned by Parse when the version byte is not
// one this package knows how to read.
var ErrUnsupportedVersion = errors.New("ir: unsupported version")

// metadata is the JSON payload following the header: currently just the
// interned string table, keyed to match the field name a hand-written
// fixture would use.
type metadata struct {
	Strings []string `json:"strings"`
}

// Blob is a fully decoded module: its string table and its raw opcode
// stream. It carries no further structure — all interpretation of the
// stream (instruction boundaries, control flow, scoping) is left to the
// optimizer, the verifier and the VM, each walking it with ir.Decode.
type Blob struct {
	Strings []string
	Code    []byte
}

// FromBuilder captures a Builder's accumulated stream and string table as a
// Blob.
func FromBuilder(b *Builder) Blob {
	return Blob{Strings: append([]string(nil), b.strings...), Code: append([]byte(nil), b.code...)}
}

// Marshal serializes a Blob to the wire format: magic, version, a
// big-endian uint32 metadata length, the UTF-8 JSON metadata, then the raw
// opcode stream to EOF.
func (m Blob) Marshal() ([]byte, error) {
	meta, err := json.Marshal(metadata{Strings: m.Strings})
	if err != nil {
		return nil, fmt.Errorf("ir: marshal metadata: %w", err)
	}

	out := make([]byte, 0, len(Magic)+1+4+len(meta)+len(m.Code))
	out = append(out, Magic...)
	out = append(out, Version)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(meta)))
	out = append(out, lenBuf[:]...)

	out = append(out, meta...)
	out = append(out, m.Code...)
	return out, nil
}

// Parse decodes a blob previously produced by Marshal. It validates the
// magic and version but does not otherwise inspect the opcode stream —
// structural soundness is the verifier's job.
func Parse(data []byte) (Blob, error) {
	if len(data) < len(Magic)+1+4 {
		return Blob{}, fmt.Errorf("ir: parse: %w: truncated header", ErrTruncated)
	}
	if string(data[:len(Magic)]) != Magic {
		return Blob{}, ErrBadMagic
	}
	off := len(Magic)

	version := data[off]
	off++
	if version != Version {
		return Blob{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	metaLen := binary.BigEndian.Uint32(data[off : off+4])
	off += 4

	if off+int(metaLen) > len(data) {
		return Blob{}, fmt.Errorf("ir: parse: %w: metadata exceeds blob length", ErrTruncated)
	}
	var meta metadata
	if err := json.Unmarshal(data[off:off+int(metaLen)], &meta); err != nil {
		return Blob{}, fmt.Errorf("ir: parse: invalid metadata JSON: %w", err)
	}
	off += int(metaLen)

	return Blob{Strings: meta.Strings, Code: data[off:]}, nil
}

// String looks up a string-table entry by index, returning an error
// instead of panicking on an out-of-range reference — every string ref in
// the stream passes through this on the verifier's first walk.
func (m Blob) String(idx int) (string, error) {
	if idx < 0 || idx >= len(m.Strings) {
		return "", fmt.Errorf("ir: string index %d out of range [0,%d)", idx, len(m.Strings))
	}
	return m.Strings[idx], nil
}
