package vm

import "fmt"

// Kind identifies the category of runtime failure.
type Kind uint8

const (
	UnknownVariable Kind = iota
	ConstAssignment
	ArityMismatch
	CaptureNotFound
	BadMarker
	UnknownOpcode
	TypeMismatch
)

var kindNames = [...]string{
	UnknownVariable: "UnknownVariable",
	ConstAssignment: "ConstAssignment",
	ArityMismatch:   "ArityMismatch",
	CaptureNotFound: "CaptureNotFound",
	BadMarker:       "BadMarker",
	UnknownOpcode:   "UnknownOpcode",
	TypeMismatch:    "TypeMismatch",
}

func (k Kind) String() string { return kindNames[k] }

// Error is a runtime failure: its Kind, a human-readable message, and the
// byte offset of the instruction that raised it.
type Error struct {
	Kind Kind
	Msg  string
	IP   int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at %d: %s", e.Kind, e.IP, e.Msg)
}
