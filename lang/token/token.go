// Package token defines the lexical token representation and source
// position encoding shared by the lexer, parser and diagnostics printed by
// the CLI.
package token

import "fmt"

// A Kind identifies the lexical class of a Token.
type Kind uint8

//nolint:revive
const (
	ILLEGAL Kind = iota
	EOF

	IDENT // x
	INT   // 123
	STR   // "foo"
	KW    // reserved word, see Keywords; Token.Text holds the word
	OP    // operator or punctuation; Token.Text holds the exact text

	maxKind
)

func (k Kind) String() string { return kindNames[k] }

var kindNames = [...]string{
	ILLEGAL: "illegal token",
	EOF:     "end of file",
	IDENT:   "identifier",
	INT:     "int literal",
	STR:     "string literal",
	KW:      "keyword",
	OP:      "operator",
}

// Keywords is the set of reserved words recognized by the lexer. A
// letter-led lexeme in this set lexes as a KW token instead of IDENT.
var Keywords = map[string]bool{
	"let": true, "mut": true, "print": true, "if": true, "else": true,
	"true": true, "false": true, "fn": true, "return": true, "while": true,
	"break": true, "continue": true, "for": true, "in": true,
	"capture": true, "step": true,
}

// comparisonOps is the set of two-term comparison operators recognized at
// the expr grammar level.
var comparisonOps = map[string]bool{
	">": true, ">=": true, "<": true, "<=": true, "==": true, "!=": true,
}

// IsComparisonOp reports whether text is one of the six comparison
// operators that may follow a term in an expression.
func IsComparisonOp(text string) bool { return comparisonOps[text] }

// Token is a single lexical token: its kind, the exact source text it
// covers, and its [Start, End) source position.
type Token struct {
	Kind  Kind
	Text  string
	Start Pos
	End   Pos
}

func (t Token) String() string {
	if t.Text == "" {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s %q", t.Kind, t.Text)
}

// Is reports whether t is an OP or KW token with the given exact text. It
// is the idiomatic way for the parser to test "is the lookahead the '}'
// punctuation" or "is it the 'else' keyword" without juggling two fields at
// every call site.
func (t Token) Is(kind Kind, text string) bool {
	return t.Kind == kind && t.Text == text
}
