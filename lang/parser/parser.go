// Package parser implements the recursive-descent, single-pass parser that
// consumes the token stream and drives the IR builder directly. There is no
// separate AST: every production emits its instructions as it recognizes
// them.
package parser

import (
	"fmt"

	"github.com/srdglang/srdg/lang/ir"
	"github.com/srdglang/srdg/lang/lexer"
	"github.com/srdglang/srdg/lang/opcode"
	"github.com/srdglang/srdg/lang/token"
)

// Error is a syntax error: a source position plus a message. The parser
// never recovers from one locally — it is raised and the parse is
// abandoned.
type Error struct {
	Pos token.Pos
	Msg string
}

func (e *Error) Error() string {
	line, col := e.Pos.LineCol()
	return fmt.Sprintf("%d:%d: %s", line, col, e.Msg)
}

// scopeSeq is the monotonically increasing, process-wide scope id counter:
// every lexical block gets a fresh id, whichever Parser is running.
var scopeSeq int

func nextScopeID() int {
	scopeSeq++
	return scopeSeq
}

// Parser holds the token cursor and the IR builder being filled.
type Parser struct {
	toks       []token.Token
	i          int
	b          *ir.Builder
	scopeStack []int
}

// New returns a Parser over an already-tokenized source.
func New(toks []token.Token) *Parser {
	return &Parser{toks: toks, b: ir.NewBuilder()}
}

// Parse tokenizes src and parses it into a fresh IR builder.
func Parse(src []byte) (*ir.Builder, error) {
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := New(toks)
	if err := p.Program(); err != nil {
		return nil, err
	}
	return p.b, nil
}

// Builder exposes the underlying IR builder, e.g. so a caller can
// ir.FromBuilder it into a Blob.
func (p *Parser) Builder() *ir.Builder { return p.b }

func (p *Parser) la() token.Token {
	return p.toks[p.i]
}

func (p *Parser) la2() token.Token {
	if p.i+1 >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+1]
}

// consume advances past the lookahead token, checking its kind and/or text
// when non-zero/non-empty are given.
func (p *Parser) consume(kind token.Kind, text string) (token.Token, error) {
	t := p.la()
	if kind != 0 && t.Kind != kind {
		return token.Token{}, p.errorf(t, "expected %s, got %s %q", kind, t.Kind, t.Text)
	}
	if text != "" && t.Text != text {
		return token.Token{}, p.errorf(t, "expected %q, got %q", text, t.Text)
	}
	p.i++
	return t, nil
}

func (p *Parser) errorf(t token.Token, format string, args ...any) error {
	return &Error{Pos: t.Start, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) isOp(text string) bool { return p.la().Is(token.OP, text) }
func (p *Parser) isKw(text string) bool { return p.la().Is(token.KW, text) }

// rule emits the entry TRACE_MARK for a grammar production and runs body.
// No hook table is wired (the grammar's hook declarations never survived
// into this spec), so HOOK_PRE_RULE/HOOK_POST_RULE are never emitted; the
// opcodes remain defined for a future grammar table that declares them.
func (p *Parser) rule(body func() error) error {
	p.b.Emit(p.la().Start, opcode.TRACE_MARK)
	return body()
}

// scopeEnter opens a lexical block: SCOPE_ENTER(sid) RANGE_BEGIN(sid).
func (p *Parser) scopeEnter() {
	sid := nextScopeID()
	p.scopeStack = append(p.scopeStack, sid)
	p.b.EmitVarint(p.la().Start, opcode.SCOPE_ENTER, int64(sid))
	p.b.EmitVarint(p.la().Start, opcode.RANGE_BEGIN, int64(sid))
}

// scopeExit closes the innermost open lexical block: RANGE_END(sid)
// SCOPE_EXIT(sid).
func (p *Parser) scopeExit() {
	n := len(p.scopeStack) - 1
	sid := p.scopeStack[n]
	p.scopeStack = p.scopeStack[:n]
	p.b.EmitVarint(p.la().Start, opcode.RANGE_END, int64(sid))
	p.b.EmitVarint(p.la().Start, opcode.SCOPE_EXIT, int64(sid))
}

// Program parses the whole input: TRACE_START, top-level declarations and
// statements until EOF, TRACE_END, HALT.
func (p *Parser) Program() error {
	p.b.Emit(p.la().Start, opcode.TRACE_START)
	err := p.rule(func() error {
		for p.la().Kind != token.EOF {
			if p.isKw("fn") {
				if err := p.fnDecl(); err != nil {
					return err
				}
			} else if err := p.stmt(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.b.Emit(p.la().Start, opcode.TRACE_END)
	p.b.Emit(p.la().Start, opcode.HALT)
	return nil
}

// fnDecl parses a top-level function declaration:
// fn name(p1, …) [capture [c1, …]] { body }
func (p *Parser) fnDecl() error {
	if _, err := p.consume(token.KW, "fn"); err != nil {
		return err
	}
	nameTok, err := p.consume(token.IDENT, "")
	if err != nil {
		return err
	}
	name := nameTok.Text

	var params []string
	if _, err := p.consume(token.OP, "("); err != nil {
		return err
	}
	if !p.isOp(")") {
		t, err := p.consume(token.IDENT, "")
		if err != nil {
			return err
		}
		params = append(params, t.Text)
		for p.isOp(",") {
			p.consume(token.OP, ",")
			t, err := p.consume(token.IDENT, "")
			if err != nil {
				return err
			}
			params = append(params, t.Text)
		}
	}
	if _, err := p.consume(token.OP, ")"); err != nil {
		return err
	}

	var captures []string
	if p.isKw("capture") {
		p.consume(token.KW, "capture")
		if _, err := p.consume(token.OP, "["); err != nil {
			return err
		}
		if !p.isOp("]") {
			t, err := p.consume(token.IDENT, "")
			if err != nil {
				return err
			}
			captures = append(captures, t.Text)
			for p.isOp(",") {
				p.consume(token.OP, ",")
				t, err := p.consume(token.IDENT, "")
				if err != nil {
					return err
				}
				captures = append(captures, t.Text)
			}
		}
		if _, err := p.consume(token.OP, "]"); err != nil {
			return err
		}
	}

	if _, err := p.consume(token.OP, "{"); err != nil {
		return err
	}
	p.b.EmitFnLabel(nameTok.Start, name, params, captures)
	p.scopeEnter()
	for !p.isOp("}") {
		if err := p.stmt(); err != nil {
			return err
		}
	}
	if _, err := p.consume(token.OP, "}"); err != nil {
		return err
	}
	p.scopeExit()
	p.b.Emit(p.la().Start, opcode.RET)
	return nil
}

// stmt parses a single statement. It mirrors stmtSimple plus the
// block-forming forms (if/while/for) and declarations.
func (p *Parser) stmt() error {
	return p.rule(func() error { return p.stmtBody(false) })
}

// stmtSimple parses the reduced statement grammar allowed as a classic
// for-loop's init/step clause: let, call, or assignment — no blocks.
func (p *Parser) stmtSimple() error {
	return p.stmtBody(true)
}

func (p *Parser) stmtBody(simple bool) error {
	t := p.la()

	switch {
	case t.Is(token.KW, "let"):
		return p.letStmt()

	case !simple && t.Is(token.KW, "print"):
		p.consume(token.KW, "print")
		if err := p.expr(); err != nil {
			return err
		}
		p.b.Emit(t.Start, opcode.PRINT)
		return nil

	case !simple && t.Is(token.KW, "return"):
		p.consume(token.KW, "return")
		if !p.isOp("}") {
			if err := p.expr(); err != nil {
				return err
			}
		}
		p.b.Emit(t.Start, opcode.RET)
		return nil

	case !simple && t.Is(token.KW, "break"):
		p.consume(token.KW, "break")
		p.b.Emit(t.Start, opcode.LOOP_BREAK)
		return nil

	case !simple && t.Is(token.KW, "continue"):
		p.consume(token.KW, "continue")
		p.b.Emit(t.Start, opcode.LOOP_CONTINUE)
		return nil

	case !simple && t.Is(token.KW, "if"):
		return p.ifStmt()

	case !simple && t.Is(token.KW, "while"):
		return p.whileStmt()

	case !simple && t.Is(token.KW, "for"):
		return p.forStmt()

	case t.Kind == token.IDENT && p.la2().Is(token.OP, "("):
		return p.callStmt()

	case t.Kind == token.IDENT:
		name := t.Text
		p.consume(token.IDENT, "")
		if _, err := p.consume(token.OP, "="); err != nil {
			return err
		}
		if err := p.expr(); err != nil {
			return err
		}
		p.b.EmitString(t.Start, opcode.STORE, name)
		return nil

	default:
		return p.errorf(t, "invalid statement")
	}
}

func (p *Parser) letStmt() error {
	t, _ := p.consume(token.KW, "let")
	mut := false
	if p.isKw("mut") {
		p.consume(token.KW, "mut")
		mut = true
	}
	nameTok, err := p.consume(token.IDENT, "")
	if err != nil {
		return err
	}
	if _, err := p.consume(token.OP, "="); err != nil {
		return err
	}
	if err := p.expr(); err != nil {
		return err
	}
	op := opcode.BIND_CONST
	if mut {
		op = opcode.BIND_MUT
	}
	p.b.EmitString(t.Start, op, nameTok.Text)
	return nil
}

func (p *Parser) callStmt() error {
	nameTok, _ := p.consume(token.IDENT, "")
	if _, err := p.consume(token.OP, "("); err != nil {
		return err
	}
	var argc int64
	if !p.isOp(")") {
		if err := p.expr(); err != nil {
			return err
		}
		argc++
		for p.isOp(",") {
			p.consume(token.OP, ",")
			if err := p.expr(); err != nil {
				return err
			}
			argc++
		}
	}
	if _, err := p.consume(token.OP, ")"); err != nil {
		return err
	}
	p.b.EmitCall(nameTok.Start, nameTok.Text, argc)
	return nil
}

func (p *Parser) block() error {
	if _, err := p.consume(token.OP, "{"); err != nil {
		return err
	}
	p.scopeEnter()
	for !p.isOp("}") {
		if err := p.stmt(); err != nil {
			return err
		}
	}
	if _, err := p.consume(token.OP, "}"); err != nil {
		return err
	}
	p.scopeExit()
	return nil
}

func (p *Parser) ifStmt() error {
	ifTok, _ := p.consume(token.KW, "if")
	if err := p.expr(); err != nil {
		return err
	}
	p.b.Emit(ifTok.Start, opcode.IF_BEGIN)

	if _, err := p.consume(token.OP, "{"); err != nil {
		return err
	}
	p.scopeEnter()
	for !p.isOp("}") {
		if err := p.stmt(); err != nil {
			return err
		}
	}
	if _, err := p.consume(token.OP, "}"); err != nil {
		return err
	}

	if p.isKw("else") {
		p.b.Emit(p.la().Start, opcode.IF_ELSE)
		p.scopeExit()
		p.consume(token.KW, "else")
		if err := p.block(); err != nil {
			return err
		}
	} else {
		p.scopeExit()
	}

	p.b.Emit(p.la().Start, opcode.IF_END)
	return nil
}

func (p *Parser) whileStmt() error {
	whileTok, _ := p.consume(token.KW, "while")
	p.b.Emit(whileTok.Start, opcode.LOOP_HEAD)
	if err := p.expr(); err != nil {
		return err
	}
	p.b.Emit(whileTok.Start, opcode.LOOP_BEGIN)
	if err := p.block(); err != nil {
		return err
	}
	p.b.Emit(p.la().Start, opcode.LOOP_END)
	return nil
}

// forStmt parses both the range form `for (x in a..b [; step s])` and the
// classic three-clause form `for (init; cond; step)`.
func (p *Parser) forStmt() error {
	forTok, _ := p.consume(token.KW, "for")
	if _, err := p.consume(token.OP, "("); err != nil {
		return err
	}

	if p.la().Kind == token.IDENT && p.la2().Is(token.KW, "in") {
		return p.forRange(forTok)
	}
	return p.forClassic()
}

func (p *Parser) forRange(forTok token.Token) error {
	varTok, _ := p.consume(token.IDENT, "")
	varName := varTok.Text
	p.consume(token.KW, "in")

	// Each bound's BIND must immediately follow the expression that computes
	// it, so that BIND_MUT pops the start value and BIND_CONST pops the end
	// value rather than whichever landed on top of the stack last.
	aTok := p.la()
	if err := p.expr(); err != nil {
		return err
	}
	p.b.EmitString(varTok.Start, opcode.BIND_MUT, varName)

	inclusive := false
	if p.isOp("..=") {
		p.consume(token.OP, "..=")
		inclusive = true
	} else if _, err := p.consume(token.OP, ".."); err != nil {
		return err
	}

	bTok := p.la()
	if err := p.expr(); err != nil {
		return err
	}
	endMarker := "__for_end_" + varName
	p.b.EmitString(varTok.Start, opcode.BIND_CONST, endMarker)

	stepVal := int64(1)
	if p.isOp(";") {
		p.consume(token.OP, ";")
		if _, err := p.consume(token.KW, "step"); err != nil {
			return err
		}
		// A non-literal step would never reach the loop's increment — the
		// LITERAL_I64 below is emitted from the parsed value, not from
		// whatever a step expression might compute at runtime — so anything
		// but a (possibly negated) integer literal is rejected outright.
		neg := false
		if p.isOp("-") {
			p.consume(token.OP, "-")
			neg = true
		}
		sTok := p.la()
		if sTok.Kind != token.INT {
			return p.errorf(sTok, "for-loop step must be an integer literal")
		}
		p.consume(token.INT, "")
		v, err := parseInt(sTok)
		if err != nil {
			return err
		}
		if neg {
			v = -v
		}
		stepVal = v
	}

	if aTok.Kind == token.INT && bTok.Kind == token.INT {
		aVal, err := parseInt(aTok)
		if err != nil {
			return err
		}
		bVal, err := parseInt(bTok)
		if err != nil {
			return err
		}
		incFlag := int64(0)
		if inclusive {
			incFlag = 1
		}
		p.b.EmitForHint(forTok.Start, aVal, bVal, stepVal, incFlag)
	}

	p.b.Emit(forTok.Start, opcode.LOOP_HEAD)
	p.b.EmitString(forTok.Start, opcode.LOAD, varName)
	p.b.EmitString(forTok.Start, opcode.LOAD, endMarker)

	var cmp opcode.Op
	switch {
	case stepVal >= 0 && inclusive:
		cmp = opcode.CMP_LE
	case stepVal >= 0 && !inclusive:
		cmp = opcode.CMP_LT
	case stepVal < 0 && inclusive:
		cmp = opcode.CMP_GE
	default:
		cmp = opcode.CMP_GT
	}
	p.b.Emit(forTok.Start, cmp)
	p.b.Emit(forTok.Start, opcode.LOOP_BEGIN)

	if _, err := p.consume(token.OP, ")"); err != nil {
		return err
	}
	if err := p.block(); err != nil {
		return err
	}

	p.b.EmitString(forTok.Start, opcode.LOAD, varName)
	p.b.EmitVarint(forTok.Start, opcode.LITERAL_I64, stepVal)
	p.b.Emit(forTok.Start, opcode.ADD)
	p.b.EmitString(forTok.Start, opcode.STORE, varName)
	p.b.Emit(forTok.Start, opcode.LOOP_END)
	return nil
}

func (p *Parser) forClassic() error {
	if !p.isOp(";") {
		if err := p.stmtSimple(); err != nil {
			return err
		}
	}
	if _, err := p.consume(token.OP, ";"); err != nil {
		return err
	}

	p.b.Emit(p.la().Start, opcode.LOOP_HEAD)
	if err := p.expr(); err != nil {
		return err
	}
	p.b.Emit(p.la().Start, opcode.LOOP_BEGIN)

	if _, err := p.consume(token.OP, ";"); err != nil {
		return err
	}

	stepStart := p.b.Len()
	if err := p.stmtSimple(); err != nil {
		return err
	}
	stepCode := p.b.Clip(stepStart)

	if _, err := p.consume(token.OP, ")"); err != nil {
		return err
	}
	if err := p.block(); err != nil {
		return err
	}

	p.b.Append(stepCode)
	p.b.Emit(p.la().Start, opcode.LOOP_END)
	return nil
}

// expr parses `term (cmp term)?`.
func (p *Parser) expr() error {
	return p.rule(func() error {
		if err := p.term(); err != nil {
			return err
		}
		if p.la().Kind == token.OP && token.IsComparisonOp(p.la().Text) {
			opTok := p.la()
			p.consume(token.OP, "")
			if err := p.term(); err != nil {
				return err
			}
			p.b.Emit(opTok.Start, cmpOpcode(opTok.Text))
		}
		return nil
	})
}

func cmpOpcode(text string) opcode.Op {
	switch text {
	case ">":
		return opcode.CMP_GT
	case ">=":
		return opcode.CMP_GE
	case "<":
		return opcode.CMP_LT
	case "<=":
		return opcode.CMP_LE
	case "==":
		return opcode.CMP_EQ
	default:
		return opcode.CMP_NE
	}
}

// term parses an integer literal, string literal, identifier load, or a
// parenthesized expression.
func (p *Parser) term() error {
	t := p.la()
	switch {
	case t.Kind == token.INT:
		p.consume(token.INT, "")
		v, err := parseInt(t)
		if err != nil {
			return err
		}
		p.b.EmitVarint(t.Start, opcode.LITERAL_I64, v)
		return nil

	case t.Kind == token.STR:
		p.consume(token.STR, "")
		s := t.Text[1 : len(t.Text)-1]
		p.b.EmitString(t.Start, opcode.LITERAL_STR, s)
		return nil

	case t.Kind == token.IDENT:
		p.consume(token.IDENT, "")
		p.b.EmitString(t.Start, opcode.LOAD, t.Text)
		return nil

	case t.Is(token.OP, "("):
		p.consume(token.OP, "(")
		if err := p.expr(); err != nil {
			return err
		}
		_, err := p.consume(token.OP, ")")
		return err

	default:
		return p.errorf(t, "unexpected token %s %q", t.Kind, t.Text)
	}
}

func parseInt(t token.Token) (int64, error) {
	var v int64
	for _, r := range t.Text {
		if r < '0' || r > '9' {
			return 0, &Error{Pos: t.Start, Msg: "malformed integer literal " + t.Text}
		}
		v = v*10 + int64(r-'0')
	}
	return v, nil
}
