package lexer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/srdglang/srdg/lang/lexer"
	"github.com/srdglang/srdg/lang/token"
)

func kinds(toks []token.Token) []token.Kind {
	out := make([]token.Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func texts(toks []token.Token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Text
	}
	return out
}

func TestTokenizeBasics(t *testing.T) {
	src := `let mut x = 1 + 2 # comment
print x`
	toks, err := lexer.Tokenize([]byte(src))
	require.NoError(t, err)
	require.Equal(t, []token.Kind{
		token.KW, token.KW, token.IDENT, token.OP, token.INT, token.OP, token.INT,
		token.KW, token.IDENT, token.EOF,
	}, kinds(toks))
	require.Equal(t, []string{"let", "mut", "x", "=", "1", "+", "2", "print", "x", ""}, texts(toks))
}

func TestTokenizeOperatorMaximalMunch(t *testing.T) {
	cases := []struct {
		src  string
		want []string
	}{
		{"..=", []string{"..="}},
		{"..", []string{".."}},
		{"== != >= <=", []string{"==", "!=", ">=", "<="}},
		{"< > = !", []string{"<", ">", "=", "!"}},
		{"for x in 0..=3", []string{"for", "x", "in", "0", "..=", "3"}},
	}
	for _, c := range cases {
		toks, err := lexer.Tokenize([]byte(c.src))
		require.NoError(t, err)
		got := texts(toks)[:len(toks)-1] // drop EOF
		require.Equal(t, c.want, got, c.src)
	}
}

func TestTokenizeString(t *testing.T) {
	toks, err := lexer.Tokenize([]byte(`"hello \"world\""`))
	require.NoError(t, err)
	require.Equal(t, token.STR, toks[0].Kind)
	require.Equal(t, `"hello \"world\""`, toks[0].Text)
}

func TestTokenizeUnterminatedString(t *testing.T) {
	_, err := lexer.Tokenize([]byte(`"unterminated`))
	require.Error(t, err)
}

func TestTokenizeIllegalChar(t *testing.T) {
	_, err := lexer.Tokenize([]byte(`$`))
	require.Error(t, err)
}

func TestKeywordsAreNotIdentifiers(t *testing.T) {
	for kw := range token.Keywords {
		toks, err := lexer.Tokenize([]byte(kw))
		require.NoError(t, err)
		require.Equal(t, token.KW, toks[0].Kind, kw)
	}
}
