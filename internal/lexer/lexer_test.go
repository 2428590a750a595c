package lexer

import (
	"testing"

	"loxvm/internal/token"
)

func TestNextToken(t *testing.T) {
	input := `var five = 5;
var ten = 10.5;

fun add(x, y) {
  return x + y;
}

var result = add(five, ten);
!-/*5;
5 < 10 > 5;

if (5 < 10) {
	return true;
} else {
	return false;
}

10 == 10;
10 != 9;
"foobar";
"foo bar";
// a comment
class Cake < Pastry {}
this.x = super.y and z or nil;
`

	tests := []struct {
		expectedKind   token.TokenKind
		expectedLexeme string
	}{
		{token.VAR, "var"},
		{token.IDENTIFIER, "five"},
		{token.EQUAL, "="},
		{token.NUMBER, "5"},
		{token.SEMICOLON, ";"},
		{token.VAR, "var"},
		{token.IDENTIFIER, "ten"},
		{token.EQUAL, "="},
		{token.NUMBER, "10.5"},
		{token.SEMICOLON, ";"},
		{token.FUN, "fun"},
		{token.IDENTIFIER, "add"},
		{token.LEFT_PAREN, "("},
		{token.IDENTIFIER, "x"},
		{token.COMMA, ","},
		{token.IDENTIFIER, "y"},
		{token.RIGHT_PAREN, ")"},
		{token.LEFT_BRACE, "{"},
		{token.RETURN, "return"},
		{token.IDENTIFIER, "x"},
		{token.PLUS, "+"},
		{token.IDENTIFIER, "y"},
		{token.SEMICOLON, ";"},
		{token.RIGHT_BRACE, "}"},
		{token.VAR, "var"},
		{token.IDENTIFIER, "result"},
		{token.EQUAL, "="},
		{token.IDENTIFIER, "add"},
		{token.LEFT_PAREN, "("},
		{token.IDENTIFIER, "five"},
		{token.COMMA, ","},
		{token.IDENTIFIER, "ten"},
		{token.RIGHT_PAREN, ")"},
		{token.SEMICOLON, ";"},
		{token.BANG, "!"},
		{token.MINUS, "-"},
		{token.SLASH, "/"},
		{token.STAR, "*"},
		{token.NUMBER, "5"},
		{token.SEMICOLON, ";"},
		{token.NUMBER, "5"},
		{token.LESS, "<"},
		{token.NUMBER, "10"},
		{token.GREATER, ">"},
		{token.NUMBER, "5"},
		{token.SEMICOLON, ";"},
		{token.IF, "if"},
		{token.LEFT_PAREN, "("},
		{token.NUMBER, "5"},
		{token.LESS, "<"},
		{token.NUMBER, "10"},
		{token.RIGHT_PAREN, ")"},
		{token.LEFT_BRACE, "{"},
		{token.RETURN, "return"},
		{token.TRUE, "true"},
		{token.SEMICOLON, ";"},
		{token.RIGHT_BRACE, "}"},
		{token.ELSE, "else"},
		{token.LEFT_BRACE, "{"},
		{token.RETURN, "return"},
		{token.FALSE, "false"},
		{token.SEMICOLON, ";"},
		{token.RIGHT_BRACE, "}"},
		{token.NUMBER, "10"},
		{token.EQUAL_EQUAL, "=="},
		{token.NUMBER, "10"},
		{token.SEMICOLON, ";"},
		{token.NUMBER, "10"},
		{token.BANG_EQUAL, "!="},
		{token.NUMBER, "9"},
		{token.SEMICOLON, ";"},
		{token.STRING, `"foobar"`},
		{token.SEMICOLON, ";"},
		{token.STRING, `"foo bar"`},
		{token.SEMICOLON, ";"},
		{token.CLASS, "class"},
		{token.IDENTIFIER, "Cake"},
		{token.LESS, "<"},
		{token.IDENTIFIER, "Pastry"},
		{token.LEFT_BRACE, "{"},
		{token.RIGHT_BRACE, "}"},
		{token.THIS, "this"},
		{token.DOT, "."},
		{token.IDENTIFIER, "x"},
		{token.EQUAL, "="},
		{token.SUPER, "super"},
		{token.DOT, "."},
		{token.IDENTIFIER, "y"},
		{token.AND, "and"},
		{token.IDENTIFIER, "z"},
		{token.OR, "or"},
		{token.NIL, "nil"},
		{token.SEMICOLON, ";"},
		{token.EOF, ""},
	}

	l := New(input)

	for i, tt := range tests {
		tok := l.NextToken()

		if tok.Kind != tt.expectedKind {
			t.Fatalf("tests[%d] - kind wrong. expected=%q, got=%q (lexeme %q)",
				i, tt.expectedKind, tok.Kind, tok.Lexeme)
		}
		if tok.Lexeme != tt.expectedLexeme {
			t.Fatalf("tests[%d] - lexeme wrong. expected=%q, got=%q",
				i, tt.expectedLexeme, tok.Lexeme)
		}
	}
}

func TestStringLiteralValue(t *testing.T) {
	l := New(`"hi there"`)
	tok := l.NextToken()
	if tok.Kind != token.STRING {
		t.Fatalf("expected STRING, got %s", tok.Kind)
	}
	if tok.Literal != "hi there" {
		t.Fatalf("expected literal %q, got %q", "hi there", tok.Literal)
	}
}

func TestNumberLiteralValue(t *testing.T) {
	l := New("3.14")
	tok := l.NextToken()
	if tok.Kind != token.NUMBER {
		t.Fatalf("expected NUMBER, got %s", tok.Kind)
	}
	if tok.Literal.(float64) != 3.14 {
		t.Fatalf("expected literal 3.14, got %v", tok.Literal)
	}
}

func TestUnterminatedString(t *testing.T) {
	l := New(`"unterminated`)
	tok := l.NextToken()
	if tok.Kind != token.ERROR {
		t.Fatalf("expected ERROR, got %s", tok.Kind)
	}
}

func TestLineTracking(t *testing.T) {
	l := New("var a = 1;\nvar b = 2;")
	var last token.Token
	for {
		last = l.NextToken()
		if last.Kind == token.EOF {
			break
		}
		if last.Lexeme == "b" {
			if last.Line != 2 {
				t.Fatalf("expected identifier 'b' on line 2, got line %d", last.Line)
			}
		}
	}
}
