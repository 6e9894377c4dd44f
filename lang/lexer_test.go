package lang

import "testing"

func TestLexer_Keywords(t *testing.T) {
	tokens, err := NewLexer("RETRIEVE name FROM users").Tokenize()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []TokenType{TokenRetrieve, TokenIdent, TokenFrom, TokenIdent, TokenEOF}
	if len(tokens) != len(want) {
		t.Fatalf("Expected %d tokens, got %d", len(want), len(tokens))
	}
	for i, tt := range want {
		if tokens[i].Type != tt {
			t.Errorf("Token %d: expected %v, got %v", i, tt.Name(), tokens[i].Type.Name())
		}
	}

	// Keywords are case insensitive, identifiers keep case
	if tokens[1].Lexeme != "name" {
		t.Errorf("Expected lexeme 'name', got %q", tokens[1].Lexeme)
	}
}

func TestLexer_BothInequalitySpellings(t *testing.T) {
	for _, src := range []string{"a != b", "a <> b"} {
		tokens, err := NewLexer(src).Tokenize()
		if err != nil {
			t.Fatalf("%s: %v", src, err)
		}
		if tokens[1].Type != TokenNotEquals {
			t.Errorf("%s: expected NotEquals, got %s", src, tokens[1].Type.Name())
		}
	}
}

func TestLexer_Operators(t *testing.T) {
	tests := []struct {
		src  string
		want TokenType
	}{
		{"=", TokenEquals},
		{"<", TokenLess},
		{"<=", TokenLessEq},
		{">", TokenGreater},
		{">=", TokenGreaterEq},
		{"+", TokenPlus},
		{"-", TokenMinus},
		{"*", TokenStar},
		{"/", TokenSlash},
	}
	for _, tt := range tests {
		tokens, err := NewLexer(tt.src).Tokenize()
		if err != nil {
			t.Fatalf("%s: %v", tt.src, err)
		}
		if tokens[0].Type != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.src, tt.want.Name(), tokens[0].Type.Name())
		}
	}
}

func TestLexer_Numbers(t *testing.T) {
	tokens, err := NewLexer("42 3.14 7.0").Tokenize()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if tokens[0].Type != TokenInt || tokens[0].Lexeme != "42" {
		t.Errorf("Expected int 42, got %v", tokens[0])
	}
	if tokens[1].Type != TokenFloat || tokens[1].Lexeme != "3.14" {
		t.Errorf("Expected float 3.14, got %v", tokens[1])
	}
	if tokens[2].Type != TokenFloat {
		t.Errorf("Expected float, got %v", tokens[2])
	}
}

func TestLexer_Strings(t *testing.T) {
	tokens, err := NewLexer("'hello world'").Tokenize()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if tokens[0].Type != TokenString || tokens[0].Lexeme != "hello world" {
		t.Errorf("Expected string 'hello world', got %v", tokens[0])
	}

	// Doubled quote escapes a quote
	tokens, err = NewLexer("'it''s'").Tokenize()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if tokens[0].Lexeme != "it's" {
		t.Errorf("Expected \"it's\", got %q", tokens[0].Lexeme)
	}
}

func TestLexer_UnterminatedString(t *testing.T) {
	_, err := NewLexer("'oops").Tokenize()
	if err == nil {
		t.Fatal("Expected error for unterminated string")
	}
	lexErr, ok := err.(*LexError)
	if !ok {
		t.Fatalf("Expected *LexError, got %T", err)
	}
	if lexErr.Line != 1 || lexErr.Col != 1 {
		t.Errorf("Expected position 1:1, got %d:%d", lexErr.Line, lexErr.Col)
	}
}

func TestLexer_Comments(t *testing.T) {
	src := `retrieve * -- line comment
from /* block
comment */ users`
	tokens, err := NewLexer(src).Tokenize()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []TokenType{TokenRetrieve, TokenStar, TokenFrom, TokenIdent, TokenEOF}
	if len(tokens) != len(want) {
		t.Fatalf("Expected %d tokens, got %d", len(want), len(tokens))
	}
	for i, tt := range want {
		if tokens[i].Type != tt {
			t.Errorf("Token %d: expected %s, got %s", i, tt.Name(), tokens[i].Type.Name())
		}
	}
}

func TestLexer_UnterminatedBlockComment(t *testing.T) {
	_, err := NewLexer("retrieve /* never closed").Tokenize()
	if err == nil {
		t.Fatal("Expected error for unterminated block comment")
	}
}

func TestLexer_Positions(t *testing.T) {
	tokens, err := NewLexer("retrieve x\nfrom t").Tokenize()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// "from" starts line 2 column 1
	if tokens[2].Line != 2 || tokens[2].Col != 1 {
		t.Errorf("Expected from at 2:1, got %d:%d", tokens[2].Line, tokens[2].Col)
	}
	// "t" at line 2 column 6
	if tokens[3].Line != 2 || tokens[3].Col != 6 {
		t.Errorf("Expected t at 2:6, got %d:%d", tokens[3].Line, tokens[3].Col)
	}
}

func TestLexer_QuotedIdentifier(t *testing.T) {
	tokens, err := NewLexer(`"Order Details"`).Tokenize()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if tokens[0].Type != TokenIdent || tokens[0].Lexeme != "Order Details" {
		t.Errorf("Expected quoted identifier, got %v", tokens[0])
	}
}

func TestLexer_InvalidCharacter(t *testing.T) {
	_, err := NewLexer("retrieve @x").Tokenize()
	if err == nil {
		t.Fatal("Expected error for invalid character")
	}
}

func BenchmarkLexer(b *testing.B) {
	src := "retrieve id, name, total * 1.08 from orders o join users u on o.user_id = u.id where total > 100 and status != 'void' order by total desc limit 10"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewLexer(src).Tokenize()
	}
}
