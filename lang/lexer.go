package lang

import (
	"strings"
	"unicode"
)

// Lexer converts query text into a token stream. Keywords are case
// insensitive; identifiers preserve case. Both '!=' and '<>' produce the
// same inequality token.
type Lexer struct {
	src  []rune
	pos  int
	line int
	col  int
}

// NewLexer creates a lexer over the given query text
func NewLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), line: 1, col: 1}
}

// Tokenize scans the whole input, returning tokens ending with EOF
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *Lexer) next() (Token, error) {
	if err := l.skipWhitespaceAndComments(); err != nil {
		return Token{}, err
	}

	line, col := l.line, l.col
	if l.eof() {
		return Token{Type: TokenEOF, Line: line, Col: col}, nil
	}

	c := l.peek()
	switch {
	case unicode.IsLetter(c) || c == '_':
		return l.lexWord(line, col), nil
	case unicode.IsDigit(c):
		return l.lexNumber(line, col)
	case c == '\'':
		return l.lexString(line, col)
	case c == '"':
		return l.lexQuotedIdent(line, col)
	}

	l.advance()
	switch c {
	case '=':
		return Token{Type: TokenEquals, Lexeme: "=", Line: line, Col: col}, nil
	case '!':
		if l.match('=') {
			return Token{Type: TokenNotEquals, Lexeme: "!=", Line: line, Col: col}, nil
		}
		return Token{}, &LexError{Line: line, Col: col, Message: "unexpected character '!'"}
	case '<':
		if l.match('=') {
			return Token{Type: TokenLessEq, Lexeme: "<=", Line: line, Col: col}, nil
		}
		if l.match('>') {
			return Token{Type: TokenNotEquals, Lexeme: "<>", Line: line, Col: col}, nil
		}
		return Token{Type: TokenLess, Lexeme: "<", Line: line, Col: col}, nil
	case '>':
		if l.match('=') {
			return Token{Type: TokenGreaterEq, Lexeme: ">=", Line: line, Col: col}, nil
		}
		return Token{Type: TokenGreater, Lexeme: ">", Line: line, Col: col}, nil
	case '+':
		return Token{Type: TokenPlus, Lexeme: "+", Line: line, Col: col}, nil
	case '-':
		return Token{Type: TokenMinus, Lexeme: "-", Line: line, Col: col}, nil
	case '*':
		return Token{Type: TokenStar, Lexeme: "*", Line: line, Col: col}, nil
	case '/':
		return Token{Type: TokenSlash, Lexeme: "/", Line: line, Col: col}, nil
	case ',':
		return Token{Type: TokenComma, Lexeme: ",", Line: line, Col: col}, nil
	case '.':
		return Token{Type: TokenDot, Lexeme: ".", Line: line, Col: col}, nil
	case '(':
		return Token{Type: TokenLParen, Lexeme: "(", Line: line, Col: col}, nil
	case ')':
		return Token{Type: TokenRParen, Lexeme: ")", Line: line, Col: col}, nil
	case ';':
		return Token{Type: TokenSemicolon, Lexeme: ";", Line: line, Col: col}, nil
	}
	return Token{}, &LexError{Line: line, Col: col, Message: "unexpected character " + string(c)}
}

func (l *Lexer) skipWhitespaceAndComments() error {
	for !l.eof() {
		c := l.peek()
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '-' && l.peekAt(1) == '-':
			for !l.eof() && l.peek() != '\n' {
				l.advance()
			}
		case c == '/' && l.peekAt(1) == '*':
			line, col := l.line, l.col
			l.advance()
			l.advance()
			closed := false
			for !l.eof() {
				if l.peek() == '*' && l.peekAt(1) == '/' {
					l.advance()
					l.advance()
					closed = true
					break
				}
				l.advance()
			}
			if !closed {
				return &LexError{Line: line, Col: col, Message: "unterminated block comment"}
			}
		default:
			return nil
		}
	}
	return nil
}

func (l *Lexer) lexWord(line, col int) Token {
	start := l.pos
	for !l.eof() {
		c := l.peek()
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' {
			l.advance()
		} else {
			break
		}
	}
	word := string(l.src[start:l.pos])
	if tt, ok := keywords[strings.ToLower(word)]; ok {
		return Token{Type: tt, Lexeme: strings.ToLower(word), Line: line, Col: col}
	}
	return Token{Type: TokenIdent, Lexeme: word, Line: line, Col: col}
}

func (l *Lexer) lexNumber(line, col int) (Token, error) {
	start := l.pos
	for !l.eof() && unicode.IsDigit(l.peek()) {
		l.advance()
	}
	isFloat := false
	if !l.eof() && l.peek() == '.' && unicode.IsDigit(l.peekAt(1)) {
		isFloat = true
		l.advance()
		for !l.eof() && unicode.IsDigit(l.peek()) {
			l.advance()
		}
	}
	lexeme := string(l.src[start:l.pos])
	if isFloat {
		return Token{Type: TokenFloat, Lexeme: lexeme, Line: line, Col: col}, nil
	}
	return Token{Type: TokenInt, Lexeme: lexeme, Line: line, Col: col}, nil
}

// lexString scans a single-quoted literal. A doubled quote inside the
// literal stands for one quote character; there are no backslash escapes.
func (l *Lexer) lexString(line, col int) (Token, error) {
	l.advance() // opening quote
	var sb strings.Builder
	for {
		if l.eof() {
			return Token{}, &LexError{Line: line, Col: col, Message: "unterminated string literal"}
		}
		c := l.peek()
		l.advance()
		if c == '\'' {
			if !l.eof() && l.peek() == '\'' {
				sb.WriteRune('\'')
				l.advance()
				continue
			}
			return Token{Type: TokenString, Lexeme: sb.String(), Line: line, Col: col}, nil
		}
		sb.WriteRune(c)
	}
}

func (l *Lexer) lexQuotedIdent(line, col int) (Token, error) {
	l.advance() // opening quote
	start := l.pos
	for !l.eof() && l.peek() != '"' {
		l.advance()
	}
	if l.eof() {
		return Token{}, &LexError{Line: line, Col: col, Message: "unterminated quoted identifier"}
	}
	ident := string(l.src[start:l.pos])
	l.advance() // closing quote
	if ident == "" {
		return Token{}, &LexError{Line: line, Col: col, Message: "empty quoted identifier"}
	}
	return Token{Type: TokenIdent, Lexeme: ident, Line: line, Col: col}, nil
}

func (l *Lexer) eof() bool { return l.pos >= len(l.src) }

func (l *Lexer) peek() rune { return l.src[l.pos] }

func (l *Lexer) peekAt(offset int) rune {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}

func (l *Lexer) advance() {
	if l.src[l.pos] == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.pos++
}

func (l *Lexer) match(expected rune) bool {
	if l.eof() || l.peek() != expected {
		return false
	}
	l.advance()
	return true
}
