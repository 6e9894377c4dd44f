package lang

import "fmt"

// LexError reports an invalid character sequence with its position
type LexError struct {
	Line    int
	Col     int
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at %d:%d: %s", e.Line, e.Col, e.Message)
}

// ParseError reports a grammar violation with its position
type ParseError struct {
	Line    int
	Col     int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Col, e.Message)
}

// SemanticError reports a statement that parses but cannot be lowered to
// an executable intent
type SemanticError struct {
	Message string
}

func (e *SemanticError) Error() string {
	return "semantic error: " + e.Message
}
