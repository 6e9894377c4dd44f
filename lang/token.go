package lang

import "fmt"

// TokenType identifies a lexical token class
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIdent
	TokenInt
	TokenFloat
	TokenString

	// Keywords
	TokenRetrieve
	TokenSelect
	TokenFrom
	TokenWhere
	TokenAnd
	TokenOr
	TokenNot
	TokenInsert
	TokenInto
	TokenValues
	TokenUpdate
	TokenSet
	TokenDelete
	TokenCreate
	TokenDrop
	TokenTable
	TokenIndex
	TokenJoin
	TokenLeft
	TokenOuter
	TokenInner
	TokenOn
	TokenGroup
	TokenBy
	TokenOrder
	TokenLimit
	TokenOffset
	TokenAsc
	TokenDesc
	TokenBegin
	TokenCommit
	TokenRollback
	TokenTransaction
	TokenDeterministic
	TokenAt
	TokenUntil
	TokenTimestamp
	TokenNull
	TokenTrue
	TokenFalse
	TokenAs

	// Operators
	TokenEquals
	TokenNotEquals
	TokenLess
	TokenLessEq
	TokenGreater
	TokenGreaterEq
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash

	// Punctuation
	TokenComma
	TokenDot
	TokenLParen
	TokenRParen
	TokenSemicolon
)

var keywords = map[string]TokenType{
	"retrieve":      TokenRetrieve,
	"select":        TokenSelect,
	"from":          TokenFrom,
	"where":         TokenWhere,
	"and":           TokenAnd,
	"or":            TokenOr,
	"not":           TokenNot,
	"insert":        TokenInsert,
	"into":          TokenInto,
	"values":        TokenValues,
	"update":        TokenUpdate,
	"set":           TokenSet,
	"delete":        TokenDelete,
	"create":        TokenCreate,
	"drop":          TokenDrop,
	"table":         TokenTable,
	"index":         TokenIndex,
	"join":          TokenJoin,
	"left":          TokenLeft,
	"outer":         TokenOuter,
	"inner":         TokenInner,
	"on":            TokenOn,
	"group":         TokenGroup,
	"by":            TokenBy,
	"order":         TokenOrder,
	"limit":         TokenLimit,
	"offset":        TokenOffset,
	"asc":           TokenAsc,
	"desc":          TokenDesc,
	"begin":         TokenBegin,
	"commit":        TokenCommit,
	"rollback":      TokenRollback,
	"transaction":   TokenTransaction,
	"deterministic": TokenDeterministic,
	"at":            TokenAt,
	"until":         TokenUntil,
	"timestamp":     TokenTimestamp,
	"null":          TokenNull,
	"true":          TokenTrue,
	"false":         TokenFalse,
	"as":            TokenAs,
}

var tokenNames = map[TokenType]string{
	TokenEOF:       "end of input",
	TokenIdent:     "identifier",
	TokenInt:       "integer literal",
	TokenFloat:     "float literal",
	TokenString:    "string literal",
	TokenEquals:    "'='",
	TokenNotEquals: "'!='",
	TokenLess:      "'<'",
	TokenLessEq:    "'<='",
	TokenGreater:   "'>'",
	TokenGreaterEq: "'>='",
	TokenPlus:      "'+'",
	TokenMinus:     "'-'",
	TokenStar:      "'*'",
	TokenSlash:     "'/'",
	TokenComma:     "','",
	TokenDot:       "'.'",
	TokenLParen:    "'('",
	TokenRParen:    "')'",
	TokenSemicolon: "';'",
}

// Token is one lexical unit with its source position
type Token struct {
	Type   TokenType
	Lexeme string
	Line   int
	Col    int
}

// Name renders a token type for error messages
func (t TokenType) Name() string {
	if n, ok := tokenNames[t]; ok {
		return n
	}
	for kw, tt := range keywords {
		if tt == t {
			return fmt.Sprintf("keyword %q", kw)
		}
	}
	return "token"
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d:%d", t.Type.Name(), t.Lexeme, t.Line, t.Col)
}
