package lang

import (
	"fmt"
	"strconv"
	"time"

	"github.com/minsql/minsql/common"
)

// Parser builds statement ASTs from a token stream via recursive descent.
// Comparison operators are non-associative: `a < b < c` is rejected.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse tokenizes and parses a single statement
func Parse(src string) (Statement, error) {
	tokens, err := NewLexer(src).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	// Optional trailing semicolon, then end of input
	p.match(TokenSemicolon)
	if !p.check(TokenEOF) {
		return nil, p.errorf("unexpected %s after statement", p.peek().Type.Name())
	}
	return stmt, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	switch p.peek().Type {
	case TokenRetrieve, TokenSelect:
		return p.parseSelect()
	case TokenInsert:
		return p.parseInsert()
	case TokenUpdate:
		return p.parseUpdate()
	case TokenDelete:
		return p.parseDelete()
	case TokenCreate:
		return p.parseCreate()
	case TokenDrop:
		return p.parseDrop()
	case TokenBegin:
		return p.parseBegin()
	case TokenCommit:
		p.advance()
		return &CommitStatement{}, nil
	case TokenRollback:
		p.advance()
		return &RollbackStatement{}, nil
	}
	return nil, p.errorf("expected a statement, found %s", p.peek().Type.Name())
}

func (p *Parser) parseSelect() (*SelectStatement, error) {
	p.advance() // retrieve | select

	stmt := &SelectStatement{}

	// Projection list
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		stmt.Items = append(stmt.Items, item)
		if !p.match(TokenComma) {
			break
		}
	}

	if _, err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	from, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	stmt.From = from

	// Joins
	for p.check(TokenJoin) || p.check(TokenLeft) || p.check(TokenInner) {
		join, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		stmt.Joins = append(stmt.Joins, join)
	}

	if p.match(TokenWhere) {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = expr
	}

	if p.match(TokenGroup) {
		if _, err := p.expect(TokenBy); err != nil {
			return nil, err
		}
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, expr)
			if !p.match(TokenComma) {
				break
			}
		}
	}

	if p.match(TokenOrder) {
		if _, err := p.expect(TokenBy); err != nil {
			return nil, err
		}
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			key := OrderKey{Expr: expr, Order: Ascending}
			if p.match(TokenDesc) {
				key.Order = Descending
			} else {
				p.match(TokenAsc)
			}
			stmt.OrderBy = append(stmt.OrderBy, key)
			if !p.match(TokenComma) {
				break
			}
		}
	}

	if p.match(TokenLimit) {
		tok, err := p.expect(TokenInt)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(tok.Lexeme, 10, 64)
		if err != nil {
			return nil, p.errorf("invalid limit: %s", tok.Lexeme)
		}
		stmt.Limit = &n
		if p.match(TokenOffset) {
			tok, err := p.expect(TokenInt)
			if err != nil {
				return nil, err
			}
			off, err := strconv.ParseInt(tok.Lexeme, 10, 64)
			if err != nil {
				return nil, p.errorf("invalid offset: %s", tok.Lexeme)
			}
			stmt.Offset = off
		}
	}

	// Time travel clause
	if p.check(TokenAt) {
		travel, err := p.parseTimeTravel()
		if err != nil {
			return nil, err
		}
		stmt.Travel = travel
	}

	return stmt, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	if p.match(TokenStar) {
		return SelectItem{Star: true}, nil
	}
	expr, err := p.parseExpr()
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Expr: expr}
	if p.match(TokenAs) {
		tok, err := p.expect(TokenIdent)
		if err != nil {
			return SelectItem{}, err
		}
		item.Alias = tok.Lexeme
	} else if p.check(TokenIdent) {
		item.Alias = p.advance().Lexeme
	}
	return item, nil
}

func (p *Parser) parseTableRef() (TableRef, error) {
	tok, err := p.expect(TokenIdent)
	if err != nil {
		return TableRef{}, err
	}
	ref := TableRef{Name: tok.Lexeme}
	if p.match(TokenAs) {
		alias, err := p.expect(TokenIdent)
		if err != nil {
			return TableRef{}, err
		}
		ref.Alias = alias.Lexeme
	} else if p.check(TokenIdent) {
		ref.Alias = p.advance().Lexeme
	}
	return ref, nil
}

func (p *Parser) parseJoin() (JoinClause, error) {
	kind := JoinInner
	if p.match(TokenLeft) {
		p.match(TokenOuter)
		kind = JoinLeftOuter
	} else {
		p.match(TokenInner)
	}
	if _, err := p.expect(TokenJoin); err != nil {
		return JoinClause{}, err
	}
	table, err := p.parseTableRef()
	if err != nil {
		return JoinClause{}, err
	}
	if _, err := p.expect(TokenOn); err != nil {
		return JoinClause{}, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return JoinClause{}, err
	}
	return JoinClause{Kind: kind, Table: table, Condition: cond}, nil
}

func (p *Parser) parseTimeTravel() (*TimeTravel, error) {
	p.advance() // at
	if _, err := p.expect(TokenTimestamp); err != nil {
		return nil, err
	}
	at, err := p.parseTimestampLiteral()
	if err != nil {
		return nil, err
	}
	travel := &TimeTravel{At: at}
	if p.match(TokenUntil) {
		if _, err := p.expect(TokenTimestamp); err != nil {
			return nil, err
		}
		until, err := p.parseTimestampLiteral()
		if err != nil {
			return nil, err
		}
		if !until.After(travel.At) {
			return nil, p.errorf("until timestamp must come after at timestamp")
		}
		travel.Until = &until
	}
	return travel, nil
}

func (p *Parser) parseTimestampLiteral() (time.Time, error) {
	tok, err := p.expect(TokenString)
	if err != nil {
		return time.Time{}, err
	}
	ts, perr := time.Parse(time.RFC3339, tok.Lexeme)
	if perr != nil {
		return time.Time{}, &ParseError{
			Line: tok.Line, Col: tok.Col,
			Message: fmt.Sprintf("invalid timestamp %q, want RFC 3339", tok.Lexeme),
		}
	}
	return ts, nil
}

func (p *Parser) parseInsert() (*InsertStatement, error) {
	p.advance() // insert
	if _, err := p.expect(TokenInto); err != nil {
		return nil, err
	}
	tok, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	stmt := &InsertStatement{Table: tok.Lexeme}

	if p.match(TokenLParen) {
		for {
			col, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col.Lexeme)
			if !p.match(TokenComma) {
				break
			}
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(TokenValues); err != nil {
		return nil, err
	}
	for {
		if _, err := p.expect(TokenLParen); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, expr)
			if !p.match(TokenComma) {
				break
			}
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		if len(stmt.Columns) > 0 && len(row) != len(stmt.Columns) {
			return nil, p.errorf("row has %d values, expected %d", len(row), len(stmt.Columns))
		}
		stmt.Rows = append(stmt.Rows, row)
		if !p.match(TokenComma) {
			break
		}
	}
	return stmt, nil
}

func (p *Parser) parseUpdate() (*UpdateStatement, error) {
	p.advance() // update
	tok, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	stmt := &UpdateStatement{Table: tok.Lexeme}

	if _, err := p.expect(TokenSet); err != nil {
		return nil, err
	}
	for {
		col, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenEquals); err != nil {
			return nil, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Assignments = append(stmt.Assignments, Assignment{Column: col.Lexeme, Value: expr})
		if !p.match(TokenComma) {
			break
		}
	}

	if p.match(TokenWhere) {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = expr
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (*DeleteStatement, error) {
	p.advance() // delete
	if _, err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	tok, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStatement{Table: tok.Lexeme}
	if p.match(TokenWhere) {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = expr
	}
	return stmt, nil
}

// parseCreate dispatches on the word after create
func (p *Parser) parseCreate() (Statement, error) {
	p.advance() // create
	switch p.peek().Type {
	case TokenTable:
		return p.parseCreateTable()
	case TokenIndex:
		return p.parseCreateIndex()
	}
	return nil, p.errorf("expected 'table' or 'index' after 'create', found %s", p.peek().Type.Name())
}

func (p *Parser) parseCreateIndex() (*CreateIndexStatement, error) {
	p.advance() // index
	name, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenOn); err != nil {
		return nil, err
	}
	table, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	stmt := &CreateIndexStatement{Name: name.Lexeme, Table: table.Lexeme}

	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	for {
		col, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col.Lexeme)
		if !p.match(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseDrop() (*DropTableStatement, error) {
	p.advance() // drop
	if _, err := p.expect(TokenTable); err != nil {
		return nil, err
	}
	tok, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	return &DropTableStatement{Table: tok.Lexeme}, nil
}

func (p *Parser) parseCreateTable() (*CreateTableStatement, error) {
	p.advance() // table
	tok, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	stmt := &CreateTableStatement{Table: tok.Lexeme}

	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	for {
		name, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		typ, err := p.expectTypeName()
		if err != nil {
			return nil, err
		}
		col := ColumnDef{
			Name:     name.Lexeme,
			Type:     typ.Lexeme,
			Nullable: true,
		}

		// Column constraints: "not null" and "primary key"
		for {
			if p.match(TokenNot) {
				if _, err := p.expect(TokenNull); err != nil {
					return nil, err
				}
				col.Nullable = false
				continue
			}
			if p.check(TokenIdent) && p.peek().Lexeme == "primary" {
				p.advance()
				key, err := p.expect(TokenIdent)
				if err != nil || key.Lexeme != "key" {
					return nil, p.errorf("expected 'key' after 'primary'")
				}
				col.PrimaryKey = true
				col.Nullable = false
				continue
			}
			break
		}

		stmt.Columns = append(stmt.Columns, col)
		if !p.match(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return stmt, nil
}

// expectTypeName accepts an identifier in column type position. The
// timestamp keyword is allowed too, since the lexer claims it for time
// travel clauses.
func (p *Parser) expectTypeName() (Token, error) {
	if p.check(TokenIdent) || p.check(TokenTimestamp) {
		return p.advance(), nil
	}
	tok := p.peek()
	return Token{}, &ParseError{
		Line: tok.Line, Col: tok.Col,
		Message: fmt.Sprintf("expected a column type, found %s", tok.Type.Name()),
	}
}

func (p *Parser) parseBegin() (*BeginStatement, error) {
	p.advance() // begin
	stmt := &BeginStatement{}
	if p.match(TokenDeterministic) {
		stmt.Deterministic = true
	}
	if _, err := p.expect(TokenTransaction); err != nil {
		return nil, err
	}
	if p.match(TokenAt) {
		if _, err := p.expect(TokenTimestamp); err != nil {
			return nil, err
		}
		at, err := p.parseTimestampLiteral()
		if err != nil {
			return nil, err
		}
		stmt.At = &at
	}
	return stmt, nil
}

// Expression grammar, loosest to tightest binding:
// or, and, comparison (non-associative), additive, multiplicative, unary.

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.match(TokenOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.match(TokenAnd) {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	op, ok := comparisonOp(p.peek().Type)
	if !ok {
		return left, nil
	}
	p.advance()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	// Non-associative: a second comparison operator is a grammar error
	if _, chained := comparisonOp(p.peek().Type); chained {
		return nil, p.errorf("comparison operators cannot be chained")
	}
	return &BinaryExpr{Op: op, Left: left, Right: right}, nil
}

func comparisonOp(tt TokenType) (BinaryOp, bool) {
	switch tt {
	case TokenEquals:
		return OpEq, true
	case TokenNotEquals:
		return OpNe, true
	case TokenLess:
		return OpLt, true
	case TokenLessEq:
		return OpLe, true
	case TokenGreater:
		return OpGt, true
	case TokenGreaterEq:
		return OpGe, true
	}
	return 0, false
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch {
		case p.match(TokenPlus):
			op = OpAdd
		case p.match(TokenMinus):
			op = OpSub
		default:
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch {
		case p.match(TokenStar):
			op = OpMul
		case p.match(TokenSlash):
			op = OpDiv
		default:
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.match(TokenNot) {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNot, Operand: operand}, nil
	}
	if p.match(TokenMinus) {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNeg, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case TokenInt:
		p.advance()
		n, err := strconv.ParseInt(tok.Lexeme, 10, 64)
		if err != nil {
			return nil, p.errorf("integer literal out of range: %s", tok.Lexeme)
		}
		return &LiteralExpr{Value: common.Int(n)}, nil
	case TokenFloat:
		p.advance()
		f, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			return nil, p.errorf("invalid float literal: %s", tok.Lexeme)
		}
		return &LiteralExpr{Value: common.Float(f)}, nil
	case TokenString:
		p.advance()
		return &LiteralExpr{Value: common.String(tok.Lexeme)}, nil
	case TokenTrue:
		p.advance()
		return &LiteralExpr{Value: common.Bool(true)}, nil
	case TokenFalse:
		p.advance()
		return &LiteralExpr{Value: common.Bool(false)}, nil
	case TokenNull:
		p.advance()
		return &LiteralExpr{Value: common.Null()}, nil
	case TokenLParen:
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return expr, nil
	case TokenIdent:
		p.advance()
		// Function call
		if p.check(TokenLParen) {
			return p.parseFunctionCall(tok.Lexeme)
		}
		// Qualified column
		if p.match(TokenDot) {
			col, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			return &ColumnExpr{Table: tok.Lexeme, Name: col.Lexeme}, nil
		}
		return &ColumnExpr{Name: tok.Lexeme}, nil
	}
	return nil, p.errorf("expected an expression, found %s", tok.Type.Name())
}

func (p *Parser) parseFunctionCall(name string) (Expr, error) {
	p.advance() // (
	fn := &FunctionExpr{Name: name}
	if p.match(TokenStar) {
		fn.Star = true
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return fn, nil
	}
	if p.match(TokenRParen) {
		return fn, nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fn.Args = append(fn.Args, arg)
		if !p.match(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return fn, nil
}

func (p *Parser) peek() Token { return p.tokens[p.pos] }

func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) check(tt TokenType) bool { return p.peek().Type == tt }

func (p *Parser) match(tt TokenType) bool {
	if p.check(tt) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(tt TokenType) (Token, error) {
	if p.check(tt) {
		return p.advance(), nil
	}
	tok := p.peek()
	return Token{}, &ParseError{
		Line: tok.Line, Col: tok.Col,
		Message: fmt.Sprintf("expected %s, found %s", tt.Name(), tok.Type.Name()),
	}
}

func (p *Parser) errorf(format string, args ...any) error {
	tok := p.peek()
	return &ParseError{Line: tok.Line, Col: tok.Col, Message: fmt.Sprintf(format, args...)}
}
