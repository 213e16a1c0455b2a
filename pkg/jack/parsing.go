package jack

import (
	"fmt"
	"io"

	"github.com/n2t-toolkit/n2t/pkg/token"
	"github.com/n2t-toolkit/n2t/pkg/utils"
)

// ----------------------------------------------------------------------------
// Jack Parser

// Parser is a hand-rolled recursive descent parser for the Jack grammar. Jack is an LL(1)
// language: every production can be picked by looking at a single token of lookahead, most
// notably the term/subroutine-call disambiguation (see parseTerm), so a parser combinator
// library buys us nothing a switch on 'peek()' doesn't already give for free.
type Parser struct {
	tokens []token.Token
	pos    int
}

// NewParser reads 'r' fully, tokenizes it and returns a Parser ready to produce a Class.
func NewParser(r io.Reader) (*Parser, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cannot read from 'io.Reader': %s", err)
	}

	tokens, err := token.NewTokenizer(string(content)).Tokenize()
	if err != nil {
		return nil, fmt.Errorf("cannot tokenize input: %s", err)
	}

	return &Parser{tokens: tokens}, nil
}

// Parse consumes the whole token stream and returns the Class it describes. Jack only
// allows a single top-level class per file, matching the nand2tetris one-class-per-module
// compilation unit convention.
func (p *Parser) Parse() (Class, error) {
	class, err := p.parseClass()
	if err != nil {
		return Class{}, err
	}
	if !p.atEnd() {
		return Class{}, p.errorf("unexpected trailing input after class body")
	}
	return class, nil
}

// ----------------------------------------------------------------------------
// Token stream helpers

func (p *Parser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *Parser) peek() token.Token {
	if p.atEnd() {
		return token.Token{Lexeme: "<EOF>"}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peekAt(offset int) token.Token {
	if p.pos+offset >= len(p.tokens) {
		return token.Token{Lexeme: "<EOF>"}
	}
	return p.tokens[p.pos+offset]
}

func (p *Parser) advance() token.Token {
	t := p.peek()
	p.pos++
	return t
}

func (p *Parser) errorf(format string, args ...any) error {
	line := p.peek().Line
	return fmt.Errorf("line %d: %s", line, fmt.Sprintf(format, args...))
}

// expect consumes the current token if it matches 'category' and (when non-empty) 'lexeme',
// otherwise it fails fatally with the offending line, matching the textbook compiler's
// "fail fast with a precise location" error reporting style.
func (p *Parser) expect(category token.Category, lexeme string) (token.Token, error) {
	got := p.peek()
	if got.Category != category || (lexeme != "" && got.Lexeme != lexeme) {
		want := string(category)
		if lexeme != "" {
			want = fmt.Sprintf("%q", lexeme)
		}
		return token.Token{}, p.errorf("expected %s, got %q", want, got.Lexeme)
	}
	return p.advance(), nil
}

func (p *Parser) isKeyword(lexeme string) bool {
	return p.peek().Category == token.Keyword && p.peek().Lexeme == lexeme
}

func (p *Parser) isSymbol(lexeme string) bool {
	return p.peek().Category == token.Symbol && p.peek().Lexeme == lexeme
}

// ----------------------------------------------------------------------------
// Class / variable / subroutine declarations

func (p *Parser) parseClass() (Class, error) {
	if _, err := p.expect(token.Keyword, "class"); err != nil {
		return Class{}, err
	}
	name, err := p.expect(token.Identifier, "")
	if err != nil {
		return Class{}, err
	}
	if _, err := p.expect(token.Symbol, "{"); err != nil {
		return Class{}, err
	}

	class := Class{
		Name:        name.Lexeme,
		Fields:      utils.OrderedMap[string, Variable]{},
		Subroutines: utils.OrderedMap[string, Subroutine]{},
	}

	for p.isKeyword("static") || p.isKeyword("field") {
		vars, err := p.parseClassVarDec()
		if err != nil {
			return Class{}, err
		}
		for _, v := range vars {
			class.Fields.Set(v.Name, v)
		}
	}

	for p.isKeyword("constructor") || p.isKeyword("function") || p.isKeyword("method") {
		sub, err := p.parseSubroutineDec(class.Name)
		if err != nil {
			return Class{}, err
		}
		class.Subroutines.Set(sub.Name, sub)
	}

	if _, err := p.expect(token.Symbol, "}"); err != nil {
		return Class{}, err
	}
	return class, nil
}

// parseClassVarDec parses a single 'static'/'field' declaration, possibly declaring
// several variables of the same type at once (e.g. 'field int x, y, z;').
func (p *Parser) parseClassVarDec() ([]Variable, error) {
	var kind VarType
	switch p.advance().Lexeme {
	case "static":
		kind = Static
	case "field":
		kind = Field
	}

	dataType, className, err := p.parseType()
	if err != nil {
		return nil, err
	}

	var vars []Variable
	for {
		name, err := p.expect(token.Identifier, "")
		if err != nil {
			return nil, err
		}
		vars = append(vars, Variable{Name: name.Lexeme, Type: kind, DataType: dataType, ClassName: className})

		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}

	if _, err := p.expect(token.Symbol, ";"); err != nil {
		return nil, err
	}
	return vars, nil
}

// parseType parses 'int' | 'char' | 'boolean' | className, returning the DataType and,
// for the className case, the class name to be stored alongside it.
func (p *Parser) parseType() (DataType, string, error) {
	tok := p.peek()
	switch {
	case tok.Category == token.Keyword && tok.Lexeme == "int":
		p.advance()
		return Int, "", nil
	case tok.Category == token.Keyword && tok.Lexeme == "char":
		p.advance()
		return Char, "", nil
	case tok.Category == token.Keyword && tok.Lexeme == "boolean":
		p.advance()
		return Bool, "", nil
	case tok.Category == token.Keyword && tok.Lexeme == "void":
		p.advance()
		return Void, "", nil
	case tok.Category == token.Identifier:
		p.advance()
		return Object, tok.Lexeme, nil
	default:
		return "", "", p.errorf("expected a type, got %q", tok.Lexeme)
	}
}

func (p *Parser) parseSubroutineDec(className string) (Subroutine, error) {
	var subType SubroutineType
	switch p.advance().Lexeme {
	case "constructor":
		subType = Constructor
	case "function":
		subType = Function
	case "method":
		subType = Method
	}

	returnType, _, err := p.parseType()
	if err != nil {
		return Subroutine{}, err
	}

	name, err := p.expect(token.Identifier, "")
	if err != nil {
		return Subroutine{}, err
	}

	if _, err := p.expect(token.Symbol, "("); err != nil {
		return Subroutine{}, err
	}
	params, err := p.parseParameterList()
	if err != nil {
		return Subroutine{}, err
	}
	if _, err := p.expect(token.Symbol, ")"); err != nil {
		return Subroutine{}, err
	}

	if _, err := p.expect(token.Symbol, "{"); err != nil {
		return Subroutine{}, err
	}

	var statements []Statement
	for p.isKeyword("var") {
		vars, err := p.parseVarDec()
		if err != nil {
			return Subroutine{}, err
		}
		statements = append(statements, VarStmt{Vars: vars})
	}

	body, err := p.parseStatements()
	if err != nil {
		return Subroutine{}, err
	}
	statements = append(statements, body...)

	if _, err := p.expect(token.Symbol, "}"); err != nil {
		return Subroutine{}, err
	}

	_ = className
	return Subroutine{
		Name: name.Lexeme, Type: subType, Return: returnType,
		Arguments: params, Statements: statements,
	}, nil
}

func (p *Parser) parseParameterList() (utils.OrderedMap[string, Variable], error) {
	params := utils.OrderedMap[string, Variable]{}
	if p.isSymbol(")") {
		return params, nil
	}

	for {
		dataType, className, err := p.parseType()
		if err != nil {
			return params, err
		}
		name, err := p.expect(token.Identifier, "")
		if err != nil {
			return params, err
		}
		params.Set(name.Lexeme, Variable{Name: name.Lexeme, Type: Parameter, DataType: dataType, ClassName: className})

		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return params, nil
}

func (p *Parser) parseVarDec() ([]Variable, error) {
	if _, err := p.expect(token.Keyword, "var"); err != nil {
		return nil, err
	}
	dataType, className, err := p.parseType()
	if err != nil {
		return nil, err
	}

	var vars []Variable
	for {
		name, err := p.expect(token.Identifier, "")
		if err != nil {
			return nil, err
		}
		vars = append(vars, Variable{Name: name.Lexeme, Type: Local, DataType: dataType, ClassName: className})

		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}

	if _, err := p.expect(token.Symbol, ";"); err != nil {
		return nil, err
	}
	return vars, nil
}

// ----------------------------------------------------------------------------
// Statements

func (p *Parser) parseStatements() ([]Statement, error) {
	var statements []Statement
	for p.isKeyword("let") || p.isKeyword("if") || p.isKeyword("while") || p.isKeyword("do") || p.isKeyword("return") {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	switch {
	case p.isKeyword("let"):
		return p.parseLetStatement()
	case p.isKeyword("if"):
		return p.parseIfStatement()
	case p.isKeyword("while"):
		return p.parseWhileStatement()
	case p.isKeyword("do"):
		return p.parseDoStatement()
	case p.isKeyword("return"):
		return p.parseReturnStatement()
	default:
		return nil, p.errorf("expected a statement, got %q", p.peek().Lexeme)
	}
}

func (p *Parser) parseLetStatement() (Statement, error) {
	p.advance() // 'let'
	name, err := p.expect(token.Identifier, "")
	if err != nil {
		return nil, err
	}

	var lhs Expression = VarExpr{Var: name.Lexeme}
	if p.isSymbol("[") {
		p.advance()
		index, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Symbol, "]"); err != nil {
			return nil, err
		}
		lhs = ArrayExpr{Var: name.Lexeme, Index: index}
	}

	if _, err := p.expect(token.Symbol, "="); err != nil {
		return nil, err
	}
	rhs, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Symbol, ";"); err != nil {
		return nil, err
	}

	return LetStmt{Lhs: lhs, Rhs: rhs}, nil
}

func (p *Parser) parseIfStatement() (Statement, error) {
	p.advance() // 'if'
	if _, err := p.expect(token.Symbol, "("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Symbol, ")"); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Symbol, "{"); err != nil {
		return nil, err
	}
	thenBlock, err := p.parseStatements()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Symbol, "}"); err != nil {
		return nil, err
	}

	var elseBlock []Statement
	if p.isKeyword("else") {
		p.advance()
		if _, err := p.expect(token.Symbol, "{"); err != nil {
			return nil, err
		}
		elseBlock, err = p.parseStatements()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Symbol, "}"); err != nil {
			return nil, err
		}
	}

	return IfStmt{Condition: cond, ThenBlock: thenBlock, ElseBlock: elseBlock}, nil
}

func (p *Parser) parseWhileStatement() (Statement, error) {
	p.advance() // 'while'
	if _, err := p.expect(token.Symbol, "("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Symbol, ")"); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Symbol, "{"); err != nil {
		return nil, err
	}
	block, err := p.parseStatements()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Symbol, "}"); err != nil {
		return nil, err
	}

	return WhileStmt{Condition: cond, Block: block}, nil
}

func (p *Parser) parseDoStatement() (Statement, error) {
	p.advance() // 'do'
	call, err := p.parseSubroutineCall()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Symbol, ";"); err != nil {
		return nil, err
	}
	return DoStmt{FuncCall: call}, nil
}

func (p *Parser) parseReturnStatement() (Statement, error) {
	p.advance() // 'return'
	var expr Expression
	if !p.isSymbol(";") {
		var err error
		expr, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(token.Symbol, ";"); err != nil {
		return nil, err
	}
	return ReturnStmt{Expr: expr}, nil
}

// ----------------------------------------------------------------------------
// Expressions

// binaryOps lists every Jack binary operator symbol along with the ExprType it maps to.
var binaryOps = map[string]ExprType{
	"+": Plus, "-": Minus, "*": Multiply, "/": Divide,
	"&": BoolAnd, "|": BoolOr, "<": LessThan, ">": GreatThan, "=": Equal,
}

// parseExpression parses term (op term)* with NO operator precedence: Jack evaluates
// strictly left to right, so 'a + b * c' means '(a + b) * c', not the usual arithmetic
// precedence. Each fold just nests the running LHS under the next BinaryExpr.
func (p *Parser) parseExpression() (Expression, error) {
	lhs, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for p.peek().Category == token.Symbol {
		opType, ok := binaryOps[p.peek().Lexeme]
		if !ok {
			break
		}
		p.advance()

		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		lhs = BinaryExpr{Type: opType, Lhs: lhs, Rhs: rhs}
	}

	return lhs, nil
}

func (p *Parser) parseTerm() (Expression, error) {
	tok := p.peek()

	switch {
	case tok.Category == token.IntegerConstant:
		p.advance()
		return LiteralExpr{Type: Int, Value: tok.Lexeme}, nil

	case tok.Category == token.StringConstant:
		p.advance()
		return LiteralExpr{Type: String, Value: tok.Lexeme}, nil

	case tok.Category == token.Keyword && (tok.Lexeme == "true" || tok.Lexeme == "false" || tok.Lexeme == "null" || tok.Lexeme == "this"):
		p.advance()
		dt := Bool
		if tok.Lexeme == "null" {
			dt = Null
		} else if tok.Lexeme == "this" {
			dt = Object
		}
		return LiteralExpr{Type: dt, Value: tok.Lexeme}, nil

	case tok.Category == token.Symbol && tok.Lexeme == "(":
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Symbol, ")"); err != nil {
			return nil, err
		}
		return expr, nil

	case tok.Category == token.Symbol && (tok.Lexeme == "-" || tok.Lexeme == "~"):
		p.advance()
		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		opType := Minus
		if tok.Lexeme == "~" {
			opType = BoolNot
		}
		return UnaryExpr{Type: opType, Rhs: rhs}, nil

	case tok.Category == token.Identifier:
		// Single token of lookahead disambiguates every identifier-led term:
		// '[' -> array access, '(' -> call on this class, '.' -> qualified call, else -> plain var.
		switch next := p.peekAt(1); {
		case next.Category == token.Symbol && next.Lexeme == "[":
			p.advance()
			p.advance() // '['
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.Symbol, "]"); err != nil {
				return nil, err
			}
			return ArrayExpr{Var: tok.Lexeme, Index: index}, nil

		case next.Category == token.Symbol && (next.Lexeme == "(" || next.Lexeme == "."):
			return p.parseSubroutineCall()

		default:
			p.advance()
			return VarExpr{Var: tok.Lexeme}, nil
		}

	default:
		return nil, p.errorf("expected a term, got %q", tok.Lexeme)
	}
}

// parseSubroutineCall parses 'subName(args)' (internal call) or 'qualifier.subName(args)'
// (call on a variable's class instance or a static call on a class), matching Jack's two
// call forms. The leading identifier has already been looked ahead by the caller.
func (p *Parser) parseSubroutineCall() (FuncCallExpr, error) {
	first, err := p.expect(token.Identifier, "")
	if err != nil {
		return FuncCallExpr{}, err
	}

	call := FuncCallExpr{FuncName: first.Lexeme}
	if p.isSymbol(".") {
		p.advance()
		method, err := p.expect(token.Identifier, "")
		if err != nil {
			return FuncCallExpr{}, err
		}
		call = FuncCallExpr{IsExtCall: true, Var: first.Lexeme, FuncName: method.Lexeme}
	}

	if _, err := p.expect(token.Symbol, "("); err != nil {
		return FuncCallExpr{}, err
	}
	args, err := p.parseExpressionList()
	if err != nil {
		return FuncCallExpr{}, err
	}
	if _, err := p.expect(token.Symbol, ")"); err != nil {
		return FuncCallExpr{}, err
	}
	call.Arguments = args

	return call, nil
}

func (p *Parser) parseExpressionList() ([]Expression, error) {
	var args []Expression
	if p.isSymbol(")") {
		return args, nil
	}

	for {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, expr)

		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return args, nil
}
