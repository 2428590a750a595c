package compiler

import (
	"loxvm/internal/chunk"
	"loxvm/internal/token"
	"loxvm/internal/value"
)

// Precedence is the operator precedence ladder, lowest to highest.
type Precedence int

const (
	PrecNone Precedence = iota
	PrecAssignment
	PrecOr
	PrecAnd
	PrecEquality
	PrecComparison
	PrecTerm
	PrecFactor
	PrecUnary
	PrecCall
	PrecPrimary
)

// ParseFn is a prefix or infix parsing routine. Unlike an AST-building
// parser it has no return value — it emits bytecode onto c's current
// chunk as a side effect.
type ParseFn func(c *Compiler, canAssign bool)

type ParseRule struct {
	Prefix     ParseFn
	Infix      ParseFn
	Precedence Precedence
}

// rules is the Pratt table: for each token kind, its prefix parser (if
// it can start an expression), its infix parser (if it can continue
// one), and the precedence of that infix use.
var rules = map[token.TokenKind]ParseRule{
	token.LEFT_PAREN:    {Prefix: (*Compiler).grouping, Infix: (*Compiler).call, Precedence: PrecCall},
	token.DOT:           {Infix: (*Compiler).dot, Precedence: PrecCall},
	token.MINUS:         {Prefix: (*Compiler).unary, Infix: (*Compiler).binary, Precedence: PrecTerm},
	token.PLUS:          {Infix: (*Compiler).binary, Precedence: PrecTerm},
	token.SLASH:         {Infix: (*Compiler).binary, Precedence: PrecFactor},
	token.STAR:          {Infix: (*Compiler).binary, Precedence: PrecFactor},
	token.BANG:          {Prefix: (*Compiler).unary},
	token.BANG_EQUAL:    {Infix: (*Compiler).binary, Precedence: PrecEquality},
	token.EQUAL_EQUAL:   {Infix: (*Compiler).binary, Precedence: PrecEquality},
	token.GREATER:       {Infix: (*Compiler).binary, Precedence: PrecComparison},
	token.GREATER_EQUAL: {Infix: (*Compiler).binary, Precedence: PrecComparison},
	token.LESS:          {Infix: (*Compiler).binary, Precedence: PrecComparison},
	token.LESS_EQUAL:    {Infix: (*Compiler).binary, Precedence: PrecComparison},
	token.IDENTIFIER:    {Prefix: (*Compiler).variable},
	token.STRING:        {Prefix: (*Compiler).stringLiteral},
	token.NUMBER:        {Prefix: (*Compiler).numberLiteral},
	token.AND:           {Infix: (*Compiler).and_, Precedence: PrecAnd},
	token.OR:            {Infix: (*Compiler).or_, Precedence: PrecOr},
	token.FALSE:         {Prefix: (*Compiler).literalKeyword},
	token.TRUE:          {Prefix: (*Compiler).literalKeyword},
	token.NIL:           {Prefix: (*Compiler).literalKeyword},
	token.THIS:          {Prefix: (*Compiler).thisExpr},
	token.SUPER:         {Prefix: (*Compiler).superExpr},
}

func getRule(kind token.TokenKind) ParseRule {
	return rules[kind]
}

func (c *Compiler) expression() {
	c.parsePrecedence(PrecAssignment)
}

// parsePrecedence is the Pratt engine's core loop: consume one prefix
// expression, then keep folding in infix operators whose precedence
// meets the floor.
func (c *Compiler) parsePrecedence(prec Precedence) {
	p := c.parser
	p.advance()
	prefixRule := getRule(p.previous.Kind).Prefix
	if prefixRule == nil {
		p.errorAtPrevious("Expect expression.")
		return
	}

	canAssign := prec <= PrecAssignment
	prefixRule(c, canAssign)

	for prec <= getRule(p.current.Kind).Precedence {
		p.advance()
		infixRule := getRule(p.previous.Kind).Infix
		infixRule(c, canAssign)
	}

	if canAssign && p.match(token.EQUAL) {
		p.errorAtPrevious("Invalid assignment target.")
	}
}

func (c *Compiler) numberLiteral(canAssign bool) {
	n, _ := c.parser.previous.Literal.(float64)
	c.emitConstant(value.Number(n))
}

func (c *Compiler) stringLiteral(canAssign bool) {
	s, _ := c.parser.previous.Literal.(string)
	c.emitConstant(value.Obj(&value.ObjString{Chars: s}))
}

func (c *Compiler) literalKeyword(canAssign bool) {
	switch c.parser.previous.Kind {
	case token.FALSE:
		c.emitOp(chunk.OP_FALSE)
	case token.NIL:
		c.emitOp(chunk.OP_NIL)
	case token.TRUE:
		c.emitOp(chunk.OP_TRUE)
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.parser.consume(token.RIGHT_PAREN, "Expect ')' after expression.")
}

func (c *Compiler) unary(canAssign bool) {
	opKind := c.parser.previous.Kind
	c.parsePrecedence(PrecUnary)
	switch opKind {
	case token.BANG:
		c.emitOp(chunk.OP_NOT)
	case token.MINUS:
		c.emitOp(chunk.OP_NEGATE)
	}
}

func (c *Compiler) binary(canAssign bool) {
	opKind := c.parser.previous.Kind
	rule := getRule(opKind)
	c.parsePrecedence(rule.Precedence + 1)

	switch opKind {
	case token.BANG_EQUAL:
		c.emitOp(chunk.OP_EQUAL)
		c.emitOp(chunk.OP_NOT)
	case token.EQUAL_EQUAL:
		c.emitOp(chunk.OP_EQUAL)
	case token.GREATER:
		c.emitOp(chunk.OP_GREATER)
	case token.GREATER_EQUAL:
		c.emitOp(chunk.OP_LESS)
		c.emitOp(chunk.OP_NOT)
	case token.LESS:
		c.emitOp(chunk.OP_LESS)
	case token.LESS_EQUAL:
		c.emitOp(chunk.OP_GREATER)
		c.emitOp(chunk.OP_NOT)
	case token.PLUS:
		c.emitOp(chunk.OP_ADD)
	case token.MINUS:
		c.emitOp(chunk.OP_SUBTRACT)
	case token.STAR:
		c.emitOp(chunk.OP_MULTIPLY)
	case token.SLASH:
		c.emitOp(chunk.OP_DIVIDE)
	}
}

func (c *Compiler) and_(canAssign bool) {
	endJump := c.emitJump(chunk.OP_JUMP_IF_FALSE)
	c.emitOp(chunk.OP_POP)
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or_(canAssign bool) {
	elseJump := c.emitJump(chunk.OP_JUMP_IF_FALSE)
	endJump := c.emitJump(chunk.OP_JUMP)

	c.patchJump(elseJump)
	c.emitOp(chunk.OP_POP)

	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.parser.previous, canAssign)
}

func (c *Compiler) argumentList() byte {
	p := c.parser
	argCount := 0
	if !p.check(token.RIGHT_PAREN) {
		for {
			c.expression()
			if argCount == 255 {
				p.errorAtPrevious("Can't have more than 255 arguments.")
			}
			argCount++
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RIGHT_PAREN, "Expect ')' after arguments.")
	return byte(argCount)
}

func (c *Compiler) call(canAssign bool) {
	argCount := c.argumentList()
	c.emitOpByte(chunk.OP_CALL, argCount)
}

func (c *Compiler) dot(canAssign bool) {
	p := c.parser
	p.consume(token.IDENTIFIER, "Expect property name after '.'.")
	name := c.identifierConstant(p.previous)

	switch {
	case canAssign && p.match(token.EQUAL):
		c.expression()
		c.emitOpByte(chunk.OP_SET_PROPERTY, name)
	case p.match(token.LEFT_PAREN):
		argCount := c.argumentList()
		c.emitOpByte(chunk.OP_INVOKE, name)
		c.emitByte(argCount)
	default:
		c.emitOpByte(chunk.OP_GET_PROPERTY, name)
	}
}

func (c *Compiler) thisExpr(canAssign bool) {
	if c.parser.class == nil {
		c.parser.errorAtPrevious("Can't use 'this' outside of a class.")
		return
	}
	c.variable(false)
}

func (c *Compiler) superExpr(canAssign bool) {
	p := c.parser
	if p.class == nil {
		p.errorAtPrevious("Can't use 'super' outside of a class.")
	} else if !p.class.hasSuperclass {
		p.errorAtPrevious("Can't use 'super' in a class with no superclass.")
	}

	p.consume(token.DOT, "Expect '.' after 'super'.")
	p.consume(token.IDENTIFIER, "Expect superclass method name.")
	name := c.identifierConstant(p.previous)

	c.namedVariable(syntheticToken("this"), false)
	if p.match(token.LEFT_PAREN) {
		argCount := c.argumentList()
		c.namedVariable(syntheticToken("super"), false)
		c.emitOpByte(chunk.OP_SUPER_INVOKE, name)
		c.emitByte(argCount)
	} else {
		c.namedVariable(syntheticToken("super"), false)
		c.emitOpByte(chunk.OP_GET_SUPER, name)
	}
}
