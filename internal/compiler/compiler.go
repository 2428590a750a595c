// Package compiler implements a single-pass Pratt compiler: it consumes
// tokens from the Scanner and emits bytecode directly, with no
// intermediate AST. Parsing and code generation are fused into one
// pass — each prefix/infix rule function emits bytecode immediately
// instead of building expression nodes for a later pass to walk.
package compiler

import (
	"fmt"

	"loxvm/internal/chunk"
	"loxvm/internal/lexer"
	"loxvm/internal/token"
	"loxvm/internal/value"
)

// FunctionKind distinguishes the four contexts that shape Compiler-local
// state: a top-level script, an ordinary function, a class method, and
// a class initializer (`init`).
type FunctionKind int

const (
	FuncScript FunctionKind = iota
	FuncFunction
	FuncMethod
	FuncInitializer
)

const maxLocals = 256

// Local is one entry in a Compiler's local-variable stack: name, scope
// depth, and whether a nested function captures it as an upvalue.
// Depth -1 means declared but not yet initialized (reading it is a
// compile error — this is how `var a = a;` is rejected).
type Local struct {
	Name       token.Token
	Depth      int
	IsCaptured bool
}

// Upvalue records how a nested function reaches a variable it doesn't
// own: either the enclosing function's own local slot, or one of the
// enclosing function's own upvalues.
type Upvalue struct {
	Index   uint8
	IsLocal bool
}

// classCompiler is the per-open-class context: whether the class being
// compiled has a superclass, which gates `super`.
type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

// Compiler holds the state for exactly one function being compiled.
// Nested instances form a strict LIFO stack via enclosing, one per
// function.
type Compiler struct {
	parser     *Parser
	enclosing  *Compiler
	function   *value.ObjFunction
	kind       FunctionKind
	locals     []Local
	upvalues   []Upvalue
	scopeDepth int
}

// Parser is the single-pass token cursor shared by every nested
// Compiler: one current/previous token pair, the scanner driving them,
// and panic-mode error recovery.
type Parser struct {
	scanner   *lexer.Lexer
	current   token.Token
	previous  token.Token
	hadError  bool
	panicMode bool
	errors    []string

	compiler *Compiler
	class    *classCompiler
}

// Compile compiles source into a top-level script Function, or returns
// the accumulated compile errors if any were found (the VM should never
// be invoked with a nil Function).
func Compile(source string) (*value.ObjFunction, []string) {
	p := &Parser{scanner: lexer.New(source)}
	c := newCompiler(p, nil, FuncScript, "")
	p.compiler = c

	p.advance()
	for !p.match(token.EOF) {
		c.declaration()
	}
	fn := c.end()

	if p.hadError {
		return nil, p.errors
	}
	return fn, nil
}

func newCompiler(p *Parser, enclosing *Compiler, kind FunctionKind, name string) *Compiler {
	c := &Compiler{
		parser:    p,
		enclosing: enclosing,
		function:  &value.ObjFunction{Name: name, Chunk: chunk.New()},
		kind:      kind,
	}
	// Slot 0 is reserved for the function/closure itself (script and
	// plain functions) or the receiver (methods and initializers) — it
	// can never be referenced by user code when its lexeme is empty.
	slotName := ""
	if kind == FuncMethod || kind == FuncInitializer {
		slotName = "this"
	}
	c.locals = append(c.locals, Local{Name: token.Token{Lexeme: slotName}, Depth: 0})
	return c
}

func (c *Compiler) currentChunk() *chunk.Chunk {
	return c.function.Chunk.(*chunk.Chunk)
}

// ---- bytecode emission -----------------------------------------------

func (c *Compiler) emitByte(b byte) {
	line := c.parser.previous.Line
	c.currentChunk().Write(b, line)
}

func (c *Compiler) emitOp(op chunk.OpCode) {
	c.emitByte(byte(op))
}

func (c *Compiler) emitOpByte(op chunk.OpCode, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

// emitJump emits op followed by a two-byte placeholder and returns the
// offset of the placeholder for a later patchJump.
func (c *Compiler) emitJump(op chunk.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.currentChunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.currentChunk().Code) - offset - 2
	if jump > 65535 {
		c.parser.errorAtPrevious("Too much code to jump over.")
	}
	c.currentChunk().Code[offset] = byte((jump >> 8) & 0xff)
	c.currentChunk().Code[offset+1] = byte(jump & 0xff)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(chunk.OP_LOOP)
	offset := len(c.currentChunk().Code) - loopStart + 2
	if offset > 65535 {
		c.parser.errorAtPrevious("Loop body too large.")
	}
	c.emitByte(byte((offset >> 8) & 0xff))
	c.emitByte(byte(offset & 0xff))
}

func (c *Compiler) emitReturn() {
	if c.kind == FuncInitializer {
		// A bare `return;` in an initializer always returns `this`.
		c.emitOpByte(chunk.OP_GET_LOCAL, 0)
	} else {
		c.emitOp(chunk.OP_NIL)
	}
	c.emitOp(chunk.OP_RETURN)
}

func (c *Compiler) makeConstant(v value.Value) byte {
	idx := c.currentChunk().AddConstant(v)
	if idx > 255 {
		c.parser.errorAtPrevious("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitOpByte(chunk.OP_CONSTANT, c.makeConstant(v))
}

// end finalizes this compiler: emits the implicit return and hands back
// the finished Function for the enclosing chunk's constant pool.
func (c *Compiler) end() *value.ObjFunction {
	c.emitReturn()
	return c.function
}

// ---- scopes & locals ---------------------------------------------------

func (c *Compiler) beginScope() {
	c.scopeDepth++
}

func (c *Compiler) endScope() {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].Depth > c.scopeDepth {
		if c.locals[len(c.locals)-1].IsCaptured {
			c.emitOp(chunk.OP_CLOSE_UPVALUE)
		} else {
			c.emitOp(chunk.OP_POP)
		}
		c.locals = c.locals[:len(c.locals)-1]
	}
}

func (c *Compiler) addLocal(name token.Token) {
	if len(c.locals) >= maxLocals {
		c.parser.errorAtPrevious("Too many local variables in function.")
		return
	}
	c.locals = append(c.locals, Local{Name: name, Depth: -1})
}

func (c *Compiler) declareVariable() {
	if c.scopeDepth == 0 {
		return
	}
	name := c.parser.previous
	for i := len(c.locals) - 1; i >= 0; i-- {
		local := c.locals[i]
		if local.Depth != -1 && local.Depth < c.scopeDepth {
			break
		}
		if local.Name.Lexeme == name.Lexeme {
			c.parser.errorAtPrevious("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) markInitialized() {
	if c.scopeDepth == 0 {
		return
	}
	c.locals[len(c.locals)-1].Depth = c.scopeDepth
}

func (c *Compiler) resolveLocal(name token.Token) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		local := c.locals[i]
		if local.Name.Lexeme == name.Lexeme {
			if local.Depth == -1 {
				c.parser.errorAtPrevious("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// ---- upvalues -----------------------------------------------------------

func (c *Compiler) addUpvalue(index uint8, isLocal bool) int {
	for i, uv := range c.upvalues {
		if uv.Index == index && uv.IsLocal == isLocal {
			return i
		}
	}
	if len(c.upvalues) >= 255 {
		c.parser.errorAtPrevious("Too many closure variables in function.")
		return 0
	}
	c.upvalues = append(c.upvalues, Upvalue{Index: index, IsLocal: isLocal})
	c.function.UpvalueCount = len(c.upvalues)
	return len(c.upvalues) - 1
}

func (c *Compiler) resolveUpvalue(name token.Token) int {
	if c.enclosing == nil {
		return -1
	}
	if local := c.enclosing.resolveLocal(name); local != -1 {
		c.enclosing.locals[local].IsCaptured = true
		return c.addUpvalue(uint8(local), true)
	}
	if upvalue := c.enclosing.resolveUpvalue(name); upvalue != -1 {
		return c.addUpvalue(uint8(upvalue), false)
	}
	return -1
}

// ---- variables ----------------------------------------------------------

func (c *Compiler) identifierConstant(name token.Token) byte {
	return c.makeConstant(value.Obj(&value.ObjString{Chars: name.Lexeme}))
}

func (c *Compiler) parseVariable(errMsg string) byte {
	c.parser.consume(token.IDENTIFIER, errMsg)
	c.declareVariable()
	if c.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.parser.previous)
}

func (c *Compiler) defineVariable(global byte) {
	if c.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(chunk.OP_DEFINE_GLOBAL, global)
}

func (c *Compiler) namedVariable(name token.Token, canAssign bool) {
	var getOp, setOp chunk.OpCode
	arg := c.resolveLocal(name)
	if arg != -1 {
		getOp, setOp = chunk.OP_GET_LOCAL, chunk.OP_SET_LOCAL
	} else if arg = c.resolveUpvalue(name); arg != -1 {
		getOp, setOp = chunk.OP_GET_UPVALUE, chunk.OP_SET_UPVALUE
	} else {
		arg = int(c.identifierConstant(name))
		getOp, setOp = chunk.OP_GET_GLOBAL, chunk.OP_SET_GLOBAL
	}

	if canAssign && c.parser.match(token.EQUAL) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
	} else {
		c.emitOpByte(getOp, byte(arg))
	}
}

func syntheticToken(text string) token.Token {
	return token.Token{Kind: token.IDENTIFIER, Lexeme: text}
}

// ---- declarations & statements -------------------------------------------

func (c *Compiler) declaration() {
	p := c.parser
	switch {
	case p.match(token.CLASS):
		c.classDeclaration()
	case p.match(token.FUN):
		c.funDeclaration()
	case p.match(token.VAR):
		c.varDeclaration()
	default:
		c.statement()
	}
	if p.panicMode {
		p.synchronize()
	}
}

func (c *Compiler) classDeclaration() {
	p := c.parser
	p.consume(token.IDENTIFIER, "Expect class name.")
	className := p.previous
	nameConstant := c.identifierConstant(className)
	c.declareVariable()

	c.emitOpByte(chunk.OP_CLASS, nameConstant)
	c.defineVariable(nameConstant)

	classComp := &classCompiler{enclosing: p.class}
	p.class = classComp
	defer func() { p.class = classComp.enclosing }()

	if p.match(token.LESS) {
		p.consume(token.IDENTIFIER, "Expect superclass name.")
		c.variable(false) // pushes the superclass value
		if className.Lexeme == p.previous.Lexeme {
			p.errorAtPrevious("A class can't inherit from itself.")
		}

		c.beginScope()
		c.addLocal(syntheticToken("super"))
		c.defineVariable(0)

		c.namedVariable(className, false)
		c.emitOp(chunk.OP_INHERIT)
		classComp.hasSuperclass = true
	}

	c.namedVariable(className, false)
	p.consume(token.LEFT_BRACE, "Expect '{' before class body.")
	for !p.check(token.RIGHT_BRACE) && !p.check(token.EOF) {
		c.method()
	}
	p.consume(token.RIGHT_BRACE, "Expect '}' after class body.")
	c.emitOp(chunk.OP_POP) // pop the class value pushed for METHOD

	if classComp.hasSuperclass {
		c.endScope()
	}
}

func (c *Compiler) method() {
	p := c.parser
	p.consume(token.IDENTIFIER, "Expect method name.")
	name := p.previous
	constant := c.identifierConstant(name)

	kind := FuncMethod
	if name.Lexeme == "init" {
		kind = FuncInitializer
	}
	c.compileFunction(kind)
	c.emitOpByte(chunk.OP_METHOD, constant)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	c.markInitialized()
	c.compileFunction(FuncFunction)
	c.defineVariable(global)
}

// compileFunction nests a new Compiler for the function/method body
// being parsed, LIFO on the Parser's `compiler` field, then emits a
// CLOSURE instruction with its resolved upvalue descriptors.
func (c *Compiler) compileFunction(kind FunctionKind) {
	p := c.parser
	child := newCompiler(p, c, kind, p.previous.Lexeme)
	p.compiler = child
	child.beginScope()

	p.consume(token.LEFT_PAREN, "Expect '(' after function name.")
	if !p.check(token.RIGHT_PAREN) {
		for {
			child.function.Arity++
			if child.function.Arity > 255 {
				p.errorAtCurrent("Can't have more than 255 parameters.")
			}
			paramConstant := child.parseVariable("Expect parameter name.")
			child.defineVariable(paramConstant)
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RIGHT_PAREN, "Expect ')' after parameters.")
	p.consume(token.LEFT_BRACE, "Expect '{' before function body.")
	child.block()

	fn := child.end()
	p.compiler = c

	c.emitOpByte(chunk.OP_CLOSURE, c.makeConstant(value.Obj(fn)))
	for _, uv := range child.upvalues {
		isLocal := byte(0)
		if uv.IsLocal {
			isLocal = 1
		}
		c.emitByte(isLocal)
		c.emitByte(uv.Index)
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.parser.match(token.EQUAL) {
		c.expression()
	} else {
		c.emitOp(chunk.OP_NIL)
	}
	c.parser.consume(token.SEMICOLON, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *Compiler) statement() {
	p := c.parser
	switch {
	case p.match(token.PRINT):
		c.printStatement()
	case p.match(token.FOR):
		c.forStatement()
	case p.match(token.IF):
		c.ifStatement()
	case p.match(token.RETURN):
		c.returnStatement()
	case p.match(token.WHILE):
		c.whileStatement()
	case p.match(token.LEFT_BRACE):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.parser.check(token.RIGHT_BRACE) && !c.parser.check(token.EOF) {
		c.declaration()
	}
	c.parser.consume(token.RIGHT_BRACE, "Expect '}' after block.")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.parser.consume(token.SEMICOLON, "Expect ';' after value.")
	c.emitOp(chunk.OP_PRINT)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.parser.consume(token.SEMICOLON, "Expect ';' after expression.")
	c.emitOp(chunk.OP_POP)
}

func (c *Compiler) ifStatement() {
	p := c.parser
	p.consume(token.LEFT_PAREN, "Expect '(' after 'if'.")
	c.expression()
	p.consume(token.RIGHT_PAREN, "Expect ')' after condition.")

	thenJump := c.emitJump(chunk.OP_JUMP_IF_FALSE)
	c.emitOp(chunk.OP_POP)
	c.statement()

	elseJump := c.emitJump(chunk.OP_JUMP)
	c.patchJump(thenJump)
	c.emitOp(chunk.OP_POP)

	if p.match(token.ELSE) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	p := c.parser
	loopStart := len(c.currentChunk().Code)
	p.consume(token.LEFT_PAREN, "Expect '(' after 'while'.")
	c.expression()
	p.consume(token.RIGHT_PAREN, "Expect ')' after condition.")

	exitJump := c.emitJump(chunk.OP_JUMP_IF_FALSE)
	c.emitOp(chunk.OP_POP)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(chunk.OP_POP)
}

func (c *Compiler) forStatement() {
	p := c.parser
	c.beginScope()
	p.consume(token.LEFT_PAREN, "Expect '(' after 'for'.")

	switch {
	case p.match(token.SEMICOLON):
		// no initializer
	case p.match(token.VAR):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.currentChunk().Code)
	exitJump := -1
	if !p.match(token.SEMICOLON) {
		c.expression()
		p.consume(token.SEMICOLON, "Expect ';' after loop condition.")
		exitJump = c.emitJump(chunk.OP_JUMP_IF_FALSE)
		c.emitOp(chunk.OP_POP)
	}

	if !p.match(token.RIGHT_PAREN) {
		bodyJump := c.emitJump(chunk.OP_JUMP)
		incrementStart := len(c.currentChunk().Code)
		c.expression()
		c.emitOp(chunk.OP_POP)
		p.consume(token.RIGHT_PAREN, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(chunk.OP_POP)
	}
	c.endScope()
}

func (c *Compiler) returnStatement() {
	p := c.parser
	if c.kind == FuncScript {
		p.errorAtPrevious("Can't return from top-level code.")
	}
	if p.match(token.SEMICOLON) {
		c.emitReturn()
		return
	}
	if c.kind == FuncInitializer {
		p.errorAtPrevious("Can't return a value from an initializer.")
	}
	c.expression()
	p.consume(token.SEMICOLON, "Expect ';' after return value.")
	c.emitOp(chunk.OP_RETURN)
}

// ---- Parser: token cursor & panic-mode error recovery --------------------

func (p *Parser) advance() {
	p.previous = p.current
	for {
		p.current = p.scanner.NextToken()
		if p.current.Kind != token.ERROR {
			break
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *Parser) consume(kind token.TokenKind, message string) {
	if p.current.Kind == kind {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *Parser) check(kind token.TokenKind) bool {
	return p.current.Kind == kind
}

func (p *Parser) match(kind token.TokenKind) bool {
	if !p.check(kind) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) errorAtCurrent(message string) {
	p.errorAt(p.current, message)
}

func (p *Parser) errorAtPrevious(message string) {
	p.errorAt(p.previous, message)
}

func (p *Parser) errorAt(tok token.Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true

	where := ""
	switch tok.Kind {
	case token.EOF:
		where = " at end"
	case token.ERROR:
		// message is already the scanner's own description.
	default:
		where = fmt.Sprintf(" at '%s'", tok.Lexeme)
	}
	p.errors = append(p.errors, fmt.Sprintf("[line %d] Error%s: %s", tok.Line, where, message))
	p.hadError = true
}

// synchronize discards tokens until it reaches a statement boundary,
// per the parser's panic-mode recovery rule.
func (p *Parser) synchronize() {
	p.panicMode = false
	for p.current.Kind != token.EOF {
		if p.previous.Kind == token.SEMICOLON {
			return
		}
		switch p.current.Kind {
		case token.CLASS, token.FUN, token.VAR, token.FOR, token.IF, token.WHILE, token.PRINT, token.RETURN:
			return
		}
		p.advance()
	}
}
