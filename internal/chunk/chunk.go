// Package chunk implements the bytecode chunk format: a linear code
// array with inline operands, a parallel line table, and an
// append-only constant pool.
package chunk

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"loxvm/internal/value"
)

type OpCode byte

const (
	OP_CONSTANT OpCode = iota
	OP_NIL
	OP_TRUE
	OP_FALSE
	OP_POP
	OP_GET_LOCAL
	OP_SET_LOCAL
	OP_GET_GLOBAL
	OP_SET_GLOBAL
	OP_DEFINE_GLOBAL
	OP_GET_UPVALUE
	OP_SET_UPVALUE
	OP_GET_PROPERTY
	OP_SET_PROPERTY
	OP_GET_SUPER
	OP_EQUAL
	OP_GREATER
	OP_LESS
	OP_ADD
	OP_SUBTRACT
	OP_MULTIPLY
	OP_DIVIDE
	OP_NOT
	OP_NEGATE
	OP_PRINT
	OP_JUMP
	OP_JUMP_IF_FALSE
	OP_LOOP
	OP_CALL
	OP_INVOKE
	OP_SUPER_INVOKE
	OP_CLOSURE
	OP_CLOSE_UPVALUE
	OP_RETURN
	OP_CLASS
	OP_INHERIT
	OP_METHOD
)

func (op OpCode) String() string {
	switch op {
	case OP_CONSTANT:
		return "OP_CONSTANT"
	case OP_NIL:
		return "OP_NIL"
	case OP_TRUE:
		return "OP_TRUE"
	case OP_FALSE:
		return "OP_FALSE"
	case OP_POP:
		return "OP_POP"
	case OP_GET_LOCAL:
		return "OP_GET_LOCAL"
	case OP_SET_LOCAL:
		return "OP_SET_LOCAL"
	case OP_GET_GLOBAL:
		return "OP_GET_GLOBAL"
	case OP_SET_GLOBAL:
		return "OP_SET_GLOBAL"
	case OP_DEFINE_GLOBAL:
		return "OP_DEFINE_GLOBAL"
	case OP_GET_UPVALUE:
		return "OP_GET_UPVALUE"
	case OP_SET_UPVALUE:
		return "OP_SET_UPVALUE"
	case OP_GET_PROPERTY:
		return "OP_GET_PROPERTY"
	case OP_SET_PROPERTY:
		return "OP_SET_PROPERTY"
	case OP_GET_SUPER:
		return "OP_GET_SUPER"
	case OP_EQUAL:
		return "OP_EQUAL"
	case OP_GREATER:
		return "OP_GREATER"
	case OP_LESS:
		return "OP_LESS"
	case OP_ADD:
		return "OP_ADD"
	case OP_SUBTRACT:
		return "OP_SUBTRACT"
	case OP_MULTIPLY:
		return "OP_MULTIPLY"
	case OP_DIVIDE:
		return "OP_DIVIDE"
	case OP_NOT:
		return "OP_NOT"
	case OP_NEGATE:
		return "OP_NEGATE"
	case OP_PRINT:
		return "OP_PRINT"
	case OP_JUMP:
		return "OP_JUMP"
	case OP_JUMP_IF_FALSE:
		return "OP_JUMP_IF_FALSE"
	case OP_LOOP:
		return "OP_LOOP"
	case OP_CALL:
		return "OP_CALL"
	case OP_INVOKE:
		return "OP_INVOKE"
	case OP_SUPER_INVOKE:
		return "OP_SUPER_INVOKE"
	case OP_CLOSURE:
		return "OP_CLOSURE"
	case OP_CLOSE_UPVALUE:
		return "OP_CLOSE_UPVALUE"
	case OP_RETURN:
		return "OP_RETURN"
	case OP_CLASS:
		return "OP_CLASS"
	case OP_INHERIT:
		return "OP_INHERIT"
	case OP_METHOD:
		return "OP_METHOD"
	default:
		return fmt.Sprintf("OP_%d", byte(op))
	}
}

// Chunk is a Function's compiled body: bytecode, a parallel line table
// (one entry per byte of Code), and an append-only constant pool.
type Chunk struct {
	Code      []byte
	Lines     []int
	Constants []value.Value
}

func New() *Chunk {
	return &Chunk{}
}

func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// AddConstant appends v to the constant pool and returns its index.
// Identical string constants are deduplicated by text equality so the
// same literal compiled twice shares one pool slot.
func (c *Chunk) AddConstant(v value.Value) int {
	if s, ok := v.Obj.(*value.ObjString); ok {
		for i, existing := range c.Constants {
			if es, ok := existing.Obj.(*value.ObjString); ok && es.Chars == s.Chars {
				return i
			}
		}
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// Disassemble prints a human-readable listing of this chunk only.
func (c *Chunk) Disassemble(name string) {
	fmt.Printf("== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = c.DisassembleInstruction(offset)
	}
}

// DisassembleAll disassembles this chunk, prints a humanized byte-size
// summary of it, then recurses into every nested function chunk
// reachable through its constant pool.
func (c *Chunk) DisassembleAll(name string) {
	c.Disassemble(name)
	fmt.Printf("   (%s bytes)\n", humanize.Comma(int64(len(c.Code))))

	for _, constant := range c.Constants {
		if fn, ok := constant.Obj.(*value.ObjFunction); ok {
			if fnChunk, ok := fn.Chunk.(*Chunk); ok {
				fmt.Println()
				fnChunk.DisassembleAll(fn.Name)
			}
		}
	}
}

func (c *Chunk) DisassembleInstruction(offset int) int {
	fmt.Printf("%04d ", offset)
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		fmt.Printf("   | ")
	} else {
		fmt.Printf("%4d ", c.Lines[offset])
	}

	instruction := OpCode(c.Code[offset])
	switch instruction {
	case OP_CONSTANT, OP_GET_GLOBAL, OP_SET_GLOBAL, OP_DEFINE_GLOBAL,
		OP_GET_PROPERTY, OP_SET_PROPERTY, OP_GET_SUPER, OP_CLASS, OP_METHOD:
		return c.constantInstruction(instruction.String(), offset)
	case OP_GET_LOCAL, OP_SET_LOCAL, OP_GET_UPVALUE, OP_SET_UPVALUE, OP_CALL:
		return c.byteInstruction(instruction.String(), offset)
	case OP_JUMP, OP_JUMP_IF_FALSE:
		return c.jumpInstruction(instruction.String(), 1, offset)
	case OP_LOOP:
		return c.jumpInstruction(instruction.String(), -1, offset)
	case OP_INVOKE, OP_SUPER_INVOKE:
		return c.invokeInstruction(instruction.String(), offset)
	case OP_CLOSURE:
		return c.closureInstruction(offset)
	case OP_NIL, OP_TRUE, OP_FALSE, OP_POP, OP_EQUAL, OP_GREATER, OP_LESS,
		OP_ADD, OP_SUBTRACT, OP_MULTIPLY, OP_DIVIDE, OP_NOT, OP_NEGATE,
		OP_PRINT, OP_CLOSE_UPVALUE, OP_RETURN, OP_INHERIT:
		return c.simpleInstruction(instruction.String(), offset)
	default:
		fmt.Printf("Unknown opcode %d\n", instruction)
		return offset + 1
	}
}

func (c *Chunk) simpleInstruction(name string, offset int) int {
	fmt.Printf("%s\n", name)
	return offset + 1
}

func (c *Chunk) byteInstruction(name string, offset int) int {
	slot := c.Code[offset+1]
	fmt.Printf("%-16s %4d\n", name, slot)
	return offset + 2
}

func (c *Chunk) jumpInstruction(name string, sign, offset int) int {
	jump := int(c.Code[offset+1])<<8 | int(c.Code[offset+2])
	fmt.Printf("%-16s %4d -> %d\n", name, offset, offset+3+sign*jump)
	return offset + 3
}

func (c *Chunk) constantInstruction(name string, offset int) int {
	constant := c.Code[offset+1]
	fmt.Printf("%-16s %4d '%s'\n", name, constant, c.Constants[constant])
	return offset + 2
}

func (c *Chunk) invokeInstruction(name string, offset int) int {
	constant := c.Code[offset+1]
	argCount := c.Code[offset+2]
	fmt.Printf("%-16s (%d args) %4d '%s'\n", name, argCount, constant, c.Constants[constant])
	return offset + 3
}

func (c *Chunk) closureInstruction(offset int) int {
	offset++
	constant := c.Code[offset]
	offset++
	fmt.Printf("%-16s %4d '%s'\n", "OP_CLOSURE", constant, c.Constants[constant])

	if fn, ok := c.Constants[constant].Obj.(*value.ObjFunction); ok {
		for i := 0; i < fn.UpvalueCount; i++ {
			isLocal := c.Code[offset]
			offset++
			index := c.Code[offset]
			offset++
			kind := "upvalue"
			if isLocal != 0 {
				kind = "local"
			}
			fmt.Printf("%04d      |                     %s %d\n", offset-2, kind, index)
		}
	}
	return offset
}
