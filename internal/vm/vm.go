// Package vm implements a stack-based bytecode interpreter: a value
// stack, a bounded call-frame stack, a globals table, and an
// open-upvalues list, dispatching the instruction set internal/chunk
// defines across closures, classes, bound methods, and the
// INVOKE/SUPER_INVOKE fast paths for method dispatch.
package vm

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	_ "modernc.org/sqlite"

	"loxvm/internal/chunk"
	"loxvm/internal/value"
)

const StackMax = 16384
const FramesMax = 64

// InterpretResult is a sentinel enum so the CLI can map an interpret
// run to an exit code without string-sniffing an error message.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// CallFrame is execution state for one active invocation: its closure,
// instruction pointer, and the stack index of its slot 0.
type CallFrame struct {
	Closure  *value.ObjClosure
	IP       int
	SlotBase int
}

// VM owns everything reachable during one run: the value stack, the
// call frames, the globals table, and the open-upvalues list. String
// interning (VM.strings) is scoped to one VM instance, never a
// package-level map, so two VMs never share interned strings.
type VM struct {
	frames     [FramesMax]CallFrame
	frameCount int

	stack    [StackMax]value.Value
	stackTop int

	globals map[string]value.Value
	strings map[string]*value.ObjString

	openUpvalues *value.ObjUpvalue

	dbHandles map[int]*sql.DB
	nextDbID  int

	Stdout io.Writer
}

func New() *VM {
	vm := &VM{
		globals:   make(map[string]value.Value),
		strings:   make(map[string]*value.ObjString),
		dbHandles: make(map[int]*sql.DB),
		nextDbID:  1,
		Stdout:    os.Stdout,
	}
	vm.defineNatives()
	return vm
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// Interpret runs a freshly compiled script function to completion.
func (vm *VM) Interpret(fn *value.ObjFunction) InterpretResult {
	vm.resetStack()
	closure := &value.ObjClosure{Function: fn}
	vm.push(value.Obj(closure))
	if err := vm.call(closure, 0); err != nil {
		return vm.reportRuntimeError(err)
	}
	return vm.run()
}

func (vm *VM) internString(s string) *value.ObjString {
	if existing, ok := vm.strings[s]; ok {
		return existing
	}
	obj := &value.ObjString{Chars: s}
	vm.strings[s] = obj
	return obj
}

func (vm *VM) push(v value.Value) {
	if vm.stackTop >= StackMax {
		panic("stack overflow")
	}
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	v := vm.stack[vm.stackTop]
	vm.stack[vm.stackTop] = value.Value{}
	return v
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) chunkOf(frame *CallFrame) *chunk.Chunk {
	return frame.Closure.Function.Chunk.(*chunk.Chunk)
}

func (vm *VM) readByte(frame *CallFrame) byte {
	b := vm.chunkOf(frame).Code[frame.IP]
	frame.IP++
	return b
}

func (vm *VM) readShort(frame *CallFrame) uint16 {
	ch := vm.chunkOf(frame)
	hi, lo := ch.Code[frame.IP], ch.Code[frame.IP+1]
	frame.IP += 2
	return uint16(hi)<<8 | uint16(lo)
}

func (vm *VM) readConstant(frame *CallFrame) value.Value {
	return vm.chunkOf(frame).Constants[vm.readByte(frame)]
}

func (vm *VM) readConstantString(frame *CallFrame) string {
	return vm.readConstant(frame).AsString()
}

// run is the main dispatch loop.
func (vm *VM) run() InterpretResult {
	frame := &vm.frames[vm.frameCount-1]

	for {
		switch chunk.OpCode(vm.readByte(frame)) {
		case chunk.OP_CONSTANT:
			vm.push(vm.readConstant(frame))
		case chunk.OP_NIL:
			vm.push(value.Nil())
		case chunk.OP_TRUE:
			vm.push(value.Bool(true))
		case chunk.OP_FALSE:
			vm.push(value.Bool(false))
		case chunk.OP_POP:
			vm.pop()

		case chunk.OP_GET_LOCAL:
			slot := vm.readByte(frame)
			vm.push(vm.stack[frame.SlotBase+int(slot)])
		case chunk.OP_SET_LOCAL:
			slot := vm.readByte(frame)
			vm.stack[frame.SlotBase+int(slot)] = vm.peek(0)

		case chunk.OP_GET_GLOBAL:
			name := vm.readConstantString(frame)
			v, ok := vm.globals[name]
			if !ok {
				return vm.reportRuntimeError(fmt.Errorf("Undefined variable '%s'.", name))
			}
			vm.push(v)
		case chunk.OP_SET_GLOBAL:
			name := vm.readConstantString(frame)
			if _, ok := vm.globals[name]; !ok {
				return vm.reportRuntimeError(fmt.Errorf("Undefined variable '%s'.", name))
			}
			vm.globals[name] = vm.peek(0)
		case chunk.OP_DEFINE_GLOBAL:
			name := vm.readConstantString(frame)
			vm.globals[name] = vm.pop()

		case chunk.OP_GET_UPVALUE:
			slot := vm.readByte(frame)
			vm.push(vm.getUpvalue(frame.Closure.Upvalues[slot]))
		case chunk.OP_SET_UPVALUE:
			slot := vm.readByte(frame)
			vm.setUpvalue(frame.Closure.Upvalues[slot], vm.peek(0))

		case chunk.OP_GET_PROPERTY:
			name := vm.readConstantString(frame)
			if err := vm.getProperty(name); err != nil {
				return vm.reportRuntimeError(err)
			}
		case chunk.OP_SET_PROPERTY:
			name := vm.readConstantString(frame)
			if err := vm.setProperty(name); err != nil {
				return vm.reportRuntimeError(err)
			}
		case chunk.OP_GET_SUPER:
			name := vm.readConstantString(frame)
			superclass, ok := vm.pop().Obj.(*value.ObjClass)
			if !ok {
				return vm.reportRuntimeError(fmt.Errorf("Superclass must be a class."))
			}
			if err := vm.bindMethod(superclass, name); err != nil {
				return vm.reportRuntimeError(err)
			}

		case chunk.OP_EQUAL:
			b, a := vm.pop(), vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))
		case chunk.OP_GREATER:
			if err := vm.numericCompare(func(a, b float64) bool { return a > b }); err != nil {
				return vm.reportRuntimeError(err)
			}
		case chunk.OP_LESS:
			if err := vm.numericCompare(func(a, b float64) bool { return a < b }); err != nil {
				return vm.reportRuntimeError(err)
			}

		case chunk.OP_ADD:
			if err := vm.add(); err != nil {
				return vm.reportRuntimeError(err)
			}
		case chunk.OP_SUBTRACT:
			if err := vm.numericBinary(func(a, b float64) float64 { return a - b }); err != nil {
				return vm.reportRuntimeError(err)
			}
		case chunk.OP_MULTIPLY:
			if err := vm.numericBinary(func(a, b float64) float64 { return a * b }); err != nil {
				return vm.reportRuntimeError(err)
			}
		case chunk.OP_DIVIDE:
			if err := vm.numericBinary(func(a, b float64) float64 { return a / b }); err != nil {
				return vm.reportRuntimeError(err)
			}

		case chunk.OP_NOT:
			vm.push(value.Bool(!value.IsTruthy(vm.pop())))
		case chunk.OP_NEGATE:
			if vm.peek(0).Type != value.VAL_NUMBER {
				return vm.reportRuntimeError(fmt.Errorf("Operand must be a number."))
			}
			vm.push(value.Number(-vm.pop().AsNumber))

		case chunk.OP_PRINT:
			fmt.Fprintln(vm.Stdout, vm.pop().String())

		case chunk.OP_JUMP:
			offset := vm.readShort(frame)
			frame.IP += int(offset)
		case chunk.OP_JUMP_IF_FALSE:
			offset := vm.readShort(frame)
			if !value.IsTruthy(vm.peek(0)) {
				frame.IP += int(offset)
			}
		case chunk.OP_LOOP:
			offset := vm.readShort(frame)
			frame.IP -= int(offset)

		case chunk.OP_CALL:
			argCount := int(vm.readByte(frame))
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return vm.reportRuntimeError(err)
			}
			frame = &vm.frames[vm.frameCount-1]
		case chunk.OP_INVOKE:
			name := vm.readConstantString(frame)
			argCount := int(vm.readByte(frame))
			if err := vm.invoke(name, argCount); err != nil {
				return vm.reportRuntimeError(err)
			}
			frame = &vm.frames[vm.frameCount-1]
		case chunk.OP_SUPER_INVOKE:
			name := vm.readConstantString(frame)
			argCount := int(vm.readByte(frame))
			superclass, ok := vm.pop().Obj.(*value.ObjClass)
			if !ok {
				return vm.reportRuntimeError(fmt.Errorf("Superclass must be a class."))
			}
			if err := vm.invokeFromClass(superclass, name, argCount); err != nil {
				return vm.reportRuntimeError(err)
			}
			frame = &vm.frames[vm.frameCount-1]

		case chunk.OP_CLOSURE:
			fn := vm.readConstant(frame).Obj.(*value.ObjFunction)
			closure := &value.ObjClosure{Function: fn, Upvalues: make([]*value.ObjUpvalue, fn.UpvalueCount)}
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := vm.readByte(frame)
				index := vm.readByte(frame)
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.SlotBase + int(index))
				} else {
					closure.Upvalues[i] = frame.Closure.Upvalues[index]
				}
			}
			vm.push(value.Obj(closure))
		case chunk.OP_CLOSE_UPVALUE:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case chunk.OP_RETURN:
			result := vm.pop()
			vm.closeUpvalues(frame.SlotBase)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return InterpretOK
			}
			vm.stackTop = frame.SlotBase
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case chunk.OP_CLASS:
			name := vm.readConstantString(frame)
			vm.push(value.Obj(&value.ObjClass{Name: name, Methods: make(map[string]*value.ObjClosure)}))
		case chunk.OP_INHERIT:
			superclass, ok := vm.peek(1).Obj.(*value.ObjClass)
			if !ok {
				return vm.reportRuntimeError(fmt.Errorf("Superclass must be a class."))
			}
			subclass := vm.peek(0).Obj.(*value.ObjClass)
			for name, method := range superclass.Methods {
				subclass.Methods[name] = method
			}
			vm.pop()
		case chunk.OP_METHOD:
			name := vm.readConstantString(frame)
			method := vm.pop().Obj.(*value.ObjClosure)
			class := vm.peek(0).Obj.(*value.ObjClass)
			class.Methods[name] = method
		}
	}
}

func (vm *VM) add() error {
	b, a := vm.peek(0), vm.peek(1)
	switch {
	case a.Type == value.VAL_NUMBER && b.Type == value.VAL_NUMBER:
		vm.pop()
		vm.pop()
		vm.push(value.Number(a.AsNumber + b.AsNumber))
		return nil
	case a.IsString() && b.IsString():
		vm.pop()
		vm.pop()
		vm.push(value.Obj(vm.internString(a.AsString() + b.AsString())))
		return nil
	default:
		return fmt.Errorf("Operands must be two numbers or two strings.")
	}
}

func (vm *VM) numericBinary(op func(a, b float64) float64) error {
	b, a := vm.peek(0), vm.peek(1)
	if a.Type != value.VAL_NUMBER || b.Type != value.VAL_NUMBER {
		return fmt.Errorf("Operands must be numbers.")
	}
	vm.pop()
	vm.pop()
	vm.push(value.Number(op(a.AsNumber, b.AsNumber)))
	return nil
}

func (vm *VM) numericCompare(op func(a, b float64) bool) error {
	b, a := vm.peek(0), vm.peek(1)
	if a.Type != value.VAL_NUMBER || b.Type != value.VAL_NUMBER {
		return fmt.Errorf("Operands must be numbers.")
	}
	vm.pop()
	vm.pop()
	vm.push(value.Bool(op(a.AsNumber, b.AsNumber)))
	return nil
}

// ---- calls ----------------------------------------------------------

func (vm *VM) callValue(callee value.Value, argCount int) error {
	if callee.Type == value.VAL_OBJ {
		switch obj := callee.Obj.(type) {
		case *value.ObjClosure:
			return vm.call(obj, argCount)
		case *value.ObjNative:
			return vm.callNative(obj, argCount)
		case *value.ObjClass:
			return vm.instantiate(obj, argCount)
		case *value.ObjBoundMethod:
			vm.stack[vm.stackTop-argCount-1] = obj.Receiver
			return vm.call(obj.Method, argCount)
		}
	}
	return fmt.Errorf("Can only call functions and classes.")
}

func (vm *VM) call(closure *value.ObjClosure, argCount int) error {
	fn := closure.Function
	if argCount != fn.Arity {
		return fmt.Errorf("Expected %d arguments but got %d.", fn.Arity, argCount)
	}
	if vm.frameCount == FramesMax {
		return fmt.Errorf("Stack overflow.")
	}
	vm.frames[vm.frameCount] = CallFrame{
		Closure:  closure,
		IP:       0,
		SlotBase: vm.stackTop - argCount - 1,
	}
	vm.frameCount++
	return nil
}

func (vm *VM) callNative(native *value.ObjNative, argCount int) error {
	if native.Arity >= 0 && argCount != native.Arity {
		return fmt.Errorf("Expected %d arguments but got %d.", native.Arity, argCount)
	}
	args := vm.stack[vm.stackTop-argCount : vm.stackTop]
	result, err := native.Fn(args)
	if err != nil {
		return err
	}
	vm.stackTop -= argCount + 1
	vm.push(result)
	return nil
}

func (vm *VM) instantiate(class *value.ObjClass, argCount int) error {
	instance := &value.ObjInstance{Class: class, Fields: make(map[string]value.Value)}
	vm.stack[vm.stackTop-argCount-1] = value.Obj(instance)
	if initializer, ok := class.Methods["init"]; ok {
		return vm.call(initializer, argCount)
	}
	if argCount != 0 {
		return fmt.Errorf("Expected 0 arguments but got %d.", argCount)
	}
	return nil
}

func (vm *VM) invoke(name string, argCount int) error {
	receiver := vm.peek(argCount)
	instance, ok := receiver.Obj.(*value.ObjInstance)
	if !ok {
		return fmt.Errorf("Only instances have methods.")
	}
	if field, ok := instance.Fields[name]; ok {
		vm.stack[vm.stackTop-argCount-1] = field
		return vm.callValue(field, argCount)
	}
	return vm.invokeFromClass(instance.Class, name, argCount)
}

func (vm *VM) invokeFromClass(class *value.ObjClass, name string, argCount int) error {
	method, ok := class.Methods[name]
	if !ok {
		return fmt.Errorf("Undefined property '%s'.", name)
	}
	return vm.call(method, argCount)
}

// ---- properties -------------------------------------------------------

func (vm *VM) getProperty(name string) error {
	instance, ok := vm.peek(0).Obj.(*value.ObjInstance)
	if !ok {
		return fmt.Errorf("Only instances have properties.")
	}
	if v, ok := instance.Fields[name]; ok {
		vm.pop()
		vm.push(v)
		return nil
	}
	return vm.bindMethod(instance.Class, name)
}

func (vm *VM) setProperty(name string) error {
	instance, ok := vm.peek(1).Obj.(*value.ObjInstance)
	if !ok {
		return fmt.Errorf("Only instances have fields.")
	}
	v := vm.pop()
	instance.Fields[name] = v
	vm.pop()
	vm.push(v)
	return nil
}

func (vm *VM) bindMethod(class *value.ObjClass, name string) error {
	method, ok := class.Methods[name]
	if !ok {
		return fmt.Errorf("Undefined property '%s'.", name)
	}
	receiver := vm.pop()
	vm.push(value.Obj(&value.ObjBoundMethod{Receiver: receiver, Method: method}))
	return nil
}

// ---- upvalues -----------------------------------------------------------

// captureUpvalue finds or creates an open upvalue for the stack slot at
// index, keeping vm.openUpvalues sorted by descending index.
func (vm *VM) captureUpvalue(index int) *value.ObjUpvalue {
	var prev *value.ObjUpvalue
	curr := vm.openUpvalues
	for curr != nil && curr.StackIndex > index {
		prev = curr
		curr = curr.Next
	}
	if curr != nil && curr.StackIndex == index {
		return curr
	}
	created := &value.ObjUpvalue{StackIndex: index, Next: curr}
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue whose stack index is >= boundary.
func (vm *VM) closeUpvalues(boundary int) {
	for vm.openUpvalues != nil && vm.openUpvalues.StackIndex >= boundary {
		uv := vm.openUpvalues
		uv.Closed = vm.stack[uv.StackIndex]
		uv.IsClosed = true
		vm.openUpvalues = uv.Next
		uv.Next = nil
	}
}

func (vm *VM) getUpvalue(uv *value.ObjUpvalue) value.Value {
	if uv.IsClosed {
		return uv.Closed
	}
	return vm.stack[uv.StackIndex]
}

func (vm *VM) setUpvalue(uv *value.ObjUpvalue, v value.Value) {
	if uv.IsClosed {
		uv.Closed = v
	} else {
		vm.stack[uv.StackIndex] = v
	}
}
