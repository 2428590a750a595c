// Package value implements Lox's tagged value union: a compact Go
// struct holding the unboxed variants inline and a single Obj field
// carrying any heap-allocated variant.
package value

import (
	"fmt"
	"strconv"
)

type ValueType int

const (
	VAL_NIL ValueType = iota
	VAL_BOOL
	VAL_NUMBER
	VAL_OBJ
)

type Value struct {
	Type     ValueType
	AsBool   bool
	AsNumber float64
	Obj      interface{} // *ObjString, *ObjFunction, *ObjNative, *ObjClosure,
	// *ObjClass, *ObjInstance, or *ObjBoundMethod.
}

func Nil() Value {
	return Value{Type: VAL_NIL}
}

func Bool(b bool) Value {
	return Value{Type: VAL_BOOL, AsBool: b}
}

func Number(n float64) Value {
	return Value{Type: VAL_NUMBER, AsNumber: n}
}

func Obj(o interface{}) Value {
	return Value{Type: VAL_OBJ, Obj: o}
}

// IsTruthy implements Lox's truthiness: only nil and false are falsey.
func IsTruthy(v Value) bool {
	switch v.Type {
	case VAL_NIL:
		return false
	case VAL_BOOL:
		return v.AsBool
	default:
		return true
	}
}

// Equal implements Lox equality: Nil == Nil, different variants are
// never equal, numbers compare by IEEE-754 equality, strings by text.
func Equal(a, b Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case VAL_NIL:
		return true
	case VAL_BOOL:
		return a.AsBool == b.AsBool
	case VAL_NUMBER:
		return a.AsNumber == b.AsNumber
	case VAL_OBJ:
		as, aok := a.Obj.(*ObjString)
		bs, bok := b.Obj.(*ObjString)
		if aok && bok {
			return as.Chars == bs.Chars
		}
		return a.Obj == b.Obj
	default:
		return false
	}
}

func (v Value) IsString() bool {
	_, ok := v.Obj.(*ObjString)
	return v.Type == VAL_OBJ && ok
}

func (v Value) AsString() string {
	return v.Obj.(*ObjString).Chars
}

// TypeName names a value's runtime type for error messages.
func (v Value) TypeName() string {
	switch v.Type {
	case VAL_NIL:
		return "nil"
	case VAL_BOOL:
		return "bool"
	case VAL_NUMBER:
		return "number"
	case VAL_OBJ:
		switch v.Obj.(type) {
		case *ObjString:
			return "string"
		case *ObjFunction, *ObjClosure:
			return "function"
		case *ObjNative:
			return "native function"
		case *ObjClass:
			return "class"
		case *ObjInstance:
			return "instance"
		case *ObjBoundMethod:
			return "method"
		default:
			return "object"
		}
	default:
		return "unknown"
	}
}

// String renders v the way PRINT does.
func (v Value) String() string {
	switch v.Type {
	case VAL_NIL:
		return "nil"
	case VAL_BOOL:
		if v.AsBool {
			return "true"
		}
		return "false"
	case VAL_NUMBER:
		return formatNumber(v.AsNumber)
	case VAL_OBJ:
		switch o := v.Obj.(type) {
		case *ObjString:
			return o.Chars
		case *ObjFunction:
			if o.Name == "" {
				return "<script>"
			}
			return fmt.Sprintf("<fn %s>", o.Name)
		case *ObjClosure:
			return Value{Type: VAL_OBJ, Obj: o.Function}.String()
		case *ObjNative:
			return fmt.Sprintf("<native fn %s>", o.Name)
		case *ObjClass:
			return fmt.Sprintf("<class %s>", o.Name)
		case *ObjInstance:
			return fmt.Sprintf("<%s instance>", o.Class.Name)
		case *ObjBoundMethod:
			return Value{Type: VAL_OBJ, Obj: o.Method}.String()
		default:
			return fmt.Sprintf("%v", o)
		}
	default:
		return "unknown"
	}
}

// formatNumber renders integral floats without a trailing decimal point,
// integral values print without a trailing decimal point.
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
