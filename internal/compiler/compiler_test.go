package compiler

import (
	"strings"
	"testing"

	"loxvm/internal/chunk"
)

func TestCompileArithmeticExpression(t *testing.T) {
	fn, errs := Compile("print 1 + 2 * 3;")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	ch := fn.Chunk.(*chunk.Chunk)
	if len(ch.Code) == 0 {
		t.Fatal("expected bytecode to be emitted")
	}
	if ch.Code[len(ch.Code)-1] != byte(chunk.OP_RETURN) {
		t.Fatalf("expected an implicit OP_RETURN at the end of the script")
	}
}

func TestCompileReportsSyntaxError(t *testing.T) {
	_, errs := Compile("var x = ;")
	if len(errs) == 0 {
		t.Fatal("expected a compile error")
	}
	if !strings.Contains(errs[0], "Expect expression") {
		t.Fatalf("unexpected error message: %q", errs[0])
	}
}

func TestCompileReturnOutsideFunctionIsError(t *testing.T) {
	_, errs := Compile("return 1;")
	if len(errs) == 0 || !strings.Contains(errs[0], "Can't return from top-level code") {
		t.Fatalf("expected top-level return error, got %v", errs)
	}
}

func TestCompileReturnValueFromInitializerIsError(t *testing.T) {
	src := `
	class Foo {
		init() {
			return 1;
		}
	}`
	_, errs := Compile(src)
	if len(errs) == 0 || !strings.Contains(errs[0], "Can't return a value from an initializer") {
		t.Fatalf("expected initializer return error, got %v", errs)
	}
}

func TestCompileSelfInheritanceIsError(t *testing.T) {
	_, errs := Compile("class Oops < Oops {}")
	if len(errs) == 0 || !strings.Contains(errs[0], "can't inherit from itself") {
		t.Fatalf("expected self-inheritance error, got %v", errs)
	}
}

func TestCompileSuperOutsideClassIsError(t *testing.T) {
	_, errs := Compile("fun f() { super.g(); }")
	if len(errs) == 0 || !strings.Contains(errs[0], "'super' outside of a class") {
		t.Fatalf("expected super-outside-class error, got %v", errs)
	}
}

func TestCompileThisOutsideClassIsError(t *testing.T) {
	_, errs := Compile("print this;")
	if len(errs) == 0 || !strings.Contains(errs[0], "'this' outside of a class") {
		t.Fatalf("expected this-outside-class error, got %v", errs)
	}
}

func TestCompileUninitializedSelfReferenceIsError(t *testing.T) {
	_, errs := Compile("{ var a = a; }")
	if len(errs) == 0 || !strings.Contains(errs[0], "own initializer") {
		t.Fatalf("expected self-reference error, got %v", errs)
	}
}

func TestCompileDuplicateLocalIsError(t *testing.T) {
	_, errs := Compile("{ var a = 1; var a = 2; }")
	if len(errs) == 0 || !strings.Contains(errs[0], "Already a variable") {
		t.Fatalf("expected duplicate local error, got %v", errs)
	}
}

func TestCompileNestedFunctionsAndClosures(t *testing.T) {
	src := `
	fun outer() {
		var x = 1;
		fun inner() {
			return x;
		}
		return inner;
	}`
	fn, errs := Compile(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if fn == nil {
		t.Fatal("expected a compiled function")
	}
}

func TestCompileClassWithInheritanceAndSuper(t *testing.T) {
	src := `
	class Pastry {
		cook() {
			print "cooking";
		}
	}
	class Cake < Pastry {
		cook() {
			super.cook();
			print "frosting";
		}
	}`
	_, errs := Compile(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestCompileForLoopDesugars(t *testing.T) {
	src := `
	var total = 0;
	for (var i = 0; i < 5; i = i + 1) {
		total = total + i;
	}`
	fn, errs := Compile(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	ch := fn.Chunk.(*chunk.Chunk)
	foundLoop := false
	for _, b := range ch.Code {
		if chunk.OpCode(b) == chunk.OP_LOOP {
			foundLoop = true
		}
	}
	if !foundLoop {
		t.Fatal("expected desugared for-loop to emit OP_LOOP")
	}
}

func TestCompileSynchronizesAfterError(t *testing.T) {
	// A malformed statement followed by a clean one: synchronize() should
	// recover at the semicolon and still compile the second statement,
	// so exactly one error is reported rather than a cascade.
	_, errs := Compile("var = 1; var ok = 2;")
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error after recovery, got %v", errs)
	}
}
