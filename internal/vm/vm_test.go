package vm

import (
	"bytes"
	"strings"
	"testing"

	"loxvm/internal/compiler"
)

// run compiles and interprets source against a fresh VM, returning
// everything PRINT wrote and the InterpretResult.
func run(t *testing.T, source string) (string, InterpretResult) {
	t.Helper()
	fn, errs := compiler.Compile(source)
	if len(errs) != 0 {
		t.Fatalf("unexpected compile errors: %v", errs)
	}
	var out bytes.Buffer
	machine := New()
	machine.Stdout = &out
	result := machine.Interpret(fn)
	return out.String(), result
}

func TestArithmeticPrecedence(t *testing.T) {
	out, result := run(t, `print 1 + 2 * 3;`)
	if result != InterpretOK {
		t.Fatalf("expected InterpretOK, got %v", result)
	}
	if strings.TrimSpace(out) != "7" {
		t.Fatalf("got %q, want 7", out)
	}
}

func TestStringConcatenation(t *testing.T) {
	out, _ := run(t, `print "foo" + "bar";`)
	if strings.TrimSpace(out) != "foobar" {
		t.Fatalf("got %q, want foobar", out)
	}
}

func TestBlockScoping(t *testing.T) {
	src := `
	var a = "outer";
	{
		var a = "inner";
		print a;
	}
	print a;`
	out, _ := run(t, src)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || lines[0] != "inner" || lines[1] != "outer" {
		t.Fatalf("got %v, want [inner outer]", lines)
	}
}

func TestRecursion(t *testing.T) {
	src := `
	fun fib(n) {
		if (n < 2) return n;
		return fib(n - 1) + fib(n - 2);
	}
	print fib(10);`
	out, _ := run(t, src)
	if strings.TrimSpace(out) != "55" {
		t.Fatalf("got %q, want 55", out)
	}
}

func TestClosuresCaptureByReference(t *testing.T) {
	src := `
	fun makeCounter() {
		var count = 0;
		fun increment() {
			count = count + 1;
			return count;
		}
		return increment;
	}
	var counter = makeCounter();
	print counter();
	print counter();
	print counter();`
	out, _ := run(t, src)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if strings.Join(lines, ",") != "1,2,3" {
		t.Fatalf("got %v, want [1 2 3]", lines)
	}
}

func TestInheritanceAndSuper(t *testing.T) {
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
	}
	Cake().cook();`
	out, _ := run(t, src)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || lines[0] != "cooking" || lines[1] != "frosting" {
		t.Fatalf("got %v", lines)
	}
}

func TestFieldShadowsMethod(t *testing.T) {
	src := `
	class Box {
		value() {
			return "method";
		}
	}
	var b = Box();
	b.value = "field";
	print b.value;`
	out, _ := run(t, src)
	if strings.TrimSpace(out) != "field" {
		t.Fatalf("got %q, want field", out)
	}
}

func TestRuntimeTypeErrorExitsSeventy(t *testing.T) {
	_, result := run(t, `print "a" + 1;`)
	if result != InterpretRuntimeError {
		t.Fatalf("expected InterpretRuntimeError, got %v", result)
	}
}

func TestDivisionByZeroProducesInfinity(t *testing.T) {
	out, result := run(t, `print 1 / 0;`)
	if result != InterpretOK {
		t.Fatalf("expected InterpretOK, got %v", result)
	}
	if strings.TrimSpace(out) != "+Inf" {
		t.Fatalf("got %q, want +Inf", out)
	}
}

func TestUndefinedGlobalIsRuntimeError(t *testing.T) {
	_, result := run(t, `print undefinedThing;`)
	if result != InterpretRuntimeError {
		t.Fatalf("expected InterpretRuntimeError, got %v", result)
	}
}

func TestStackOverflowOnUnboundedRecursion(t *testing.T) {
	src := `
	fun recurse() {
		recurse();
	}
	recurse();`
	_, result := run(t, src)
	if result != InterpretRuntimeError {
		t.Fatalf("expected InterpretRuntimeError, got %v", result)
	}
}
