package vm

import (
	"fmt"
	"os"
)

// reportRuntimeError prints err's message followed by a call-stack trace
// from the innermost frame out, then unwinds the VM, so a recursive or
// deeply nested failure reports its full call chain rather than only
// the faulting line.
func (vm *VM) reportRuntimeError(err error) InterpretResult {
	fmt.Fprintln(os.Stderr, err.Error())

	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.Closure.Function
		line := vm.chunkOf(frame).Lines[frame.IP-1]

		name := "script"
		if fn.Name != "" {
			name = fn.Name + "()"
		}
		fmt.Fprintf(os.Stderr, "[line %d] in %s\n", line, name)
	}

	vm.resetStack()
	return InterpretRuntimeError
}
