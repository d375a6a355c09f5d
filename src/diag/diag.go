// Package diag renders the call chain leading into the VM subsystem's one
// unrecoverable fatal path (swap exhaustion), so the panic message tells
// an operator how the allocation that could not be satisfied was reached.
package diag

import (
	"fmt"
	"runtime"
	"strings"
)

// Trace returns the call chain beginning skip frames above Trace's own
// caller, innermost first, one "func (file:line)" per line. The result is
// meant to be appended to a panic message.
func Trace(skip int) string {
	var b strings.Builder
	for i := skip + 1; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		name := "?"
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fn.Name()
		}
		fmt.Fprintf(&b, "  %s (%s:%d)\n", name, file, line)
	}
	return b.String()
}
