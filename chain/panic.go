package chain

import (
	"context"
	"fmt"
	"runtime"
	"strings"
)

// Recover wraps h so that a panic inside it (or inside any middleware it was
// composed with) is returned as a PanicError instead of unwinding through the
// caller.
func Recover[Req, Resp any](h Handler[Req, Resp]) Handler[Req, Resp] {
	return func(ctx context.Context, req Req) (resp Resp, err error) {
		defer func() {
			if x := recover(); x != nil {
				var stack [8192]byte
				n := runtime.Stack(stack[:], false)
				var zero Resp
				resp, err = zero, PanicError{Val: x, RawStack: string(stack[:n])}
			}
		}()
		return h(ctx, req)
	}
}

// PanicError is the error that is returned if a handler panics. It includes
// the panic'd value (Val) and the raw Go stack trace (RawStack).
type PanicError struct {
	Val      any
	RawStack string
}

// FilteredStack returns the stack trace without the internal chain.* frames
// and the runtime's panic machinery, since these are generally just noise.
func (p PanicError) FilteredStack() []string {
	lines := strings.Split(p.RawStack, "\n")
	var filtered []string
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "github.com/augustoroman/relay/chain.") ||
			strings.HasPrefix(line, "panic(") ||
			strings.HasPrefix(line, "runtime/debug.") {
			i++ // skip the file:line entry as well
			continue
		}
		filtered = append(filtered, line)
	}
	return filtered
}

// Unwrap exposes the panic value when it was itself an error.
func (p PanicError) Unwrap() error {
	err, _ := p.Val.(error)
	return err
}

func (p PanicError) Error() string {
	return fmt.Sprintf(
		"Panic executing handler: %v\n"+
			"  Filtered call stack:\n    %s",
		p.Val, strings.Join(p.FilteredStack(), "\n    "))
}
