package debug

/**
Kernel assertions. A failed assertion is never recovered inside the kernel:
the goroutine boundary (thread trampoline or boot) catches the panic,
dumps what it knows and powers the machine off.
*/

import (
	"errors"
	"fmt"
	"runtime"
)

// Panic is the value every kernel assertion panics with.
type Panic struct {
	Msg    string
	Caller string
}

func (p *Panic) Error() string {
	if p.Caller == "" {
		return "Kernel PANIC: " + p.Msg
	}
	return fmt.Sprintf("Kernel PANIC at %s: %s", p.Caller, p.Msg)
}

// Panicf stops the kernel with a formatted message.
func Panicf(format string, args ...any) {
	panic(newPanic(2, fmt.Sprintf(format, args...)))
}

// Assert panics with msg if cond does not hold.
func Assert(cond bool, msg string) {
	if !cond {
		panic(newPanic(2, "assertion `"+msg+"' failed"))
	}
}

// NotReached marks code that must never execute.
func NotReached() {
	panic(newPanic(2, "executed an unreachable statement"))
}

// AsError converts a recovered value into an error, keeping *Panic intact.
func AsError(r any) error {
	switch t := r.(type) {
	case nil:
		return nil
	case *Panic:
		return t
	case error:
		return &Panic{Msg: t.Error()}
	default:
		return &Panic{Msg: fmt.Sprint(t)}
	}
}

// IsPanic reports whether err carries a kernel panic.
func IsPanic(err error) bool {
	var p *Panic
	return errors.As(err, &p)
}

func newPanic(skip int, msg string) *Panic {
	p := &Panic{Msg: msg}
	if pc, file, line, ok := runtime.Caller(skip); ok {
		name := "?"
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fn.Name()
		}
		p.Caller = fmt.Sprintf("%s:%d in %s()", shortFile(file), line, name)
	}
	return p
}

func shortFile(path string) string {
	slashes := 0
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			slashes++
			if slashes == 2 {
				return path[i+1:]
			}
		}
	}
	return path
}
