// Package fatal turns panics at the command boundary into logged failures
// and a final JSON response.
package fatal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/DataDog/gostackparse"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/logging"
)

// Failure is a recovered panic.
type Failure struct {
	Message string
	File    string
	Line    int
	Stack   string
}

func (f *Failure) Error() string {
	return f.Message
}

// Details locates the panic, e.g. "pkg/updater/step.go at line 42".
func (f *Failure) Details() string {
	if f.File == "" {
		return "unknown location"
	}
	return fmt.Sprintf("%s at line %d", f.File, f.Line)
}

// Response is the body written when a command fails before producing
// output.
type Response struct {
	Success bool          `json:"success"`
	Error   ResponseError `json:"error"`
}

// ResponseError is the error part of Response.
type ResponseError struct {
	Message string `json:"message"`
	Details string `json:"details"`
}

// Guard runs commands and recovers their panics. Output passed through
// Writer is tracked so that a failure response never follows partial
// output.
type Guard struct {
	out io.Writer

	mu      sync.Mutex
	written bool
}

// New returns a guard writing to out.
func New(out io.Writer) *Guard {
	return &Guard{out: out}
}

// Writer returns out wrapped so the guard notices writes.
func (g *Guard) Writer() io.Writer {
	return guardedWriter{g}
}

type guardedWriter struct{ g *Guard }

func (w guardedWriter) Write(p []byte) (int, error) {
	w.g.mu.Lock()
	defer w.g.mu.Unlock()
	if len(p) > 0 {
		w.g.written = true
	}
	return w.g.out.Write(p)
}

// Written reports whether anything was written through Writer.
func (g *Guard) Written() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.written
}

// Run calls fn. A panic is logged with its location and stack, answered
// with a JSON failure response when nothing was written yet, and
// returned as a *Failure.
func (g *Guard) Run(fn func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		f := newFailure(r, debug.Stack())
		logging.Get("fatal").Error(fmt.Sprintf("%s in %s", f.Message, f.Details()), "stack", f.Stack)
		if !g.Written() {
			_ = g.Respond(f.Message, f.Details())
		}
		err = f
	}()
	return fn()
}

// Respond writes a failure response through Writer.
func (g *Guard) Respond(message, details string) error {
	body, err := json.Marshal(Response{Error: ResponseError{Message: message, Details: details}})
	if err != nil {
		return err
	}
	_, err = g.Writer().Write(append(body, '\n'))
	return err
}

func newFailure(r any, stack []byte) *Failure {
	f := &Failure{Message: fmt.Sprint(r), Stack: string(stack)}
	if e, ok := r.(error); ok {
		f.Message = e.Error()
	}
	if frame := panicFrame(stack); frame != nil {
		f.File = frame.File
		f.Line = frame.Line
	}
	return f
}

// panicFrame finds the frame that panicked: the first frame below the
// panic call outside the runtime.
func panicFrame(stack []byte) *gostackparse.Frame {
	goroutines, _ := gostackparse.Parse(bytes.NewReader(stack))
	if len(goroutines) == 0 {
		return nil
	}
	frames := goroutines[0].Stack
	start := 0
	for i, fr := range frames {
		if fr.Func == "panic" || strings.HasPrefix(fr.Func, "runtime.gopanic") {
			start = i + 1
			break
		}
	}
	for _, fr := range frames[start:] {
		if strings.HasPrefix(fr.Func, "runtime.") || strings.HasPrefix(fr.Func, "runtime/debug.") {
			continue
		}
		return fr
	}
	return nil
}
