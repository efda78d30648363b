package kernel

import (
	"github.com/remote-notebook/kernelclient/internal/wire"
)

// OutputEvent is one displayable output produced by an execution. The
// concrete types are Stream, RichResult, ErrorOutput and ClearOutput.
type OutputEvent interface {
	outputEvent()
}

// Stream names used by kernels.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Stream is a chunk of stdout or stderr text.
type Stream struct {
	Name string
	Text string
}

// RichResult carries the MIME bundle of an execute_result or display_data
// message. Values are surfaced, not rendered.
type RichResult struct {
	Bundle         wire.MimeBundle
	ExecutionCount int
}

// ErrorOutput reports a kernel-side exception. Traceback lines arrive joined
// with newlines, ready for display.
type ErrorOutput struct {
	Name      string
	Message   string
	Traceback string
}

// ClearOutput asks the consumer to clear previously rendered output. Wait
// defers the clear until the next output arrives.
type ClearOutput struct {
	Wait bool
}

func (Stream) outputEvent()      {}
func (RichResult) outputEvent()  {}
func (ErrorOutput) outputEvent() {}
func (ClearOutput) outputEvent() {}

// Sink receives the output events of one execution. Sinks run on the
// connection's read goroutine, so events arrive in frame order; a slow sink
// stalls the whole connection. A nil Sink drops events.
type Sink func(event OutputEvent)
