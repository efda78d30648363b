package kernel

import (
	"strings"

	"github.com/remote-notebook/kernelclient/internal/wire"
)

// RouteEnvelope translates a decoded envelope into the output event it
// carries. Kinds that produce no displayable output (status, execute_reply,
// anything unknown) return a nil event. Content that fails to parse for a
// known kind returns a *wire.MalformedFrameError; the caller logs and drops
// the frame.
func RouteEnvelope(env *wire.Envelope) (OutputEvent, error) {
	switch env.Kind() {
	case wire.KindClearOutput:
		content, err := env.ParseClearOutput()
		if err != nil {
			return nil, err
		}
		return ClearOutput{Wait: content.Wait}, nil

	case wire.KindStream:
		content, err := env.ParseStream()
		if err != nil {
			return nil, err
		}
		return Stream{Name: content.Name, Text: content.Text}, nil

	case wire.KindExecuteResult, wire.KindDisplayData, wire.KindUpdateDisplayData:
		content, err := env.ParseResult()
		if err != nil {
			return nil, err
		}
		bundle, err := wire.DecodeMimeBundle(content.Data)
		if err != nil {
			return nil, err
		}
		return RichResult{Bundle: bundle, ExecutionCount: content.ExecutionCount}, nil

	case wire.KindError:
		content, err := env.ParseError()
		if err != nil {
			return nil, err
		}
		return ErrorOutput{
			Name:      content.Name,
			Message:   content.Value,
			Traceback: strings.Join(content.Traceback, "\n"),
		}, nil

	default:
		return nil, nil
	}
}
