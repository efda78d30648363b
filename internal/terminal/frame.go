// Package terminal implements the WebSocket client for remote terminals.
// The protocol is line-oriented: every frame is a JSON array whose first
// element names the operation.
package terminal

import (
	"encoding/json"
	"fmt"
)

// Terminal frame operations.
const (
	// Client -> server
	OpStdin   = "stdin"
	OpSetSize = "set_size"

	// Server -> client
	OpStdout     = "stdout"
	OpDisconnect = "disconnect"
)

// Frame is one terminal protocol message.
// Wire format: ["stdin", data], ["set_size", rows, cols], ["stdout", data],
// ["disconnect"].
type Frame struct {
	Op   string
	Data string
	Rows int
	Cols int
}

// MarshalJSON encodes the frame as its positional JSON array form.
func (f Frame) MarshalJSON() ([]byte, error) {
	switch f.Op {
	case OpSetSize:
		return json.Marshal([]interface{}{f.Op, f.Rows, f.Cols})
	case OpStdin, OpStdout:
		return json.Marshal([]interface{}{f.Op, f.Data})
	default:
		return json.Marshal([]interface{}{f.Op})
	}
}

// UnmarshalJSON decodes the positional JSON array form. Frames with an
// unknown operation decode successfully and carry only the operation name;
// the caller decides whether to drop them.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("invalid frame: %w", err)
	}
	if len(arr) == 0 {
		return fmt.Errorf("invalid frame: empty array")
	}
	if err := json.Unmarshal(arr[0], &f.Op); err != nil {
		return fmt.Errorf("invalid frame operation: %w", err)
	}

	switch f.Op {
	case OpStdin, OpStdout:
		if len(arr) < 2 {
			return fmt.Errorf("invalid %s frame: expected 2 elements, got %d", f.Op, len(arr))
		}
		if err := json.Unmarshal(arr[1], &f.Data); err != nil {
			return fmt.Errorf("invalid %s frame data: %w", f.Op, err)
		}
	case OpSetSize:
		if len(arr) < 3 {
			return fmt.Errorf("invalid set_size frame: expected 3 elements, got %d", len(arr))
		}
		if err := json.Unmarshal(arr[1], &f.Rows); err != nil {
			return fmt.Errorf("invalid set_size rows: %w", err)
		}
		if err := json.Unmarshal(arr[2], &f.Cols); err != nil {
			return fmt.Errorf("invalid set_size cols: %w", err)
		}
	}
	return nil
}
