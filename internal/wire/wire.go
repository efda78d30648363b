// Package wire implements the JSON message envelope exchanged with a kernel
// over its channel WebSocket: encoding execute requests, decoding incoming
// frames, and classifying message kinds.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the message type carried by an envelope.
type Kind string

const (
	// Client -> kernel message kinds
	KindExecuteRequest Kind = "execute_request"

	// Kernel -> client message kinds
	KindStream            Kind = "stream"
	KindExecuteResult     Kind = "execute_result"
	KindDisplayData       Kind = "display_data"
	KindUpdateDisplayData Kind = "update_display_data"
	KindError             Kind = "error"
	KindClearOutput       Kind = "clear_output"
	KindStatus            Kind = "status"
	KindExecuteReply      Kind = "execute_reply"

	// KindOther covers message kinds this client does not handle.
	KindOther Kind = ""
)

// Channel names used by the kernel messaging protocol.
const (
	ChannelShell = "shell"
	ChannelIOPub = "iopub"
)

// ProtocolVersion is the kernel messaging protocol version sent in headers.
const ProtocolVersion = "5.3"

// Header is the identifying part of a message envelope.
type Header struct {
	MsgID    string `json:"msg_id,omitempty"`
	MsgType  string `json:"msg_type,omitempty"`
	Session  string `json:"session,omitempty"`
	Username string `json:"username,omitempty"`
	Version  string `json:"version,omitempty"`
	Date     string `json:"date,omitempty"`
}

// Envelope is a single kernel protocol message as carried on the wire.
type Envelope struct {
	Header       Header          `json:"header"`
	ParentHeader Header          `json:"parent_header"`
	Channel      string          `json:"channel,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
}

// Kind classifies the envelope by its header message type. Types this
// client does not handle classify as KindOther.
func (e *Envelope) Kind() Kind {
	switch k := Kind(e.Header.MsgType); k {
	case KindStream, KindExecuteResult, KindDisplayData, KindUpdateDisplayData,
		KindError, KindClearOutput, KindStatus, KindExecuteReply, KindExecuteRequest:
		return k
	default:
		return KindOther
	}
}

// ParentID returns the correlation id of the request this envelope answers,
// or the empty string when no parent header is present.
func (e *Envelope) ParentID() string {
	return e.ParentHeader.MsgID
}

// ExecutionRequest describes one code execution to encode for the kernel.
type ExecutionRequest struct {
	CorrelationID string
	SessionID     string
	Code          string
}

// ExecuteRequestContent is the content body of an execute_request message.
type ExecuteRequestContent struct {
	Code            string                     `json:"code"`
	Silent          bool                       `json:"silent"`
	StoreHistory    bool                       `json:"store_history"`
	UserExpressions map[string]json.RawMessage `json:"user_expressions"`
	AllowStdin      bool                       `json:"allow_stdin"`
	StopOnError     bool                       `json:"stop_on_error"`
}

// EncodeExecuteRequest builds the wire frame for an execute request. The
// correlation id becomes the header message id; responses reference it in
// their parent header.
func EncodeExecuteRequest(req ExecutionRequest) ([]byte, error) {
	content, err := json.Marshal(ExecuteRequestContent{
		Code:            req.Code,
		StoreHistory:    true,
		UserExpressions: map[string]json.RawMessage{},
		StopOnError:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request content: %w", err)
	}

	env := Envelope{
		Header: Header{
			MsgID:   req.CorrelationID,
			MsgType: string(KindExecuteRequest),
			Session: req.SessionID,
			Version: ProtocolVersion,
			Date:    time.Now().UTC().Format(time.RFC3339),
		},
		Channel:  ChannelShell,
		Metadata: json.RawMessage(`{}`),
		Content:  content,
	}

	data, err := json.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request: %w", err)
	}
	return data, nil
}

// MalformedFrameError reports a frame that could not be decoded. The caller
// is expected to log and drop the frame; the connection stays usable.
type MalformedFrameError struct {
	Reason string
	Err    error
}

func (e *MalformedFrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

func (e *MalformedFrameError) Unwrap() error {
	return e.Err
}

// DecodeFrame parses a raw WebSocket frame into an Envelope. Frames that are
// not valid JSON or carry no message type fail with *MalformedFrameError.
func DecodeFrame(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedFrameError{Reason: "invalid JSON", Err: err}
	}
	if env.Header.MsgType == "" {
		return nil, &MalformedFrameError{Reason: "missing header message type"}
	}
	return &env, nil
}

// StreamContent is the content body of a stream message.
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// ErrorContent is the content body of an error message.
type ErrorContent struct {
	Name      string   `json:"ename"`
	Value     string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// ResultContent is the content body of execute_result and display_data
// messages. Data maps MIME types to their raw JSON values.
type ResultContent struct {
	Data           map[string]json.RawMessage `json:"data"`
	Metadata       json.RawMessage            `json:"metadata,omitempty"`
	ExecutionCount int                        `json:"execution_count,omitempty"`
}

// StatusContent is the content body of a status message.
type StatusContent struct {
	ExecutionState string `json:"execution_state"`
}

// ReplyContent is the subset of an execute_reply content body this client
// inspects.
type ReplyContent struct {
	Name      string   `json:"ename,omitempty"`
	Value     string   `json:"evalue,omitempty"`
	Status    string   `json:"status"`
	Traceback []string `json:"traceback,omitempty"`
}

// ClearOutputContent is the content body of a clear_output message.
type ClearOutputContent struct {
	Wait bool `json:"wait"`
}

// Execution states reported by status messages.
const (
	StateBusy = "busy"
	StateIdle = "idle"
)

// Reply statuses reported by execute_reply messages.
const (
	ReplyOK    = "ok"
	ReplyError = "error"
	ReplyAbort = "abort"
)

// ParseStream decodes the envelope content as a stream body.
func (e *Envelope) ParseStream() (*StreamContent, error) {
	var c StreamContent
	if err := json.Unmarshal(e.Content, &c); err != nil {
		return nil, &MalformedFrameError{Reason: "invalid stream content", Err: err}
	}
	return &c, nil
}

// ParseError decodes the envelope content as an error body.
func (e *Envelope) ParseError() (*ErrorContent, error) {
	var c ErrorContent
	if err := json.Unmarshal(e.Content, &c); err != nil {
		return nil, &MalformedFrameError{Reason: "invalid error content", Err: err}
	}
	return &c, nil
}

// ParseResult decodes the envelope content as an execute_result or
// display_data body.
func (e *Envelope) ParseResult() (*ResultContent, error) {
	var c ResultContent
	if err := json.Unmarshal(e.Content, &c); err != nil {
		return nil, &MalformedFrameError{Reason: "invalid result content", Err: err}
	}
	return &c, nil
}

// ParseStatus decodes the envelope content as a status body.
func (e *Envelope) ParseStatus() (*StatusContent, error) {
	var c StatusContent
	if err := json.Unmarshal(e.Content, &c); err != nil {
		return nil, &MalformedFrameError{Reason: "invalid status content", Err: err}
	}
	return &c, nil
}

// ParseReply decodes the envelope content as an execute_reply body.
func (e *Envelope) ParseReply() (*ReplyContent, error) {
	var c ReplyContent
	if err := json.Unmarshal(e.Content, &c); err != nil {
		return nil, &MalformedFrameError{Reason: "invalid reply content", Err: err}
	}
	return &c, nil
}

// ParseClearOutput decodes the envelope content as a clear_output body.
func (e *Envelope) ParseClearOutput() (*ClearOutputContent, error) {
	var c ClearOutputContent
	if len(e.Content) == 0 {
		return &ClearOutputContent{}, nil
	}
	if err := json.Unmarshal(e.Content, &c); err != nil {
		return nil, &MalformedFrameError{Reason: "invalid clear_output content", Err: err}
	}
	return &c, nil
}
