package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// KernelInfo describes one kernel running on the gateway.
type KernelInfo struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	LastActivity   time.Time `json:"last_activity"`
	ExecutionState string    `json:"execution_state"`
	Connections    int       `json:"connections"`
}

// TerminalInfo describes one terminal running on the gateway.
type TerminalInfo struct {
	Name string `json:"name"`
}

// Content is one node of the gateway's contents tree. The Content field
// carries the type-dependent payload: the text of a file, or the child
// entries of a directory.
type Content struct {
	Name         string          `json:"name"`
	Path         string          `json:"path"`
	Type         string          `json:"type"`
	Format       string          `json:"format,omitempty"`
	Mimetype     string          `json:"mimetype,omitempty"`
	Created      time.Time       `json:"created"`
	LastModified time.Time       `json:"last_modified"`
	Size         int64           `json:"size,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
}

// Text returns the payload of a text-format file node.
func (c *Content) Text() (string, error) {
	if c.Type == "directory" {
		return "", fmt.Errorf("%s is a directory", c.Path)
	}
	if c.Format != "text" {
		return "", fmt.Errorf("%s has format %q, not text", c.Path, c.Format)
	}

	var text string
	if err := json.Unmarshal(c.Content, &text); err != nil {
		return "", fmt.Errorf("failed to parse file content: %w", err)
	}
	return text, nil
}

// Entries returns the children of a directory node.
func (c *Content) Entries() ([]Content, error) {
	if c.Type != "directory" {
		return nil, fmt.Errorf("%s is not a directory", c.Path)
	}

	var entries []Content
	if err := json.Unmarshal(c.Content, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse directory listing: %w", err)
	}
	return entries, nil
}

// APIError is a non-2xx response from the gateway REST API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}
