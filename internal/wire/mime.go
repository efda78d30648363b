package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MimeBundle maps MIME types to decoded payload bytes. Text-typed values
// hold the raw text; structured values hold canonical (compact) JSON.
type MimeBundle map[string][]byte

// IsJSONType reports whether a MIME type carries structured JSON data.
func IsJSONType(mimeType string) bool {
	return mimeType == "application/json" || strings.HasSuffix(mimeType, "+json")
}

// DecodeMimeBundle converts a raw data map into a MimeBundle. JSON string
// values become their raw text bytes; everything else is kept as compact
// JSON so that structured payloads survive unchanged.
func DecodeMimeBundle(data map[string]json.RawMessage) (MimeBundle, error) {
	bundle := make(MimeBundle, len(data))
	for mimeType, raw := range data {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			bundle[mimeType] = []byte(text)
			continue
		}

		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, &MalformedFrameError{
				Reason: fmt.Sprintf("invalid value for %s", mimeType),
				Err:    err,
			}
		}
		bundle[mimeType] = buf.Bytes()
	}
	return bundle, nil
}

// EncodeMimeBundle is the inverse of DecodeMimeBundle for the shapes kernels
// emit: raw text becomes a JSON string and canonical JSON embeds as-is. The
// bundle does not record whether a JSON-typed value arrived on the wire as a
// JSON string, so text under a JSON-typed key that itself parses as JSON
// re-encodes as structured JSON rather than as the original string.
func EncodeMimeBundle(bundle MimeBundle) (map[string]json.RawMessage, error) {
	data := make(map[string]json.RawMessage, len(bundle))
	for mimeType, payload := range bundle {
		if IsJSONType(mimeType) && json.Valid(payload) {
			var buf bytes.Buffer
			if err := json.Compact(&buf, payload); err != nil {
				return nil, fmt.Errorf("failed to compact %s value: %w", mimeType, err)
			}
			data[mimeType] = buf.Bytes()
			continue
		}

		enc, err := json.Marshal(string(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s value: %w", mimeType, err)
		}
		data[mimeType] = enc
	}
	return data, nil
}

// Text returns the text/plain payload of the bundle, if present.
func (b MimeBundle) Text() (string, bool) {
	payload, ok := b["text/plain"]
	if !ok {
		return "", false
	}
	return string(payload), true
}

// Types returns the MIME types present in the bundle.
func (b MimeBundle) Types() []string {
	types := make([]string, 0, len(b))
	for mimeType := range b {
		types = append(types, mimeType)
	}
	return types
}
