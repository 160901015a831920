// Package decode turns raw upstream payloads into JSON values. Most topics
// carry plain JSON; CarData.z and Position.z carry base64-encoded raw-deflate
// compressed JSON.
package decode

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Error reports a payload that could not be decoded. The caller drops the
// affected line; a decode failure never aborts the pipeline.
type Error struct {
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("decode: %v", e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode parses s as JSON (after trimming surrounding quotes); failing that,
// it base64-decodes and inflates the payload (raw deflate, no zlib wrapper)
// and parses the result, tolerating a UTF-8 BOM.
func Decode(s string) (any, error) {
	// Compressed payloads arrive wrapped in quotes too, as a JSON string.
	s = strings.Trim(strings.TrimSpace(s), `"`)

	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, nil
	}

	compressed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &Error{Cause: fmt.Errorf("base64: %w", err)}
	}
	inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		return nil, &Error{Cause: fmt.Errorf("inflate: %w", err)}
	}
	inflated = bytes.TrimPrefix(inflated, utf8BOM)
	if err := json.Unmarshal(inflated, &v); err != nil {
		return nil, &Error{Cause: fmt.Errorf("inflated json: %w", err)}
	}
	return v, nil
}
