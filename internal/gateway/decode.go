package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEnvelope is returned when a body's shape is not one of the accepted
// envelope forms.
var ErrEnvelope = errors.New("unrecognized response envelope")

// DecodeEnvelope decodes a backend reply into out. Three shapes are
// accepted:
//
//	{...payload...}
//	{"body": {...payload...}}
//	{"body": "<payload encoded as a JSON string>"}
//
// A string body must itself be valid JSON. Anything else fails closed.
func DecodeEnvelope(data []byte, out any) error {
	payload, err := unwrapEnvelope(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}

// Unwrap returns the inner payload bytes without decoding them.
func Unwrap(data []byte) ([]byte, error) {
	return unwrapEnvelope(data)
}

func unwrapEnvelope(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrEnvelope)
	}

	// Bare string: a payload encoded a second time.
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEnvelope, err)
		}
		return validJSON([]byte(inner))
	}

	if data[0] != '{' {
		if data[0] == '[' && json.Valid(data) {
			return data, nil
		}
		return nil, fmt.Errorf("%w: not a JSON object", ErrEnvelope)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvelope, err)
	}

	body, ok := fields["body"]
	if !ok {
		return data, nil
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body field", ErrEnvelope)
	}

	switch body[0] {
	case '"':
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEnvelope, err)
		}
		return validJSON([]byte(inner))
	case '{', '[':
		return body, nil
	default:
		if len(fields) == 1 {
			return nil, fmt.Errorf("%w: body field is not an object", ErrEnvelope)
		}
		// A scalar "body" next to other keys is part of the payload itself.
		return data, nil
	}
}

func validJSON(b []byte) ([]byte, error) {
	b = bytes.TrimSpace(b)
	if !json.Valid(b) {
		return nil, fmt.Errorf("%w: body string is not valid JSON", ErrEnvelope)
	}
	return b, nil
}
