package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ParsedRequest is the outcome of reading a /predict body. It is one of
// ValidRequest, MalformedRequest, MissingFieldRequest or UncoercibleRequest.
type ParsedRequest interface {
	parsedRequest()
}

// ValidRequest holds the raw JSON elements of "input". Their count is known
// but no element has been converted yet.
type ValidRequest struct {
	Elements []json.RawMessage
}

// MalformedRequest is a body that is not a JSON object.
type MalformedRequest struct {
	Err error
}

// MissingFieldRequest is a JSON object without an "input" key.
type MissingFieldRequest struct{}

// UncoercibleRequest has an "input" that is not an array.
type UncoercibleRequest struct {
	Err error
}

func (ValidRequest) parsedRequest()        {}
func (MalformedRequest) parsedRequest()    {}
func (MissingFieldRequest) parsedRequest() {}
func (UncoercibleRequest) parsedRequest()  {}

const inputField = "input"

// ParseRequest resolves a request body into exactly one ParsedRequest.
func ParseRequest(body []byte) ParsedRequest {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return MalformedRequest{Err: err}
	}
	if fields == nil {
		return MalformedRequest{Err: errors.New("body is JSON null")}
	}
	raw, ok := fields[inputField]
	if !ok {
		return MissingFieldRequest{}
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return UncoercibleRequest{Err: fmt.Errorf("'input' must be an array of numbers, got %s", preview(trimmed))}
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return UncoercibleRequest{Err: fmt.Errorf("'input' must be an array of numbers: %w", err)}
	}
	return ValidRequest{Elements: elements}
}

// Coerce converts every element to float64. Only JSON numbers are accepted;
// strings, booleans, null, objects and nested arrays are rejected.
func (r ValidRequest) Coerce() ([]float64, error) {
	values := make([]float64, len(r.Elements))
	for i, el := range r.Elements {
		v, err := coerceElement(el)
		if err != nil {
			return nil, fmt.Errorf("input[%d]: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

func coerceElement(el json.RawMessage) (float64, error) {
	el = bytes.TrimSpace(el)
	if len(el) == 0 || !(el[0] == '-' || (el[0] >= '0' && el[0] <= '9')) {
		return 0, fmt.Errorf("could not convert %s to float", preview(el))
	}
	v, err := strconv.ParseFloat(string(el), 64)
	if err != nil {
		return 0, fmt.Errorf("could not convert %s to float: %w", preview(el), err)
	}
	return v, nil
}

func preview(raw []byte) string {
	const limit = 32
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}
