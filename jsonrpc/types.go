package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

const Version = "2.0"

// Payload is either a *Request or a *Response.
type Payload interface {
	PayloadID() int64
}

type Request struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r *Request) PayloadID() int64 { return r.ID }

// NewRequest builds a request with a fresh id. params may be raw JSON or any
// value encoding/json can marshal.
func NewRequest(method string, params interface{}) (*Request, error) {
	raw, err := marshalRaw(params)
	if err != nil {
		return nil, err
	}

	return &Request{
		ID:      NewID(),
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	}, nil
}

// NewID returns a millisecond timestamp with three random trailing digits.
func NewID() int64 {
	return time.Now().UnixNano()/int64(time.Millisecond)*1000 + rand.Int63n(1000)
}

// Response carries exactly one of Result and Error. A nil Error means a result
// envelope, even when Result is empty (it is then encoded as null).
type Response struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (r *Response) PayloadID() int64 { return r.ID }

func (r *Response) IsError() bool { return r.Error != nil }

type resultEnvelope struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
}

type errorEnvelope struct {
	ID      int64  `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Error   *Error `json:"error"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	version := r.JSONRPC
	if version == "" {
		version = Version
	}

	if r.Error != nil {
		return json.Marshal(errorEnvelope{ID: r.ID, JSONRPC: version, Error: r.Error})
	}

	result := r.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}

	return json.Marshal(resultEnvelope{ID: r.ID, JSONRPC: version, Result: result})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      int64           `json:"id"`
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   json.RawMessage `json:"error"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.ID = raw.ID
	r.JSONRPC = raw.JSONRPC
	r.Result = nil
	r.Error = nil

	if len(raw.Error) > 0 && !bytes.Equal(bytes.TrimSpace(raw.Error), []byte("null")) {
		var e Error
		if err := json.Unmarshal(raw.Error, &e); err != nil {
			return fmt.Errorf("decode error object: %w", err)
		}
		r.Error = &e
		return nil
	}

	r.Result = raw.Result
	return nil
}

// FormatResult wraps result as a result envelope for id.
func FormatResult(id int64, result interface{}) (*Response, error) {
	raw, err := marshalRaw(result)
	if err != nil {
		return nil, err
	}

	return &Response{ID: id, JSONRPC: Version, Result: raw}, nil
}

// FormatError builds an error envelope carrying the standard message for code.
func FormatError(id int64, code int) *Response {
	e := StandardError(code)
	return &Response{ID: id, JSONRPC: Version, Error: &e}
}

func FormatErrorMessage(id int64, code int, message string) *Response {
	return &Response{ID: id, JSONRPC: Version, Error: &Error{Code: code, Message: message}}
}

func marshalRaw(v interface{}) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return t, nil
	case []byte:
		if !json.Valid(t) {
			return nil, fmt.Errorf("invalid raw json")
		}
		return json.RawMessage(t), nil
	default:
		bts, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(bts), nil
	}
}
