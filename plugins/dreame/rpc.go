package dreame

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// RPC methods understood by the vacuum.
const (
	MethodAction        = "action"
	MethodSetProperties = "set_properties"
	MethodGetProperties = "get_properties"
	MethodCleanRecord   = "get_clean_record"
	MethodInfo          = "miIO.info"
)

var ErrClosed = errors.New("dreame: closed")

// Caller sends one request to a device and returns the decoded "result"
// member of its reply. Timeouts are the caller implementation's concern.
type Caller interface {
	Call(ctx context.Context, method string, params any) (any, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, method string, params any) (any, error)

func (f CallerFunc) Call(ctx context.Context, method string, params any) (any, error) {
	return f(ctx, method, params)
}

// DeviceError is an error member returned by the device in place of a result.
type DeviceError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error %d: %s", e.Code, e.Message)
}

type requestMessage struct {
	RequestID int    `json:"id"`
	Method    string `json:"method"`
	Params    any    `json:"params"`
}

type rpcResponse struct {
	RequestID int             `json:"id"`
	Result    any             `json:"result"`
	Error     json.RawMessage `json:"error"`
}

func encodeRequest(id int, method string, params any) ([]byte, error) {
	if params == nil {
		params = []any{}
	}
	return json.Marshal(requestMessage{RequestID: id, Method: method, Params: params})
}

func decodeResponse(payload []byte) (rpcResponse, error) {
	// Firmware pads replies with NUL bytes.
	payload = bytes.TrimRight(payload, "\x00")
	if len(payload) == 0 {
		return rpcResponse{}, errors.New("empty payload")
	}
	var resp rpcResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return rpcResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func (r rpcResponse) err() error {
	if len(r.Error) == 0 || string(r.Error) == "null" {
		return nil
	}
	var devErr DeviceError
	if err := json.Unmarshal(r.Error, &devErr); err != nil {
		return fmt.Errorf("device error: %s", string(r.Error))
	}
	return &devErr
}
