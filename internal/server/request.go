package server

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Opcodes understood by the dispatcher.
const (
	OpDeviceList = "DeviceList"
	OpAttach     = "Attach"
	OpInfo       = "Info"
	OpAppVersion = "AppVersion"
	OpName       = "Name"
)

// Request is one client request.
type Request struct {
	Opcode   string   `json:"Opcode"`
	Space    string   `json:"Space,omitempty"`
	Flags    []string `json:"Flags,omitempty"`
	Operands []string `json:"Operands,omitempty"`
}

// Response is the reply to a request. Results is always present.
type Response struct {
	Results []string `json:"Results"`
	Error   string   `json:"Error,omitempty"`
}

func results(values ...string) Response {
	if values == nil {
		values = []string{}
	}
	return Response{Results: values}
}

func errorResponse(format string, args ...any) Response {
	return Response{Results: []string{}, Error: fmt.Sprintf(format, args...)}
}

// ParseRequest decodes and validates a request payload.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	req.Opcode = strings.TrimSpace(req.Opcode)
	if req.Opcode == "" {
		return nil, fmt.Errorf("invalid request: missing Opcode")
	}
	return &req, nil
}

// operand returns the i-th operand, or "" when absent.
func (r *Request) operand(i int) string {
	if i < len(r.Operands) {
		return r.Operands[i]
	}
	return ""
}
