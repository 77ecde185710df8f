package gateway

import (
	"encoding/json"
	"errors"

	"github.com/kioku-ai/kioku/pkg/types"
)

// Error codes carried inside tool results. The inference loop feeds them
// back to the model as data; they never abort generation.
const (
	CodeToolNotFound        = "tool_not_found"
	CodeValidationError     = "validation_error"
	CodeConstraintViolation = "constraint_violation"
	CodeNotFound            = "not_found"
	CodeStoreError          = "store_error"
)

// ToolError is the structured error payload of a failed invocation.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of one invocation: either Data or Error is set.
type Result struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error *ToolError  `json:"error,omitempty"`
}

// Definition describes one operation to the inference capability.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Invocation is one tool call requested by the model.
type Invocation struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params"`
}

func okResult(data interface{}) *Result {
	return &Result{OK: true, Data: data}
}

func errResult(code, message string) *Result {
	return &Result{OK: false, Error: &ToolError{Code: code, Message: message}}
}

// resultFromError maps domain sentinels onto protocol error codes.
func resultFromError(err error) *Result {
	switch {
	case errors.Is(err, types.ErrToolNotFound):
		return errResult(CodeToolNotFound, err.Error())
	case errors.Is(err, types.ErrToolValidation):
		return errResult(CodeValidationError, err.Error())
	case errors.Is(err, types.ErrConstraintViolation):
		return errResult(CodeConstraintViolation, err.Error())
	case errors.Is(err, types.ErrNotFound):
		return errResult(CodeNotFound, err.Error())
	default:
		return errResult(CodeStoreError, err.Error())
	}
}
