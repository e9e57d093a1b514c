// Package mcp implements the Model Context Protocol server for qamatch.
package mcp

import (
	"context"
	"errors"
	"fmt"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
)

// Custom MCP error codes for qamatch.
const (
	// ErrCodeUnavailable indicates no candidate source could answer.
	ErrCodeUnavailable = -32001

	// ErrCodeUpstream indicates the embedding provider or a source failed.
	ErrCodeUpstream = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeStore indicates the answer store failed.
	ErrCodeStore = -32004

	// ErrCodeBusy indicates a batch run holds the lock.
	ErrCodeBusy = -32005

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors by category.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	if qe, ok := qaerrors.As(err); ok {
		return mapQAError(qe)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

func mapQAError(qe *qaerrors.QAError) *MCPError {
	message := qe.Message
	if qe.Suggestion != "" {
		message = fmt.Sprintf("%s %s", qe.Message, qe.Suggestion)
	}

	switch qe.Category {
	case qaerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case qaerrors.CategoryUpstream:
		return &MCPError{Code: ErrCodeUpstream, Message: message}
	case qaerrors.CategoryStorage:
		return &MCPError{Code: ErrCodeStore, Message: message}
	}

	switch qe.Code {
	case qaerrors.ErrCodeAllSourcesUnavailable:
		return &MCPError{Code: ErrCodeUnavailable, Message: message}
	case qaerrors.ErrCodeRunInProgress:
		return &MCPError{Code: ErrCodeBusy, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
