package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// asQAError returns err as a QAError, wrapping foreign errors as internal.
func asQAError(err error) *QAError {
	if qe, ok := As(err); ok {
		return qe
	}
	return Wrap(ErrCodeInternal, err)
}

// FormatForUser returns a user-facing message; debug adds the cause chain.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}

	qe, ok := As(err)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(qe.Message)
	sb.WriteString("\n")

	if qe.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(qe.Suggestion)
		sb.WriteString("\n")
	}

	if debug && qe.Cause != nil {
		fmt.Fprintf(&sb, "\nCause: %v\n", qe.Cause)
	}

	fmt.Fprintf(&sb, "\n[%s]", qe.Code)
	return sb.String()
}

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	qe := asQAError(err)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", qe.Message)
	if qe.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", qe.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", qe.Code)
	return sb.String()
}

// ErrorBody is the wire representation of an error, shared by the HTTP
// surface and FormatJSON.
type ErrorBody struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// Body builds the wire representation of err.
func Body(err error) ErrorBody {
	qe := asQAError(err)
	body := ErrorBody{
		Code:       qe.Code,
		Message:    qe.Message,
		Category:   string(qe.Category),
		Severity:   string(qe.Severity),
		Details:    qe.Details,
		Suggestion: qe.Suggestion,
		Retryable:  qe.Retryable,
	}
	if qe.Cause != nil {
		body.Cause = qe.Cause.Error()
	}
	return body
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(Body(err))
}

// FormatForLog returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	qe, ok := As(err)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"error_code": qe.Code,
		"message":    qe.Message,
		"category":   string(qe.Category),
		"severity":   string(qe.Severity),
		"retryable":  qe.Retryable,
	}
	if qe.Cause != nil {
		result["cause"] = qe.Cause.Error()
	}
	if qe.Suggestion != "" {
		result["suggestion"] = qe.Suggestion
	}
	for k, v := range qe.Details {
		result["detail_"+k] = v
	}
	return result
}
