package search

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
)

// ValidateEmbedding checks a query embedding before any store access.
func ValidateEmbedding(embedding []float32, dims int) error {
	if len(embedding) == 0 {
		return qaerrors.ValidationError("query_embedding is required", nil).
			WithSuggestion(fmt.Sprintf("send a %d-dimensional embedding", dims))
	}
	if len(embedding) != dims {
		return qaerrors.New(qaerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("query_embedding has %d dimensions, expected %d", len(embedding), dims), nil).
			WithDetail("expected", fmt.Sprint(dims)).
			WithDetail("got", fmt.Sprint(len(embedding)))
	}
	for i, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return qaerrors.ValidationError(fmt.Sprintf("query_embedding[%d] is not a finite number", i), nil)
		}
	}
	return nil
}

// ValidateText trims query text and rejects empty or oversized input.
func ValidateText(text string, maxRunes int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", qaerrors.New(qaerrors.ErrCodeQueryEmpty, "query_text must not be empty", nil)
	}
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		return "", qaerrors.New(qaerrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query_text exceeds %d characters", maxRunes), nil)
	}
	return text, nil
}

// ValidateMatchCount rejects an explicitly supplied count below 1.
func ValidateMatchCount(n int) error {
	if n < 1 {
		return qaerrors.New(qaerrors.ErrCodeInvalidMatchCount,
			fmt.Sprintf("match count must be at least 1, got %d", n), nil)
	}
	return nil
}

// resolveCount maps an unset (zero) count to def.
func resolveCount(n, def int) (int, error) {
	if n == 0 {
		return def, nil
	}
	if err := ValidateMatchCount(n); err != nil {
		return 0, err
	}
	return n, nil
}
