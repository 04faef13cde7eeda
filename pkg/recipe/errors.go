// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRecipe is the sentinel error wrapped by ValidationError.
var ErrInvalidRecipe = errors.New("invalid recipe")

// ValidationError describes a malformed recipe: a missing required directive,
// an empty default command, an unsupported instruction, or an invalid field.
type ValidationError struct {
	// Source is the recipe file name, or empty for in-memory recipes.
	Source string
	// Line is the 1-based line of the offending directive (0 when not line-specific).
	Line int
	// Field names the recipe field at fault (e.g., "base", "packages[1]").
	Field string
	// Msg is the human-readable reason.
	Msg string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var sb strings.Builder
	if e.Source != "" {
		sb.WriteString(e.Source)
		if e.Line > 0 {
			fmt.Fprintf(&sb, ":%d", e.Line)
		}
		sb.WriteString(": ")
	} else if e.Line > 0 {
		fmt.Fprintf(&sb, "line %d: ", e.Line)
	}
	if e.Field != "" {
		sb.WriteString(e.Field)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Msg)
	return sb.String()
}

// Unwrap returns ErrInvalidRecipe for errors.Is() compatibility.
func (e *ValidationError) Unwrap() error { return ErrInvalidRecipe }

func fieldError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func lineError(source string, line int, format string, args ...any) *ValidationError {
	return &ValidationError{Source: source, Line: line, Msg: fmt.Sprintf(format, args...)}
}
