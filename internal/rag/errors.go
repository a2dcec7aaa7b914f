package rag

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("document not found")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrGeneration          = errors.New("generation failed")
)

// Kind enumerates the ways a pipeline request can fail.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindProviderUnavailable
	KindGeneration
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindGeneration:
		return "generation_error"
	default:
		return "internal"
	}
}

// KindOf classifies err. Errors outside the taxonomy are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrGeneration):
		return KindGeneration
	case errors.Is(err, ErrProviderUnavailable):
		return KindProviderUnavailable
	default:
		return KindInternal
	}
}

// GenerationError is returned when the generation provider was reachable but
// answered with an error status or a payload that could not be used.
type GenerationError struct {
	StatusCode int    // 0 when the response was malformed rather than rejected
	Message    string // provider message, verbatim when available
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation failed: provider returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("generation failed: %s", e.Message)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrGeneration) hold for every GenerationError.
func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
