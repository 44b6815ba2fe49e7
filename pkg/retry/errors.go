package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrTerminal marks an error that must never be retried
// (authentication, validation, card decline).
var ErrTerminal = errors.New("terminal error")

// Terminal wraps err so that it is classified as non-retryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTerminal, err)
}

// StatusError is a provider response normalised for retry classification.
type StatusError struct {
	Provider     string
	StatusCode   int
	ProviderCode string
	Message      string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s returned status %d", e.Provider, e.StatusCode)
	if e.ProviderCode != "" {
		msg += " code " + e.ProviderCode
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Classifier decides whether an error is worth another attempt.
type Classifier struct {
	// TransientCodes are provider-specific codes retried regardless of HTTP status.
	TransientCodes map[string]bool
	// TerminalCodes are provider-specific codes never retried.
	TerminalCodes map[string]bool
}

// Retryable implements the default eligibility rules plus the provider code sets.
func (c Classifier) Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrTerminal) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		if se.ProviderCode != "" {
			if c.TerminalCodes[se.ProviderCode] {
				return false
			}
			if c.TransientCodes[se.ProviderCode] {
				return true
			}
		}
		return retryableStatus(se.StatusCode)
	}

	return isConnectionError(err)
}

// DefaultRetryable classifies errors with no provider-specific codes.
func DefaultRetryable(err error) bool {
	return Classifier{}.Retryable(err)
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// ExhaustedError is returned when all attempts failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
