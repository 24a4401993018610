package ratequeue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Class categorises a failed request.
type Class string

const (
	ClassRateLimit Class = "RATE_LIMIT"
	ClassTimeout   Class = "TIMEOUT"
	ClassNetwork   Class = "NETWORK"
	ClassAuth      Class = "AUTH"
	ClassCanceled  Class = "CANCELED"
	ClassUnknown   Class = "UNKNOWN"
)

// Retryable reports whether requests failing with c are worth retrying.
func (c Class) Retryable() bool {
	switch c {
	case ClassRateLimit, ClassTimeout, ClassNetwork:
		return true
	}
	return false
}

// Classify inspects err for known failure patterns and returns the most
// specific class.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Class
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "invalid api key"):
		return ClassAuth
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "too many requests"):
		return ClassRateLimit
	case strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"):
		return ClassTimeout
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return ClassNetwork
	}
	return ClassUnknown
}

// Error is returned by Queue.Do when a request fails for good.
type Error struct {
	Class    Class
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("request failed after %d attempt(s) [%s]: %v", e.Attempts, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the final failure was of a retryable class,
// meaning retries ran out rather than the request being rejected outright.
func (e *Error) Retryable() bool { return e.Class.Retryable() }
