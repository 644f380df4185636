package core

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures. The orchestrator dispatches on Kind,
// never on concrete error types.
type Kind string

const (
	KindConfig          Kind = "config"
	KindInvalidPath     Kind = "invalid_path"
	KindExtraction      Kind = "extraction"
	KindTransient       Kind = "transient_service"
	KindAuth            Kind = "auth"
	KindFallbackExhaust Kind = "model_fallback_exhausted"
	KindDuplicate       Kind = "duplicate_content"
	KindSeries          Kind = "series_detection"
	KindQualityReview   Kind = "quality_review"
	KindPublish         Kind = "publish"
	KindPersistence     Kind = "persistence"
)

// Error is the tagged error used across the pipeline.
type Error struct {
	Kind       Kind
	Op         string
	Msg        string
	Retryable  bool
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a tagged error. Retryable defaults to true only for transient failures.
func E(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err, Retryable: kind == KindTransient}
}

// PublishError builds a publish failure carrying its retry eligibility.
func PublishError(op string, status int, retryable bool, err error) *Error {
	return &Error{Kind: KindPublish, Op: op, StatusCode: status, Retryable: retryable, Err: err}
}

// KindOf returns the Kind of the first tagged error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether any tagged error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// IsRetryable reports whether the outermost tagged error allows another attempt.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// StatusCode returns the status code of the outermost tagged error, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}
