// Package syncerr defines the tagged error kinds shared by the issue sync
// and status aggregation services.
package syncerr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindUnknown           Kind = "UNKNOWN"
	KindConfigMissing     Kind = "CONFIG_MISSING"
	KindAuthFailure       Kind = "AUTH_FAILURE"
	KindIssueNotFound     Kind = "ISSUE_NOT_FOUND"
	KindTransientNetwork  Kind = "TRANSIENT_NETWORK"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindMalformedResponse Kind = "MALFORMED_RESPONSE"
	KindEncryptionError   Kind = "ENCRYPTION_ERROR"
	KindInvalidIssueKey   Kind = "INVALID_ISSUE_KEY"
	KindRecordNotFound    Kind = "RECORD_NOT_FOUND"
)

// Error carries a Kind so callers can branch without matching on text.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "tracker.GetIssueInfo"
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, syncerr.ConfigMissing) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ConfigMissing     = &Error{Kind: KindConfigMissing}
	AuthFailure       = &Error{Kind: KindAuthFailure}
	IssueNotFound     = &Error{Kind: KindIssueNotFound}
	TransientNetwork  = &Error{Kind: KindTransientNetwork}
	RateLimited       = &Error{Kind: KindRateLimited}
	MalformedResponse = &Error{Kind: KindMalformedResponse}
	EncryptionError   = &Error{Kind: KindEncryptionError}
	InvalidIssueKey   = &Error{Kind: KindInvalidIssueKey}
	RecordNotFound    = &Error{Kind: KindRecordNotFound}
)

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err should be left for the retry sweep.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransientNetwork, KindRateLimited:
		return true
	}
	return false
}

// Summary renders err as "KIND: message" for storage in a record's sync error.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if !errors.As(err, &se) {
		return fmt.Sprintf("%s: %s", KindUnknown, err.Error())
	}
	msg := se.Message
	if se.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += se.Err.Error()
	}
	if msg == "" {
		return string(se.Kind)
	}
	return fmt.Sprintf("%s: %s", se.Kind, msg)
}
