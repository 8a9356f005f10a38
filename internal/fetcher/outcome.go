package fetcher

import (
	"fmt"
	"time"
)

// Reason classifies a failed fetch.
type Reason int

const (
	ReasonTimeout Reason = iota + 1
	ReasonNetworkError
	ReasonParseError
	ReasonHTTPStatus
)

func (r Reason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonNetworkError:
		return "network_error"
	case ReasonParseError:
		return "parse_error"
	case ReasonHTTPStatus:
		return "http_status"
	default:
		return "unknown"
	}
}

// Failure is the typed error half of an Outcome.
type Failure struct {
	Reason     Reason
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	if f.Reason == ReasonHTTPStatus {
		return fmt.Sprintf("upstream returned status %d", f.StatusCode)
	}
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	}
	return f.Reason.String()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Outcome is the result of one fetch attempt: a payload on success, a
// Failure otherwise. It is created per attempt and never persisted.
type Outcome struct {
	Payload    []byte
	Failure    *Failure
	StatusCode int
	Duration   time.Duration
}

// OK reports whether the fetch succeeded.
func (o Outcome) OK() bool {
	return o.Failure == nil
}

// Label is the metrics label for the outcome.
func (o Outcome) Label() string {
	if o.Failure == nil {
		return "success"
	}
	return o.Failure.Reason.String()
}

// success and failure leave Duration to Fetch, which times the whole attempt.
func success(payload []byte, status int) Outcome {
	return Outcome{Payload: payload, StatusCode: status}
}

func failure(reason Reason, status int, err error) Outcome {
	return Outcome{
		Failure:    &Failure{Reason: reason, StatusCode: status, Err: err},
		StatusCode: status,
	}
}
