package threatfeed

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformedURL is returned when an input cannot be canonicalized.
var ErrMalformedURL = errors.New("malformed url")

// NetworkError reports a transport failure, timeout, or non-2xx status from
// either remote endpoint. No cached state is mutated when it is returned.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError reports malformed JSON, base64, or hash data in a response.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PartialListFailure collects the threat types whose update failed while the
// remaining types were committed.
type PartialListFailure struct {
	Failures map[ThreatType]error
}

func (e *PartialListFailure) Error() string {
	types := make([]string, 0, len(e.Failures))
	for t := range e.Failures {
		types = append(types, string(t))
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%s: %v", t, e.Failures[ThreatType(t)]))
	}
	return "threat list update failed for " + strings.Join(parts, "; ")
}

func (e *PartialListFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}
