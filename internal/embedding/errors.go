package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a provider failure so callers can decide whether to stop
// a run or drop a single batch.
type Kind int

const (
	KindOther Kind = iota
	KindQuota
	KindRateLimit
	KindTimeout
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindQuota:
		return "quota_exceeded"
	case KindRateLimit:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	default:
		return "other"
	}
}

// Error is returned by every Provider. Err holds the underlying cause.
type Error struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s embedding %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or KindOther if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// transportError wraps a failed HTTP round trip, telling timeouts apart
// from unreachable hosts.
func transportError(provider string, err error) *Error {
	kind := KindOther
	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.As(err, &dnsErr), errors.As(err, &opErr):
		kind = KindConnection
	case strings.Contains(strings.ToLower(err.Error()), "connection refused"):
		kind = KindConnection
	}
	return &Error{Kind: kind, Provider: provider, Err: err}
}
