package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind identifies a distribution backend variant.
type Kind string

const (
	KindEdgeKV     Kind = "edgekv"
	KindServerless Kind = "serverless"
	KindGitFile    Kind = "gitfile"
	KindDisabled   Kind = "disabled"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindEdgeKV:
		return KindEdgeKV, nil
	case KindServerless:
		return KindServerless, nil
	case KindGitFile:
		return KindGitFile, nil
	case KindDisabled, "":
		return KindDisabled, nil
	}
	return "", fmt.Errorf("unknown backend kind %q", s)
}

// Descriptor is the read-only configuration of one backend. The descriptor
// set is loaded once at process start and never mutated afterwards.
type Descriptor struct {
	Kind       Kind
	Endpoint   string // URL, or owner/repo/path for gitfile
	Credential string // bearer token / repo write token; empty for public reads
	Enabled    bool
}

// Backend persists and retrieves the token payload on one external relay.
//
// Put must be idempotent: repeating it with the same payload leaves the
// stored state unchanged (last write wins, no versioning).
type Backend interface {
	Kind() Kind
	Put(ctx context.Context, p Payload) error
	Get(ctx context.Context) (Payload, error)
}

// Sentinel errors for expected steady-state conditions.
var (
	// ErrNotFound: nothing stored yet (normal on first run).
	ErrNotFound = errors.New("no token payload stored")
	// ErrExpired: a payload is stored but its expiry has passed.
	ErrExpired = errors.New("stored token payload has expired")
)

// TransportError is a network or HTTP-level failure. Transient; retried
// within the per-backend attempt budget.
type TransportError struct {
	Status int // 0 when the request never completed
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend transport error: status %d", e.Status)
	}
	return "backend transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// FormatError is a malformed payload (stored or submitted). Not retried.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "malformed token payload: " + e.Reason }

// Options are shared construction knobs for backends.
type Options struct {
	HTTPClient *http.Client
	Now        func() time.Time
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (o Options) now() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return time.Now
}

// New builds the backend variant for a descriptor. Disabled descriptors
// (and the explicit Disabled kind) yield the no-op variant so a channel can
// be turned off without removing its configuration.
func New(d Descriptor, opts Options) (Backend, error) {
	if !d.Enabled || d.Kind == KindDisabled {
		return Disabled{}, nil
	}
	switch d.Kind {
	case KindEdgeKV:
		return newEdgeKV(d, opts)
	case KindServerless:
		return newServerless(d, opts)
	case KindGitFile:
		return newGitFileStore(d, opts)
	}
	return nil, fmt.Errorf("unknown backend kind %q", d.Kind)
}

// statusErr maps an unexpected HTTP status to the error taxonomy shared by
// the HTTP-based variants.
func statusErr(status int) error {
	switch status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusGone:
		return ErrExpired
	}
	return &TransportError{Status: status}
}
