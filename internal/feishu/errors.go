package feishu

import "fmt"

// AuthError means the platform rejected the application identity.
// It is fatal for the cycle: retrying with the same credentials cannot help.
type AuthError struct {
	Code int
	Msg  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("feishu rejected app credentials: code=%d msg=%q", e.Code, e.Msg)
}

// NetworkError wraps a transport-level failure (including timeouts).
// It is transient and safe to retry.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "feishu request failed: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError means the platform answered but the response was malformed
// (missing token or validity fields). Not retried.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "malformed feishu response: " + e.Reason }
