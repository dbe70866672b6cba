package schema

import "github.com/viant/jsonrpc"

const (
	// RequestTimeout indicates that no reply arrived within the per-request
	// deadline. Only the affected request fails; the session survives.
	RequestTimeout = -32001

	// SessionTerminated indicates the owning session was destroyed while the
	// request was still outstanding.
	SessionTerminated = -32002

	// BackendUnavailable indicates the backend process could not be reached,
	// either because it never started or because writing to its standard
	// input failed.
	BackendUnavailable = -32003
)

// NewRequestTimeout creates a new request timeout error.
func NewRequestTimeout(method string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: RequestTimeout, Message: "Request timed out: " + method}
}

// NewSessionTerminated creates a new session terminated error.
func NewSessionTerminated() *jsonrpc.Error {
	return &jsonrpc.Error{Code: SessionTerminated, Message: "Session terminated"}
}

// NewBackendUnavailable creates a new backend unavailable error.
func NewBackendUnavailable(reason string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: BackendUnavailable, Message: "Backend unavailable: " + reason}
}
