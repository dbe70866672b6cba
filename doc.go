// Package bridge exposes a line-oriented JSON-RPC backend process over HTTP,
// translating between browser-facing SSE/POST transports and the backend's
// stdin/stdout framing. Each client session owns a dedicated backend process;
// requests are correlated by JSON-RPC id, unsolicited backend output is
// streamed to the client, and idle sessions are reaped in the background.
package bridge
