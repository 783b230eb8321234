// Package ctlproto exposes the orchestrator's job/title operations over
// JSON-RPC on a Unix domain socket, for the CLI to drive a running daemon
// without going through HTTP. It wraps the same Service and Actions the
// HTTP API uses, so both transports share one implementation of every
// operation and can never drift apart.
//
// The wire protocol is net/rpc with the jsonrpc codec: one Go type per
// request and response, registered under the "Ctl" service name.
package ctlproto
