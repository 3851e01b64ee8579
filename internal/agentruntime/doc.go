// Package agentruntime is the client for the Agent Runtime Service, the external
// process host that lists, starts, and stops agents over HTTP/JSON.
//
// Failures come in three shapes: ErrUnavailable (transport faults and
// timeouts), *StatusError (non-2xx answers), and ErrInvalidResponse
// (undecodable bodies). A decoded Reply is a logical outcome, never a failure.
package agentruntime
