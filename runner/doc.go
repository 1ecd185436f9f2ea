// Package runner turns a chat message into a streamed assistant turn.
//
// A Runner binds the caller's execution context for the lifetime of the
// turn, opens the turn's artifact channel, runs the agent loop and
// multiplexes model text, staged tool text and artifact updates onto a single
// StreamEvent channel. The title of a new chat is generated concurrently with
// the loop.
//
// # Lifecycle
//
//   - Run validates the request and returns the stream immediately.
//   - Every stream ends with exactly one done event, also after errors and
//     cancellation.
//   - When the turn ends the binding is released, the artifact channel is
//     closed and the turn's cache entries are purged.
//
// Provider outages reach the client as a short apology; other failures as a
// generic message. Details are logged, never streamed.
package runner
