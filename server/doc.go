// Package server exposes a runner.Runner over HTTP.
//
// POST /chat starts a turn and streams its events as Server-Sent Events; the
// event name is the StreamEvent type and the data its JSON form. The turn id
// is returned in the X-Turn-Id header before the first event.
// POST /chat/{turnId}/cancel cancels a running turn. Closing the connection
// cancels the turn as well.
package server
