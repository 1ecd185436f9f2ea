// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing chat history (sessions, events, tool call
// and response parts). Not intended for production usage.
package testutil
