// Package cache memoizes tool executions by fingerprint.
//
// A fingerprint is derived from the tool name, the canonical JSON form of the
// validated input and a tenant scope, so identical calls of different
// organizations never share results. For any fingerprint at most one
// execution is in flight: concurrent callers join it and receive the same
// result or error. An execution runs only as long as someone waits for it:
// when the last waiter's context ends, or its scope is purged at the end of
// a turn, the execution is cancelled and its result is dropped. Failures and
// timeouts are never cached.
package cache
