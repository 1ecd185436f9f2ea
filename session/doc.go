// Package session houses concrete implementations of core.SessionStore, the
// chat history store the runner reads before a turn and appends to after it.
//
// Add additional backends in sub-packages without changing any calling code;
// only the wiring layer decides which implementation to instantiate.
package session
