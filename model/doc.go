// Package model defines the provider-neutral language model contract used
// by the agent loop, plus helpers shared by every provider:
//
//   - Request / Response: normalized messages, tool declarations and
//     streamed chunks (text deltas, then a final chunk with tool calls)
//   - WithRetry: bounded exponential backoff around a Model, surfacing
//     exhausted retries as *ProviderError (errors.Is ErrUpstreamProvider)
//   - GenerateText / GenerateObject: one-shot helpers used by title and
//     follow-up generation
//   - MockModel: a scripted in-memory model for tests and examples
//
// Provider adapters live in model/openai and model/anthropic.
package model
