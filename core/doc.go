// Package core holds the shared domain types of finmesh:
//
//   - Content and Part values exchanged with models (text, function calls,
//     function responses)
//   - Events recorded in a chat session's history
//   - The per-turn ExecutionContext and its context-carried binding
//   - ToolContext, the surface a tool sees while it executes
//   - StepRecord, the outcome of one agent loop step
//
// Concrete behaviour (caching, artifacts, the loop itself) lives in sibling
// packages; core only defines what they exchange.
package core
