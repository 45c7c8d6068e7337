// Package core provides the foundational domain types used throughout
// CommerceMesh. It defines the core abstractions for:
//
//   - Dialogs (stateful conversational containers with message history and cart)
//   - Content / Parts (role-based turns carrying text, function calls and results)
//   - Carts and Orders (commerce state with exact decimal arithmetic)
//   - Queue envelopes and dead-letter records
//   - The error taxonomy threaded through the pipeline (transient, validation,
//     resource, fatal)
//   - ToolContext (scoped execution surface handed to commerce tools)
//
// The package intentionally keeps implementation concerns (persistence, queue
// transport, orchestration) out of scope, exposing small types so the
// surrounding packages can supply custom backends.
package core
