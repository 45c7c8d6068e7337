// Package model defines the provider-agnostic abstractions for interacting
// with reasoning engines inside CommerceMesh.
//
// Core goals:
//   - Normalize tool / function call representation (ToolDefinition, FunctionCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so the orchestrator remains decoupled from vendor SDKs. Generation
// is synchronous: the queue worker consumes whole turns, so streaming adds no
// value here and every call is bounded by the caller's context deadline.
package model
