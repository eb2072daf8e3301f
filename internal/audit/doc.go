// Package audit implements async event dispatching for credential and token
// operations.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher]: buffered async relay. Stamps each event with a [Severity]; in
//     drop-if-full mode only Info and Warning events are shed, Critical ones wait.
//   - [Classify]: event type to severity. refresh_reuse_detected is Critical.
//   - [Event]: structured audit record with timestamp, type, severity, user, client IP
//     and metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; that belongs to the Engine.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import authcore or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
