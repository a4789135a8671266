// Package queue provides the Queue, the entry point that wires the
// scheduler, the event hub, the pipeline orchestrator and the worker pool
// around one job store.
//
// This package includes:
//   - Queue: Submit, Cancel, Subscribe, Get, List, Position, Artifact, Start
//   - Option: configuration forwarded to the underlying components
//
// Most users should import the root package github.com/jdziat/extractq
// which re-exports the Queue constructor and options.
package queue
