// Package pipeline provides the Orchestrator that runs the ordered stage
// sequence for one dequeued job.
//
// This package includes:
//   - Orchestrator: persists status transitions and publishes progress
//   - Option: stage timeout and retry policy configuration
//   - Transient failure handling with exponential backoff
//
// Every status transition is written to the job store before the matching
// event is published.
package pipeline
