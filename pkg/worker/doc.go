// Package worker runs dequeued jobs and keeps the job store consistent
// with what is actually running.
//
// This package includes:
//   - Pool: a fixed number of slots, each looping over NextEligible and Run
//   - Reconciler: startup recovery and a periodic stale-heartbeat sweep
//   - Option: concurrency, heartbeat and sweep configuration
package worker
