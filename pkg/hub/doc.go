// Package hub provides the in-process Event Hub that fans progress events
// out to the live subscribers of each job.
//
// Delivery never blocks the publisher. A full subscription channel drops a
// progress event for that subscriber only. A terminal status_update is never
// dropped: it evicts the oldest buffered events instead, so every listener
// learns how its job ended.
package hub
