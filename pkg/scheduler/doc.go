// Package scheduler provides the per-user priority Scheduler for extractq.
//
// The Scheduler keeps one pending queue per user and admits at most one
// processing job per user. Each call to NextEligible looks at the head of
// every idle user's queue and picks the highest priority tier, breaking ties
// by the oldest head. There is no aging: sustained high-priority load can
// starve low-priority users.
package scheduler
