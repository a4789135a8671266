// Package core provides the fundamental types and interfaces for extractq.
//
// This package contains:
//   - Job and Artifact data models with GORM annotations
//   - JobStore and ArtifactStore interfaces defining the persistence contract
//   - Stage interface and StageContext for pipeline collaborators
//   - Event types delivered to progress subscribers
//   - Error types for submission, scheduling and stage execution
//
// Most users should import the root package github.com/jdziat/extractq
// instead of this package directly.
package core
