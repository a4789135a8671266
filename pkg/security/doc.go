// Package security provides validation, sanitization, and limits for extractq.
//
// This package includes:
//   - Submission validation for user ids, tiers, filenames and columns
//   - Error message sanitization to prevent sensitive data leakage
//   - Clamping functions to enforce safe limits on retries and concurrency
//   - Security-related constants defining maximum sizes and counts
package security
