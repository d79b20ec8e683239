// Package storage persists the publishing domain (tenants, projects, weeks,
// posts, publish log, per-user sessions) in a local sqlite database.
//
// All records are keyed by their natural unique tuples; multi-row state
// transitions (approving a week) run inside a single transaction.
package storage
