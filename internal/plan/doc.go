// Package plan implements the weekly post lifecycle: time normalization,
// week generation, publication-readiness validation, and the all-or-nothing
// approval gate that hands approved posts to the scheduler.
package plan
