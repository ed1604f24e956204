// Package memory implements the core storage interfaces in process memory.
//
// It backs single-instance deployments without Redis or PostgreSQL and is
// used throughout the tests. Nothing survives a restart.
package memory
