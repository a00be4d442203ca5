// Package evidence provides the append-only Evidence Store. Every retrieved
// or derived fact receives a stable "E<n>" id from an atomic allocator;
// stored items are never mutated. The in-memory store suits tests and single
// process runs; evidence/redis shares ids across processes.
package evidence
