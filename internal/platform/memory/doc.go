// Package memory provides in-memory implementations of the store
// interfaces. They are correct with respect to the optimistic-concurrency
// and ordering guarantees and are used in tests and local development;
// production deployments use the postgres backend.
package memory
