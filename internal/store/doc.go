// Package store defines interfaces for event log persistence.
// These interfaces abstract the underlying storage engine from the
// application's core logic, allowing the append/read/snapshot semantics
// to remain independent of specific database technologies.
package store
