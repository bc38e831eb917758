// Package postgres implements the store interfaces using PostgreSQL as the
// storage backend. Per-stream serialization is achieved by a row lock on the
// stream_versions table, backstopped by the unique (stream_id, stream_type,
// version) index; global positions come from an atomic in-process counter
// recovered from MAX(position) at startup.
package postgres
