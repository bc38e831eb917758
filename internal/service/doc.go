// Package service implements the event store's application services: the
// append coordinator, the event reader, and the snapshot manager. Together
// they form the client façade used by command services (writers),
// projection services (readers/subscribers), and the saga orchestrator.
package service
