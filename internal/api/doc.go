// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It acts as an adapter between the event store's
// external service callers and the internal application services,
// translating HTTP concerns to store operations. Subscription feeds are
// served as long-lived Server-Sent Events streams.
package api
