// Package subscription implements the dispatcher that delivers newly
// committed events to live subscribers and serves resumable historical
// replay. Each subscriber owns a goroutine that scans the durable log from
// its own cursor, so a slow or disconnected consumer never blocks writers
// or other subscribers. Delivery is at-least-once; consumers deduplicate
// by event ID.
package subscription
