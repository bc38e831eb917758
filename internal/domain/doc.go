// Package domain contains the core entities and value objects of the event
// store: events, event drafts, and snapshots. It represents the heart of the
// system, independent of any specific infrastructure or delivery mechanism.
// Event payloads are opaque here; the store never couples to the business
// schemas of the bounded contexts that write to it.
package domain
