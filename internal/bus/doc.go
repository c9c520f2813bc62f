// Package bus publishes document lifecycle messages on Redis Pub/Sub.
//
// Every message a backend or frontend emits can be mirrored onto the
// document's events channel as a JSON Envelope so processes outside the
// orchestrator can observe replication progress:
//
//	hypermerge:{prefix}:doc:{docId}:events
//
// Delivery is Redis Pub/Sub: at-most-once, no replay. The bus is an
// observation surface and never feeds messages back into a document.
package bus
