// Package availability tracks how each relay server is performing.
//
// A Monitor collects per-connection telemetry (connect latency, bytes moved
// in each direction, connect failures) and, when enabled, ICMP probe results.
// Every collection window it condenses those samples into one Record per
// server, appends the records to the raw Statistics, persists them through a
// Store and publishes a filtered view that the statistics strategy scores.
//
// Statistics snapshots are immutable once published: writers build a new
// map and swap it in, so readers never take a lock.
package availability
