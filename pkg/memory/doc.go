// Package memory stores per-owner values for the engine, either scoped to a
// session (short-term) or durable (long-term), plus per-session turn counters.
//
// InMemoryStore serves tests and single-process deployments; SQLiteStore lets
// several engine instances share flow state through one database file.
package memory
