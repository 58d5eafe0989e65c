// Package cache implements the namespaced response store behind the offline
// cache policy. A Store holds any number of namespaces (one per cache
// generation, e.g. "app-v3"); each namespace maps a request key to the last
// stored response. Backends are interchangeable: the disk store writes a body
// file plus a JSON sidecar per entry (temp file + rename), the sqlite store
// keeps everything in one database file, and the redis store shares entries
// between proxy instances. NewMemoryLayer puts a ristretto cache in front of
// any backend for hot entries.
package cache
