// Package engine orchestrates synchronization between the local deck store
// and the remote key-value backend.
//
// The engine implements a local-first design:
//
//  1. Saves land in the durable local store immediately and increment the
//     local revision counter. The caller never waits on the network.
//  2. A background push propagates the payload to the backend: a metadata
//     record is written first, then the payload chunks in order, then any
//     now-unused trailing chunks from a previous larger write are removed.
//  3. Before writing, the push re-reads the server's metadata record. If
//     the server's revision is ahead of the local one, the push is a
//     conflict: local unsynced changes are discarded and the server's
//     payload is pulled down (server wins; no merge).
//  4. A periodic loop retries the push while unsaved changes remain.
//
// Pushes are throttled to a minimum inter-attempt interval and guarded
// against re-entry, so bursts of saves collapse into one write pass.
// Chunk writes within a pass are strictly sequential; the backend is
// rate-sensitive and the metadata record must be durable before chunks go
// out. A reader that observes a metadata/chunk mismatch mid-write treats
// the remote data as unusable and falls back to its local cache.
//
// Sync failures never propagate across the save boundary: local
// persistence has already succeeded, so failures only surface through the
// revision tracker's status subscription. The worst case is operating on
// local-only data with unsaved changes indefinitely.
//
// The engine also performs a one-time migration of data written under the
// legacy remote layout (a chunk count without a revision field) into the
// current layout; see MigrateLegacyLayout.
package engine
