// Package cache provides persistent storage for fetched JSON schema content
// together with the ETag needed to revalidate it.
//
// The cache is split into two tiers:
//
//   - an index mapping schema URI to a CacheEntry (ETag + storage key),
//     persisted as one JSON value in a store.Store under IndexKey
//   - content blobs, one file per schema, named by the SHA-256 digest of the URI
//
// Entries never expire locally. Freshness is decided by the remote server
// through conditional requests (If-None-Match).
//
// # Basic Usage
//
//	state, _ := store.NewFileStore(filepath.Join(globalStorage, "state.json"))
//	manager := cache.NewManager(globalStorage, state)
//
//	if etag, ok := manager.ETag(ctx, uri); ok {
//		cache.AddConditionalHeaders(req, etag)
//	}
//
//	// after a 200 carrying an ETag header
//	manager.PutSchema(ctx, uri, resp.Header.Get("ETag"), body)
//
//	// after a 304
//	content, ok := manager.GetSchema(ctx, uri)
//
// # Consistency
//
// The index and the blobs are written separately, so they can drift apart if
// the process dies between the two writes or if the blob directory is cleared
// externally. On first use the manager drops every index entry whose blob is
// missing and persists the pruned index. A failed PutSchema removes the entry
// instead of leaving it pointing at content that was never written.
//
// # Metrics
//
//   - yaml_schema_cache_hits_total - GetSchema calls served from disk
//   - yaml_schema_cache_misses_total - GetSchema calls with no usable blob
//   - yaml_schema_cache_pruned_total - Orphaned index entries removed at init
//   - yaml_schema_cache_written_bytes_total - Bytes written to the blob directory
//   - yaml_schema_cache_errors_total{operation} - Cache operation errors
package cache
