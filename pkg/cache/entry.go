package cache

// IndexKey is the store key under which the whole Index is persisted.
const IndexKey = "json-schema-key"

// CacheDir is the directory, relative to the global storage path, holding schema blobs.
const CacheDir = "schemas_cache"

// CacheEntry describes one cached schema.
type CacheEntry struct {
	// ETag from the last response that delivered content (If-None-Match)
	ETag string `json:"eTag,omitempty"`
	// SchemaPath is the blob file name inside the cache directory
	SchemaPath string `json:"schemaPath"`
}

// HasETag reports whether a conditional request can be made for this entry.
func (e *CacheEntry) HasETag() bool {
	return e != nil && e.ETag != ""
}

// Index maps schema URI to its cache entry.
type Index map[string]*CacheEntry

// clone returns a deep copy suitable for handing to callers.
func (idx Index) clone() map[string]CacheEntry {
	out := make(map[string]CacheEntry, len(idx))
	for uri, entry := range idx {
		if entry != nil {
			out[uri] = *entry
		}
	}
	return out
}
