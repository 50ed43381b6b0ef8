package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/yaml-schema-client/pkg/store"
)

// ErrNotInitialized indicates the cache storage could not be prepared.
var ErrNotInitialized = errors.New("schema cache not initialized")

// Manager is the persistent schema content cache.
//
// It is safe for concurrent use. Concurrent PutSchema calls for the same URI
// are serialised and the last writer wins.
type Manager struct {
	dir    string
	state  store.Store
	fs     Filesystem
	logger zerolog.Logger

	mu          sync.Mutex
	index       Index
	initialized bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithFilesystem replaces the blob storage (defaults to OSFilesystem).
func WithFilesystem(fs Filesystem) Option {
	return func(m *Manager) {
		m.fs = fs
	}
}

// WithLogger sets the logger used for best-effort diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a cache rooted at <globalStoragePath>/schemas_cache whose
// index lives in state. No I/O happens until the first operation.
func NewManager(globalStoragePath string, state store.Store, opts ...Option) *Manager {
	if state == nil {
		panic("state store cannot be nil")
	}

	m := &Manager{
		dir:    filepath.Join(globalStoragePath, CacheDir),
		state:  state,
		fs:     OSFilesystem{},
		logger: log.With().Str("component", "schema-cache").Logger(),
		index:  make(Index),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the blob directory.
func (m *Manager) Dir() string {
	return m.dir
}

// ETag returns the freshness token recorded for uri.
func (m *Manager) ETag(ctx context.Context, uri string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initLocked(ctx); err != nil {
		return "", false
	}

	entry, ok := m.index[uri]
	if !ok || !entry.HasETag() {
		return "", false
	}
	return entry.ETag, true
}

// PutSchema stores content and its ETag for uri.
//
// Caching is best effort: on failure the entry for uri is dropped from the
// index, the error is logged and false is returned.
func (m *Manager) PutSchema(ctx context.Context, uri, etag string, content []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initLocked(ctx); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		m.logger.Warn().Err(err).Str("uri", uri).Msg("Cannot cache schema")
		return false
	}

	entry, ok := m.index[uri]
	if !ok {
		entry = &CacheEntry{SchemaPath: StorageKey(uri)}
		m.index[uri] = entry
	}
	entry.ETag = etag

	if err := m.fs.WriteFile(m.blobPath(entry.SchemaPath), content); err != nil {
		m.rollbackLocked(ctx, uri, fmt.Errorf("write schema blob: %w", err))
		return false
	}

	if err := m.state.Update(ctx, IndexKey, m.index); err != nil {
		m.rollbackLocked(ctx, uri, fmt.Errorf("persist schema index: %w", err))
		return false
	}

	CacheBytesWritten.Add(float64(len(content)))
	m.logger.Debug().
		Str("uri", uri).
		Str("etag", etag).
		Int("bytes", len(content)).
		Msg("Cached schema")

	return true
}

// GetSchema returns the cached content for uri.
// A missing blob is reported as a miss; the index is repaired on the next start.
func (m *Manager) GetSchema(ctx context.Context, uri string) (string, bool) {
	m.mu.Lock()
	if err := m.initLocked(ctx); err != nil {
		m.mu.Unlock()
		CacheMisses.Inc()
		return "", false
	}
	entry, ok := m.index[uri]
	var path string
	if ok {
		path = m.blobPath(entry.SchemaPath)
	}
	m.mu.Unlock()

	if !ok {
		CacheMisses.Inc()
		return "", false
	}

	exists, err := m.fs.PathExists(path)
	if err != nil || !exists {
		if err != nil {
			CacheErrors.WithLabelValues("get").Inc()
		}
		CacheMisses.Inc()
		m.logger.Debug().Str("uri", uri).Msg("Schema blob missing for index entry")
		return "", false
	}

	data, err := m.fs.ReadFile(path)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		CacheMisses.Inc()
		m.logger.Warn().Err(err).Str("uri", uri).Msg("Failed to read cached schema")
		return "", false
	}

	CacheHits.Inc()
	return string(data), true
}

// Entries returns a snapshot of the index.
func (m *Manager) Entries(ctx context.Context) (map[string]CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initLocked(ctx); err != nil {
		return nil, err
	}
	return m.index.clone(), nil
}

// initLocked loads the index and prunes entries without a blob.
// It runs once per Manager; a failed attempt is retried on the next call.
func (m *Manager) initLocked(ctx context.Context) error {
	if m.initialized {
		return nil
	}

	var persisted Index
	found, err := m.state.Get(ctx, IndexKey, &persisted)
	if err != nil {
		CacheErrors.WithLabelValues("init").Inc()
		m.logger.Warn().Err(err).Msg("Schema index unreadable, starting empty")
	}
	if found && persisted != nil {
		m.index = persisted
	}

	if err := m.fs.EnsureDir(m.dir); err != nil {
		CacheErrors.WithLabelValues("init").Inc()
		m.logger.Error().Err(err).Str("dir", m.dir).Msg("Failed to create schema cache dir")
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}

	names, err := m.fs.ListEntries(m.dir)
	if err != nil {
		CacheErrors.WithLabelValues("init").Inc()
		m.logger.Error().Err(err).Str("dir", m.dir).Msg("Failed to list schema cache dir")
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}

	present := make(map[string]struct{}, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, tempPrefix) {
			// Left behind by an interrupted write.
			if err := m.fs.Remove(filepath.Join(m.dir, name)); err != nil {
				m.logger.Warn().Err(err).Str("file", name).Msg("Failed to remove stale temp file")
			}
			continue
		}
		present[name] = struct{}{}
	}

	pruned := 0
	for uri, entry := range m.index {
		if entry == nil {
			delete(m.index, uri)
			pruned++
			continue
		}
		if _, ok := present[entry.SchemaPath]; !ok {
			delete(m.index, uri)
			pruned++
		}
	}
	CachePruned.Add(float64(pruned))

	if err := m.state.Update(ctx, IndexKey, m.index); err != nil {
		CacheErrors.WithLabelValues("init").Inc()
		m.logger.Warn().Err(err).Msg("Failed to persist pruned schema index")
	}

	m.initialized = true
	m.logger.Debug().
		Int("entries", len(m.index)).
		Int("pruned", pruned).
		Msg("Schema cache initialized")

	return nil
}

func (m *Manager) rollbackLocked(ctx context.Context, uri string, cause error) {
	delete(m.index, uri)
	CacheErrors.WithLabelValues("put").Inc()
	m.logger.Warn().Err(cause).Str("uri", uri).Msg("Failed to cache schema, entry removed")

	if err := m.state.Update(ctx, IndexKey, m.index); err != nil {
		m.logger.Debug().Err(err).Msg("Failed to persist index after rollback")
	}
}

func (m *Manager) blobPath(key string) string {
	return filepath.Join(m.dir, key)
}
