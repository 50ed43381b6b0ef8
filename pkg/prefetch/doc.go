// Package prefetch warms the schema cache for a set of schema URIs.
//
// Schemas named in yaml.schemas and in extension manifests are fetched once at
// startup so that the first validation of a matching file does not wait on the
// network, and so that they are available offline afterwards.
//
// Example usage:
//
//	warmer := prefetch.NewWarmer(schemaClient, prefetch.DefaultConfig())
//	report := warmer.Warm(ctx, prefetch.SchemaURIs(cfg.YAML.Schemas, associations))
//
// The warmer:
//   - Deduplicates the URIs and skips anything that is not http(s)
//   - Spawns a worker pool (default 4 workers)
//   - Logs failures and keeps going, reporting them per URI
package prefetch
