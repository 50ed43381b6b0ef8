package prefetch

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds warmer configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel fetches
	MaxConcurrency int
	// Timeout per schema fetch
	Timeout time.Duration
}

// DefaultConfig returns the default warmer configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        30 * time.Second,
	}
}

// Fetcher fetches schema content. *client.Client implements it.
type Fetcher interface {
	GetContent(ctx context.Context, uri string) (string, error)
}

// Result is the outcome of warming a single URI.
type Result struct {
	URI   string
	Error error
}

// Report summarizes a Warm call.
type Report struct {
	Fetched int
	Failed  map[string]error
}

// Warmer fetches schemas in parallel.
type Warmer struct {
	fetcher Fetcher
	config  Config
}

// NewWarmer creates a new warmer.
func NewWarmer(fetcher Fetcher, config Config) *Warmer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &Warmer{
		fetcher: fetcher,
		config:  config,
	}
}

// Warm fetches every uri once. Failures do not stop the remaining fetches.
func (w *Warmer) Warm(ctx context.Context, uris []string) Report {
	start := time.Now()
	uris = dedupe(uris)
	report := Report{Failed: make(map[string]error)}
	if len(uris) == 0 {
		return report
	}

	log.Info().
		Int("schemas", len(uris)).
		Int("workers", w.config.MaxConcurrency).
		Msg("Warming schema cache")

	queue := make(chan string, len(uris))
	results := make(chan Result, len(uris))
	for _, uri := range uris {
		queue <- uri
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < w.config.MaxConcurrency; i++ {
		wg.Add(1)
		go w.worker(ctx, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for result := range results {
		if result.Error != nil {
			report.Failed[result.URI] = result.Error
			continue
		}
		report.Fetched++
	}

	log.Info().
		Int("fetched", report.Fetched).
		Int("failed", len(report.Failed)).
		Dur("duration", time.Since(start)).
		Msg("Schema cache warm-up complete")

	return report
}

func (w *Warmer) worker(ctx context.Context, queue <-chan string, results chan<- Result, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	fetched := 0

	for uri := range queue {
		select {
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("fetched", fetched).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
		_, err := w.fetcher.GetContent(fetchCtx, uri)
		cancel()

		if err != nil {
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Str("uri", uri).
				Msg("Schema prefetch failed")
		} else {
			fetched++
		}
		results <- Result{URI: uri, Error: err}
	}
}

// SchemaURIs collects the remote schema URIs referenced by yaml.schemas and
// by extension associations.
func SchemaURIs(schemas map[string]any, associations map[string][]string) []string {
	var uris []string
	for uri := range schemas {
		uris = append(uris, uri)
	}
	for _, list := range associations {
		uris = append(uris, list...)
	}
	return dedupe(uris)
}

// dedupe keeps http(s) URIs only, sorted and without duplicates.
func dedupe(uris []string) []string {
	seen := make(map[string]bool, len(uris))
	out := make([]string, 0, len(uris))
	for _, uri := range uris {
		if seen[uri] || !isRemote(uri) {
			continue
		}
		seen[uri] = true
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

func isRemote(uri string) bool {
	lower := strings.ToLower(uri)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
