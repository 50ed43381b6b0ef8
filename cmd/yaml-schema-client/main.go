package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/yaml-schema-client/pkg/associations"
	"github.com/Sternrassler/yaml-schema-client/pkg/cache"
	"github.com/Sternrassler/yaml-schema-client/pkg/client"
	"github.com/Sternrassler/yaml-schema-client/pkg/config"
	"github.com/Sternrassler/yaml-schema-client/pkg/conflicts"
	"github.com/Sternrassler/yaml-schema-client/pkg/contributor"
	"github.com/Sternrassler/yaml-schema-client/pkg/logging"
	"github.com/Sternrassler/yaml-schema-client/pkg/metrics"
	"github.com/Sternrassler/yaml-schema-client/pkg/prefetch"
	"github.com/Sternrassler/yaml-schema-client/pkg/recommendation"
	"github.com/Sternrassler/yaml-schema-client/pkg/rpc"
	"github.com/Sternrassler/yaml-schema-client/pkg/session"
	"github.com/Sternrassler/yaml-schema-client/pkg/statusbar"
	"github.com/Sternrassler/yaml-schema-client/pkg/store"
	"github.com/Sternrassler/yaml-schema-client/pkg/telemetry"
)

// stateFile holds the file-backed durable state inside the storage path.
const stateFile = "state.json"

// options are the command line flags.
type options struct {
	configPath string
	fetchURI   string
	ephemeral  bool
	// recommendationChoice records an answer to the OpenShift Toolkit
	// recommendation and exits.
	recommendationChoice string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to the settings file (yaml, toml or json)")
	flag.StringVar(&opts.fetchURI, "fetch", "", "fetch one schema, print it and exit")
	flag.BoolVar(&opts.ephemeral, "ephemeral", false, "keep the cache index in memory only")
	flag.StringVar(&opts.recommendationChoice, "recommendation", "",
		"record the answer to the OpenShift Toolkit recommendation (Install, Never or Later) and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Error().Err(err).Msg("yaml-schema-client stopped")
		logging.Close()
		os.Exit(1)
	}
	logging.Close()
}

func run(ctx context.Context, opts options) error {
	cfgManager, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	cfg := cfgManager.Current()
	if opts.ephemeral {
		cfg.Storage.Backend = config.BackendMemory
	}

	logging.Setup(cfg.Log)
	logger := logging.NewLogger("main")

	state, closeState, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeState()

	cacheManager := cache.NewManager(cfg.Storage.Path, state)

	clientCfg := client.DefaultConfig(cacheManager)
	clientCfg.Proxy = cfg.HTTP.ProxyConfig
	clientCfg.Timeout = cfg.HTTP.Timeout
	schemaClient, err := client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("create schema client: %w", err)
	}
	defer schemaClient.Close()

	if opts.fetchURI != "" {
		content, err := schemaClient.GetContent(ctx, opts.fetchURI)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", opts.fetchURI, err)
		}
		fmt.Fprintln(os.Stdout, content)
		return nil
	}

	cfgManager.OnChange(func(next config.Config) {
		if err := schemaClient.UpdateProxy(next.HTTP.ProxyConfig); err != nil {
			logger.Warn().Err(err).Msg("Ignoring proxy settings")
		}
	})
	cfgManager.Watch()

	manifests, err := associations.LoadManifests(cfg.Extensions.Dirs)
	if err != nil {
		logger.Warn().Err(err).Msg("Extension manifests unavailable")
	}
	schemaAssociations := associations.FromManifests(manifests)

	recommender := recommendation.NewHandler(state, installedIDs(manifests))
	if opts.recommendationChoice != "" {
		choice, err := recommendation.ParseChoice(opts.recommendationChoice)
		if err != nil {
			return err
		}
		return recommender.Record(ctx, recommendation.OpenShiftToolkit, choice)
	}

	reportConflicts(logger, manifests)
	reportRecommendation(ctx, logger, recommender, cfg)

	registry := contributor.NewRegistry()
	events := telemetry.NewLogService()

	var active atomic.Pointer[session.Session]

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr: cfg.Metrics.Addr,
			Handler: newMux(api{
				schemas: schemaClient,
				allowed: func(uri string) bool {
					_, ok := slices.BinarySearch(prefetch.SchemaURIs(cfgManager.Schemas(), schemaAssociations), uri)
					return ok
				},
				session: func() schemaSelector {
					if s := active.Load(); s != nil {
						return s
					}
					return nil
				},
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer srv.Close()
	}

	server := session.NewServerProcess(session.ServerConfig{
		Path:        cfg.Server.Path,
		Args:        cfg.Server.Args,
		MaxRestarts: cfg.Server.MaxRestarts,
		Telemetry:   events,
		Setup: func(ctx context.Context, conn *rpc.Conn) error {
			s, err := session.New(session.Options{
				Conn:         conn,
				Fetcher:      schemaClient,
				Registry:     registry,
				Associations: schemaAssociations,
				Telemetry:    events,
				Settings:     cfgManager,
			})
			if err != nil {
				return err
			}
			if err := s.Start(ctx); err != nil {
				return err
			}
			active.Store(s)
			return nil
		},
	})
	server.SetInitializationOptions(map[string]any{
		"yaml": map[string]any{"schemas": cfgManager.Schemas()},
	})

	go prefetch.NewWarmer(schemaClient, prefetch.DefaultConfig()).
		Warm(ctx, prefetch.SchemaURIs(cfg.YAML.Schemas, schemaAssociations))

	logger.Info().
		Str("storage", cfg.Storage.Path).
		Str("backend", cfg.Storage.Backend).
		Str("server", cfg.Server.Path).
		Msg("Starting yaml-schema-client")

	err = server.Run(ctx)
	events.SendShutdownEvent(context.WithoutCancel(ctx))
	return err
}

// openStore opens the durable state backend named in cfg.
// The returned func releases it.
func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemoryStore(), func() {}, nil

	case config.BackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
		return store.NewRedisStore(redisClient, ""), func() { redisClient.Close() }, nil

	default:
		fileStore, err := store.NewFileStore(filepath.Join(cfg.Path, stateFile))
		if err != nil {
			return nil, nil, fmt.Errorf("open state file: %w", err)
		}
		return fileStore, func() {}, nil
	}
}

func reportConflicts(logger zerolog.Logger, manifests []associations.Manifest) {
	detector := conflicts.NewDetector()
	notice, ok := detector.Notification(detector.Find(conflicts.FromManifests(manifests)))
	if !ok {
		return
	}
	logger.Warn().Strs("extensions", notice.IDs).Msg(notice.Message)
}

// installedIDs returns the IDs of the extensions described by manifests.
func installedIDs(manifests []associations.Manifest) []string {
	ids := make([]string, 0, len(manifests))
	for _, m := range manifests {
		ids = append(ids, m.ID())
	}
	return ids
}

// reportRecommendation logs the companion extension notice for the
// workspace folders, or the working directory when none are configured.
func reportRecommendation(ctx context.Context, logger zerolog.Logger, handler *recommendation.Handler, cfg config.Config) {
	if !cfg.YAML.Recommendations.Show {
		return
	}

	folders := cfg.Workspace.Folders
	if len(folders) == 0 {
		if wd, err := os.Getwd(); err == nil {
			folders = []string{wd}
		}
	}

	notice, ok, err := handler.Check(ctx, folders)
	if err != nil {
		logger.Warn().Err(err).Msg("Recommendation check failed")
		return
	}
	if !ok {
		return
	}

	actions := make([]string, 0, len(notice.Actions))
	for _, a := range notice.Actions {
		actions = append(actions, string(a))
	}
	logger.Info().Str("extension", notice.Extension).Strs("actions", actions).Msg(notice.Message)
}

// schemaSelector is the part of a session served over HTTP.
type schemaSelector interface {
	StatusItem(ctx context.Context, doc statusbar.Document) (statusbar.Item, error)
	SchemaItems(ctx context.Context, fileURI string) ([]statusbar.PickItem, error)
	SelectSchema(ctx context.Context, fileURI, schemaURI string) error
}

// api holds the dependencies of the HTTP endpoints.
type api struct {
	schemas *client.Client
	// allowed reports whether /schema may fetch uri.
	allowed func(uri string) bool
	// session returns the running session, or nil before the server is up.
	session func() schemaSelector
}

func newMux(a api) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/schema", schemaHandler(a.schemas, a.allowed))
	mux.HandleFunc("GET /statusbar", statusHandler(a.session))
	mux.HandleFunc("GET /schemas", schemaItemsHandler(a.session))
	mux.HandleFunc("POST /schemas/select", selectSchemaHandler(a.session))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// schemaHandler serves GET /schema?uri=<schema uri> through the cache.
// Only URIs accepted by allowed are fetched.
func schemaHandler(schemaClient *client.Client, allowed func(string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uri := r.URL.Query().Get("uri")
		if uri == "" {
			http.Error(w, "missing uri parameter", http.StatusBadRequest)
			return
		}
		if !allowed(uri) {
			http.Error(w, "schema is not configured", http.StatusForbidden)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		content, err := schemaClient.GetContent(ctx, uri)
		if err != nil {
			http.Error(w, fmt.Sprintf("schema request failed: %v", err), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/schema+json")
		if _, err := w.Write([]byte(content)); err != nil {
			log.Warn().Err(err).Msg("Failed to write response")
		}
	}
}

// statusHandler serves GET /statusbar?uri=<file uri>&languageId=<id>.
func statusHandler(current func() schemaSelector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := activeSession(w, current)
		if !ok {
			return
		}
		doc := statusbar.Document{
			URI:        r.URL.Query().Get("uri"),
			LanguageID: r.URL.Query().Get("languageId"),
		}
		item, err := s.StatusItem(r.Context(), doc)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, item)
	}
}

// schemaItemsHandler serves GET /schemas?uri=<file uri>.
func schemaItemsHandler(current func() schemaSelector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uri := r.URL.Query().Get("uri")
		if uri == "" {
			http.Error(w, "missing uri parameter", http.StatusBadRequest)
			return
		}
		s, ok := activeSession(w, current)
		if !ok {
			return
		}
		items, err := s.SchemaItems(r.Context(), uri)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, items)
	}
}

// selectSchemaHandler serves POST /schemas/select?uri=<file uri>&schema=<schema uri>.
func selectSchemaHandler(current func() schemaSelector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uri := r.URL.Query().Get("uri")
		schema := r.URL.Query().Get("schema")
		if uri == "" || schema == "" {
			http.Error(w, "missing uri or schema parameter", http.StatusBadRequest)
			return
		}
		s, ok := activeSession(w, current)
		if !ok {
			return
		}
		if err := s.SelectSchema(r.Context(), uri, schema); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func activeSession(w http.ResponseWriter, current func() schemaSelector) (schemaSelector, bool) {
	s := current()
	if s == nil {
		http.Error(w, "language server not running", http.StatusServiceUnavailable)
		return nil, false
	}
	return s, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
