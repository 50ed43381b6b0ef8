// Package session wires the schema client to a language server connection.
//
// A Session owns its dependencies explicitly; nothing is reached through
// package-level state, so several sessions can run side by side.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/yaml-schema-client/pkg/associations"
	"github.com/Sternrassler/yaml-schema-client/pkg/contentprovider"
	"github.com/Sternrassler/yaml-schema-client/pkg/contributor"
	"github.com/Sternrassler/yaml-schema-client/pkg/rpc"
	"github.com/Sternrassler/yaml-schema-client/pkg/statusbar"
	"github.com/Sternrassler/yaml-schema-client/pkg/telemetry"
)

// Methods exchanged with the language server.
const (
	MethodSchemaRequest = "custom/schema/request"
	MethodSchemaContent = "custom/schema/content"
	MethodVSCodeContent = "vscode/content"
	MethodSchemaModify  = "json/schema/modify"

	MethodDidChangeConfiguration = "workspace/didChangeConfiguration"
)

// ErrNoSettings is returned by SelectSchema when the session was created
// without a settings store.
var ErrNoSettings = errors.New("session: no schema settings")

// Conn is the part of *rpc.Conn a Session uses.
type Conn interface {
	rpc.Requester
	rpc.Notifier
	OnRequest(method string, h rpc.Handler)
}

// ModificationAction selects what a SchemaModification does.
type ModificationAction int

const (
	// ActionDelete removes Key at Path.
	ActionDelete ModificationAction = iota
	// ActionAdd sets Key at Path to Content.
	ActionAdd
)

// SchemaModification edits a schema held by the language server.
type SchemaModification struct {
	Schema  string             `json:"schema"`
	Action  ModificationAction `json:"action"`
	Path    string             `json:"path"`
	Key     string             `json:"key"`
	Content any                `json:"content,omitempty"`
}

// Options holds the dependencies of a Session.
type Options struct {
	Conn         Conn
	Fetcher      contentprovider.Fetcher
	Registry     *contributor.Registry
	Associations associations.Associations
	Telemetry    telemetry.Service
	Logger       *zerolog.Logger

	// Settings backs schema selections made through SelectSchema.
	Settings statusbar.SchemaSettings
}

// Session serves schema requests from the language server.
type Session struct {
	conn         Conn
	fetcher      contentprovider.Fetcher
	registry     *contributor.Registry
	provider     *contentprovider.Provider
	associations associations.Associations
	telemetry    telemetry.Service
	logger       zerolog.Logger

	statusbar *statusbar.Controller
	settings  statusbar.SchemaSettings
}

// New validates opts and creates a Session.
func New(opts Options) (*Session, error) {
	if opts.Conn == nil {
		return nil, errors.New("session: conn is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("session: fetcher is required")
	}
	if opts.Registry == nil {
		opts.Registry = contributor.NewRegistry()
	}
	if opts.Associations == nil {
		opts.Associations = associations.Associations{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop{}
	}

	logger := log.With().Str("component", "session").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Session{
		conn:         opts.Conn,
		fetcher:      opts.Fetcher,
		registry:     opts.Registry,
		provider:     contentprovider.New(opts.Fetcher, opts.Registry),
		associations: opts.Associations,
		telemetry:    opts.Telemetry,
		logger:       logger,
		statusbar:    statusbar.NewController(opts.Conn),
		settings:     opts.Settings,
	}, nil
}

// Registry returns the contributor registry served by the session.
func (s *Session) Registry() *contributor.Registry {
	return s.registry
}

// Start registers the request handlers and pushes the schema associations.
func (s *Session) Start(ctx context.Context) error {
	s.conn.OnRequest(MethodSchemaRequest, s.handleSchemaRequest)
	s.conn.OnRequest(MethodSchemaContent, s.handleSchemaContent)
	s.conn.OnRequest(MethodVSCodeContent, s.handleVSCodeContent)

	if err := s.conn.SendNotification(associations.Notification, s.associations); err != nil {
		return fmt.Errorf("send %s: %w", associations.Notification, err)
	}

	s.logger.Info().Int("patterns", len(s.associations)).Msg("Session started")
	s.telemetry.SendStartupEvent(ctx)
	return nil
}

// StatusItem renders the schema indicator for doc.
func (s *Session) StatusItem(ctx context.Context, doc statusbar.Document) (statusbar.Item, error) {
	return s.statusbar.Update(ctx, doc)
}

// SchemaItems lists the schemas the language server knows for fileURI.
func (s *Session) SchemaItems(ctx context.Context, fileURI string) ([]statusbar.PickItem, error) {
	return s.statusbar.Items(ctx, fileURI)
}

// SelectSchema binds fileURI to schemaURI in yaml.schemas and pushes the
// updated setting to the language server.
func (s *Session) SelectSchema(ctx context.Context, fileURI, schemaURI string) error {
	if s.settings == nil {
		return ErrNoSettings
	}

	picked := statusbar.PickItem{Schema: statusbar.MatchingJSONSchema{
		JSONSchema: statusbar.JSONSchema{URI: schemaURI},
	}}
	if err := s.statusbar.Select(s.settings, fileURI, picked); err != nil {
		return err
	}

	params := map[string]any{
		"settings": map[string]any{
			"yaml": map[string]any{"schemas": s.settings.Schemas()},
		},
	}
	if err := s.conn.SendNotification(MethodDidChangeConfiguration, params); err != nil {
		return fmt.Errorf("send %s: %w", MethodDidChangeConfiguration, err)
	}

	s.logger.Info().Str("file", fileURI).Str("schema", schemaURI).Msg("Schema selected")
	return nil
}

// ModifySchemaContent asks the language server to edit a schema.
func (s *Session) ModifySchemaContent(ctx context.Context, mod SchemaModification) error {
	if err := s.conn.SendRequest(ctx, MethodSchemaModify, mod, nil); err != nil {
		return fmt.Errorf("%s: %w", MethodSchemaModify, err)
	}
	return nil
}

// schemaRequest is the object form of custom/schema/request parameters.
type schemaRequest struct {
	Resource string `json:"resource"`
	Label    string `json:"label"`
}

func (s *Session) handleSchemaRequest(_ context.Context, params json.RawMessage) (any, error) {
	var req schemaRequest
	if err := json.Unmarshal(params, &req.Resource); err != nil {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &rpc.Error{Code: rpc.CodeInvalidParams, Message: "expected resource string"}
		}
	}

	uri, ok := s.registry.Resolve(req.Resource, req.Label)
	if !ok {
		return nil, nil
	}
	return uri, nil
}

func (s *Session) handleSchemaContent(_ context.Context, params json.RawMessage) (any, error) {
	var uri string
	if err := json.Unmarshal(params, &uri); err != nil {
		return nil, &rpc.Error{Code: rpc.CodeInvalidParams, Message: "expected uri string"}
	}
	return s.registry.Content(uri)
}

func (s *Session) handleVSCodeContent(ctx context.Context, params json.RawMessage) (any, error) {
	var uri string
	if err := json.Unmarshal(params, &uri); err != nil {
		return nil, &rpc.Error{Code: rpc.CodeInvalidParams, Message: "expected uri string"}
	}

	if strings.HasPrefix(uri, contentprovider.Scheme+"://") {
		return s.provider.Provide(ctx, uri)
	}
	return s.fetcher.GetContent(ctx, uri)
}
