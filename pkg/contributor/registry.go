// Package contributor routes schema lookups to providers registered per URI scheme.
//
// Providers are third-party code: every call into one runs inside an error
// boundary, so a failing or panicking provider is logged and skipped without
// affecting the others.
package contributor

import (
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Common errors returned by the registry.
var (
	// ErrNilContributor is returned when registering a nil provider.
	ErrNilContributor = errors.New("contributor cannot be nil")

	// ErrEmptyScheme is returned when registering without a scheme.
	ErrEmptyScheme = errors.New("scheme cannot be empty")

	// ErrNoProvider is returned when no provider is registered for a URI's scheme.
	ErrNoProvider = errors.New("no schema contributor for scheme")
)

// Contributor supplies schema URIs for resources and the content behind them.
type Contributor interface {
	// RequestSchema returns the schema URI for resource, or "" when the
	// contributor has no opinion.
	RequestSchema(resource string) (string, error)

	// RequestSchemaContent returns the schema text for uri.
	RequestSchemaContent(uri string) (string, error)
}

// LabelMatcher is implemented by contributors that can be preferred by label.
type LabelMatcher interface {
	MatchLabel(label string) bool
}

// ContentModifier rewrites content returned by a contributor before it is served.
type ContentModifier func(content string) (string, error)

// Funcs adapts plain functions to Contributor and LabelMatcher.
type Funcs struct {
	Schema  func(resource string) (string, error)
	Content func(uri string) (string, error)
	Label   string
}

// RequestSchema implements Contributor.
func (f Funcs) RequestSchema(resource string) (string, error) {
	if f.Schema == nil {
		return "", nil
	}
	return f.Schema(resource)
}

// RequestSchemaContent implements Contributor.
func (f Funcs) RequestSchemaContent(uri string) (string, error) {
	if f.Content == nil {
		return "", fmt.Errorf("contributor has no content for %s", uri)
	}
	return f.Content(uri)
}

// MatchLabel implements LabelMatcher.
func (f Funcs) MatchLabel(label string) bool {
	return f.Label != "" && f.Label == label
}

type registration struct {
	scheme      string
	contributor Contributor
}

// Registry maps URI schemes to contributors. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	order     []registration
	byScheme  map[string]Contributor
	modifiers map[string]ContentModifier
	logger    zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byScheme:  make(map[string]Contributor),
		modifiers: make(map[string]ContentModifier),
		logger:    log.With().Str("component", "contributor").Logger(),
	}
}

// Register adds c for scheme. It reports false when the scheme is already taken.
func (r *Registry) Register(scheme string, c Contributor) (bool, error) {
	if scheme == "" {
		return false, ErrEmptyScheme
	}
	if c == nil {
		return false, ErrNilContributor
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byScheme[scheme]; exists {
		return false, nil
	}
	r.byScheme[scheme] = c
	r.order = append(r.order, registration{scheme: scheme, contributor: c})

	r.logger.Debug().Str("scheme", scheme).Msg("Registered schema contributor")
	return true, nil
}

// RegisterContentModifier installs fn to post-process content served for scheme.
// A later call replaces the earlier modifier.
func (r *Registry) RegisterContentModifier(scheme string, fn ContentModifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.modifiers, scheme)
		return
	}
	r.modifiers[scheme] = fn
}

// HasProvider reports whether a contributor is registered for scheme.
func (r *Registry) HasProvider(scheme string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byScheme[scheme]
	return ok
}

// Resolve asks every contributor, in registration order, for the schema of
// resource. The first contributor matching preferredLabel with a non-empty
// answer wins; otherwise the first non-empty answer does.
func (r *Registry) Resolve(resource, preferredLabel string) (string, bool) {
	r.mu.RLock()
	order := append([]registration(nil), r.order...)
	r.mu.RUnlock()

	var first string
	for _, reg := range order {
		uri, err := r.requestSchema(reg, resource)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("scheme", reg.scheme).
				Str("resource", resource).
				Msg("Schema contributor failed, skipping")
			continue
		}
		if uri == "" {
			continue
		}

		if preferredLabel != "" {
			if m, ok := reg.contributor.(LabelMatcher); ok && safeMatch(m, preferredLabel) {
				return uri, true
			}
		}
		if first == "" {
			first = uri
			if preferredLabel == "" {
				return first, true
			}
		}
	}

	return first, first != ""
}

// Content returns the schema text for uri from the contributor registered
// for its scheme, passed through that scheme's content modifier.
func (r *Registry) Content(uri string) (content string, err error) {
	scheme := Scheme(uri)

	r.mu.RLock()
	c, ok := r.byScheme[scheme]
	modify := r.modifiers[scheme]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w %q", ErrNoProvider, scheme)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("contributor %q panicked: %v", scheme, p)
		}
	}()

	content, err = c.RequestSchemaContent(uri)
	if err != nil {
		return "", fmt.Errorf("contributor %q: %w", scheme, err)
	}
	if modify != nil {
		content, err = modify(content)
		if err != nil {
			return "", fmt.Errorf("content modifier %q: %w", scheme, err)
		}
	}
	return content, nil
}

func (r *Registry) requestSchema(reg registration, resource string) (uri string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return reg.contributor.RequestSchema(resource)
}

func safeMatch(m LabelMatcher, label string) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	return m.MatchLabel(label)
}

// Scheme returns the scheme of uri, or "" when it has none.
func Scheme(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Scheme
}
