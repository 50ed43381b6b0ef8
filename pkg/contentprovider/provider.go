// Package contentprovider serves json-schema:// virtual documents.
package contentprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/yaml-schema-client/pkg/contributor"
)

// Scheme is the URI scheme of schema documents opened for viewing.
const Scheme = "json-schema"

// ErrUnknownSchema is returned when a fragment names neither a web URL nor a
// registered contributor scheme.
var ErrUnknownSchema = errors.New("Unknown schema")

// Fetcher retrieves remote schema content. *client.Client implements it.
type Fetcher interface {
	GetContent(ctx context.Context, uri string) (string, error)
}

// Contributors serves content for custom schemes. *contributor.Registry implements it.
type Contributors interface {
	HasProvider(scheme string) bool
	Content(uri string) (string, error)
}

// Provider resolves json-schema:// URIs to schema text.
type Provider struct {
	fetcher      Fetcher
	contributors Contributors
}

// New creates a Provider. contributors may be nil.
func New(fetcher Fetcher, contributors Contributors) *Provider {
	if fetcher == nil {
		panic("fetcher cannot be nil")
	}
	return &Provider{fetcher: fetcher, contributors: contributors}
}

// Provide returns the document text for uri.
//
// With a fragment, the fragment names the real schema: http(s) URLs are
// fetched, custom schemes go to their contributor. Without one, the
// json-schema:// prefix is swapped for https://.
func (p *Provider) Provide(ctx context.Context, uri string) (string, error) {
	content, err := p.provide(ctx, uri)
	if err != nil {
		return "", fmt.Errorf("cannot load content for: %s: %w", uri, err)
	}
	return content, nil
}

func (p *Provider) provide(ctx context.Context, uri string) (string, error) {
	_, fragment, hasFragment := strings.Cut(uri, "#")
	if !hasFragment || fragment == "" {
		return p.fetcher.GetContent(ctx, ToHTTPS(uri))
	}

	if strings.HasPrefix(fragment, "http") {
		return p.fetcher.GetContent(ctx, fragment)
	}

	scheme := contributor.Scheme(fragment)
	if scheme != "" && p.contributors != nil && p.contributors.HasProvider(scheme) {
		content, err := p.contributors.Content(fragment)
		if err != nil {
			return "", err
		}
		return prettyJSON(content), nil
	}

	return "", ErrUnknownSchema
}

// ToHTTPS replaces a leading json-schema:// with https://.
func ToHTTPS(uri string) string {
	if rest, ok := strings.CutPrefix(uri, Scheme+"://"); ok {
		return "https://" + rest
	}
	return uri
}

// prettyJSON indents single-line JSON by two spaces. Anything else is returned unchanged.
func prettyJSON(content string) string {
	if strings.Contains(content, "\n") {
		return content
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(content), "", "  "); err != nil {
		return content
	}
	return buf.String()
}
