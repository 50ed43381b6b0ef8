// Package statusbar computes the schema indicator shown for the active YAML
// document and applies schema selections to the yaml.schemas setting.
package statusbar

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Sternrassler/yaml-schema-client/pkg/rpc"
)

// Requests sent to the language server.
const (
	MethodGetSchema     = "yaml/get/jsonSchema"
	MethodGetAllSchemas = "yaml/get/all/jsonSchemas"
)

// Command is invoked when the indicator is clicked.
const Command = "yaml.select.json.schema"

// WarningBackground is the theme color used when several schemas apply.
const WarningBackground = "statusBarItem.warningBackground"

const (
	textNoSchema      = "No JSON Schema"
	textMultiple      = "Multiple JSON Schemas..."
	tooltipSelect     = "Select JSON Schema"
	tooltipMultiple   = "Multiple JSON Schema used to validate this file, click to select one"
	detailUsedForFile = "Used for current file$(check)"
	languageYAML      = "yaml"
)

// Document identifies the active editor document.
type Document struct {
	URI        string
	LanguageID string
}

// JSONSchema describes a schema applied to a document.
type JSONSchema struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	URI         string `json:"uri"`
}

// Label returns the name, or the URI when unnamed.
func (s JSONSchema) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.URI
}

// MatchingJSONSchema is a schema known to the server for a document.
type MatchingJSONSchema struct {
	JSONSchema
	UsedForCurrentFile bool `json:"usedForCurrentFile"`
	FromStore          bool `json:"fromStore"`
}

// Item is the rendered indicator state.
type Item struct {
	Visible    bool
	Text       string
	Tooltip    string
	Background string
	Command    string
}

// PickItem is one entry of the schema picker.
type PickItem struct {
	Label       string
	Description string
	Detail      string
	AlwaysShow  bool
	Schema      MatchingJSONSchema
}

// SchemaSettings reads and writes the yaml.schemas setting.
type SchemaSettings interface {
	Schemas() map[string]any
	SetSchemas(schemas map[string]any) error
}

// Controller drives the indicator from language server queries.
type Controller struct {
	requester rpc.Requester
}

// NewController creates a Controller.
func NewController(requester rpc.Requester) *Controller {
	if requester == nil {
		panic("requester cannot be nil")
	}
	return &Controller{requester: requester}
}

// Update renders the indicator for doc. Non-YAML documents hide it.
func (c *Controller) Update(ctx context.Context, doc Document) (Item, error) {
	if doc.LanguageID != languageYAML {
		return Item{Visible: false, Command: Command}, nil
	}

	var schemas []JSONSchema
	if err := c.requester.SendRequest(ctx, MethodGetSchema, doc.URI, &schemas); err != nil {
		return Item{}, fmt.Errorf("%s: %w", MethodGetSchema, err)
	}

	return Render(schemas), nil
}

// Render builds the visible indicator for the schemas applied to a document.
func Render(schemas []JSONSchema) Item {
	item := Item{Visible: true, Command: Command, Tooltip: tooltipSelect}

	switch len(schemas) {
	case 0:
		item.Text = textNoSchema
	case 1:
		item.Text = schemas[0].Label()
	default:
		item.Text = textMultiple
		item.Tooltip = tooltipMultiple
		item.Background = WarningBackground
	}
	return item
}

// Items lists the schemas available for fileURI, current ones first, then by label.
func (c *Controller) Items(ctx context.Context, fileURI string) ([]PickItem, error) {
	var schemas []MatchingJSONSchema
	if err := c.requester.SendRequest(ctx, MethodGetAllSchemas, fileURI, &schemas); err != nil {
		return nil, fmt.Errorf("%s: %w", MethodGetAllSchemas, err)
	}

	items := make([]PickItem, 0, len(schemas))
	for _, s := range schemas {
		item := PickItem{
			Label:       s.Label(),
			Description: s.Description,
			AlwaysShow:  s.UsedForCurrentFile,
			Schema:      s,
		}
		if s.UsedForCurrentFile {
			item.Detail = detailUsedForFile
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Schema.UsedForCurrentFile != b.Schema.UsedForCurrentFile {
			return a.Schema.UsedForCurrentFile
		}
		return strings.Compare(a.Label, b.Label) < 0
	})

	return items, nil
}

// Select associates fileURI with the picked schema and persists the setting.
func (c *Controller) Select(settings SchemaSettings, fileURI string, picked PickItem) error {
	updated := ApplySelection(settings.Schemas(), fileURI, picked.Schema.URI)
	if err := settings.SetSchemas(updated); err != nil {
		return fmt.Errorf("update yaml.schemas: %w", err)
	}
	return nil
}

// ApplySelection returns a copy of schemas in which fileURI is removed from
// every existing pattern and associated with schemaURI instead.
func ApplySelection(schemas map[string]any, fileURI, schemaURI string) map[string]any {
	updated := make(map[string]any, len(schemas)+1)
	for key, value := range schemas {
		updated[key] = value
	}

	removeFilePattern(updated, fileURI)

	switch existing := updated[schemaURI].(type) {
	case []any:
		updated[schemaURI] = append(existing, fileURI)
	case []string:
		list := make([]any, 0, len(existing)+1)
		for _, s := range existing {
			list = append(list, s)
		}
		updated[schemaURI] = append(list, fileURI)
	case string:
		if existing == "" {
			updated[schemaURI] = fileURI
		} else {
			updated[schemaURI] = []any{existing, fileURI}
		}
	default:
		updated[schemaURI] = fileURI
	}

	return updated
}

// removeFilePattern drops fileURI from list values and deletes keys mapped to it.
func removeFilePattern(schemas map[string]any, fileURI string) {
	for key, value := range schemas {
		switch v := value.(type) {
		case []any:
			kept := make([]any, 0, len(v))
			for _, p := range v {
				if p != fileURI {
					kept = append(kept, p)
				}
			}
			schemas[key] = kept
		case []string:
			kept := make([]any, 0, len(v))
			for _, p := range v {
				if p != fileURI {
					kept = append(kept, p)
				}
			}
			schemas[key] = kept
		case string:
			if v == fileURI {
				delete(schemas, key)
			}
		}
	}
}
