package statusbar

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

// fakeRequester answers requests from canned JSON results.
type fakeRequester struct {
	results map[string]string
	err     error
	params  []any
}

func (f *fakeRequester) SendRequest(_ context.Context, method string, params, result any) error {
	f.params = append(f.params, params)
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.results[method]), result)
}

type memorySettings struct {
	schemas map[string]any
	saved   map[string]any
}

func (m *memorySettings) Schemas() map[string]any { return m.schemas }

func (m *memorySettings) SetSchemas(schemas map[string]any) error {
	m.saved = schemas
	return nil
}

func TestController_Update(t *testing.T) {
	tests := []struct {
		name           string
		doc            Document
		result         string
		wantVisible    bool
		wantText       string
		wantTooltip    string
		wantBackground string
	}{
		{
			name:        "non yaml hidden",
			doc:         Document{URI: "file:///a.json", LanguageID: "json"},
			wantVisible: false,
		},
		{
			name:        "no schema",
			doc:         Document{URI: "file:///a.yaml", LanguageID: "yaml"},
			result:      `[]`,
			wantVisible: true,
			wantText:    "No JSON Schema",
			wantTooltip: "Select JSON Schema",
		},
		{
			name:        "null result",
			doc:         Document{URI: "file:///a.yaml", LanguageID: "yaml"},
			result:      `null`,
			wantVisible: true,
			wantText:    "No JSON Schema",
			wantTooltip: "Select JSON Schema",
		},
		{
			name:        "named schema",
			doc:         Document{URI: "file:///a.yaml", LanguageID: "yaml"},
			result:      `[{"name":"Helm Chart","uri":"https://json.schemastore.org/chart.json"}]`,
			wantVisible: true,
			wantText:    "Helm Chart",
			wantTooltip: "Select JSON Schema",
		},
		{
			name:        "unnamed schema",
			doc:         Document{URI: "file:///a.yaml", LanguageID: "yaml"},
			result:      `[{"uri":"https://example.com/s.json"}]`,
			wantVisible: true,
			wantText:    "https://example.com/s.json",
			wantTooltip: "Select JSON Schema",
		},
		{
			name:           "multiple schemas",
			doc:            Document{URI: "file:///a.yaml", LanguageID: "yaml"},
			result:         `[{"uri":"a"},{"uri":"b"}]`,
			wantVisible:    true,
			wantText:       "Multiple JSON Schemas...",
			wantTooltip:    "Multiple JSON Schema used to validate this file, click to select one",
			wantBackground: WarningBackground,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &fakeRequester{results: map[string]string{MethodGetSchema: tt.result}}
			item, err := NewController(req).Update(context.Background(), tt.doc)
			if err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			if item.Visible != tt.wantVisible || item.Text != tt.wantText ||
				item.Tooltip != tt.wantTooltip || item.Background != tt.wantBackground {
				t.Errorf("Update() = %+v", item)
			}
			if item.Command != Command {
				t.Errorf("Command = %q, want %q", item.Command, Command)
			}
		})
	}
}

func TestController_UpdateError(t *testing.T) {
	req := &fakeRequester{err: errors.New("server down")}
	_, err := NewController(req).Update(context.Background(), Document{URI: "file:///a.yaml", LanguageID: "yaml"})
	if err == nil {
		t.Error("Update() error = nil, want error")
	}
}

func TestController_Items(t *testing.T) {
	req := &fakeRequester{results: map[string]string{
		MethodGetAllSchemas: `[
			{"name":"Zeta","uri":"z"},
			{"uri":"https://b.example/s.json","description":"B"},
			{"name":"Alpha","uri":"a"},
			{"name":"Current","uri":"c","usedForCurrentFile":true}
		]`,
	}}

	items, err := NewController(req).Items(context.Background(), "file:///a.yaml")
	if err != nil {
		t.Fatalf("Items() error = %v", err)
	}

	var labels []string
	for _, it := range items {
		labels = append(labels, it.Label)
	}
	want := []string{"Current", "Alpha", "Zeta", "https://b.example/s.json"}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("labels = %v, want %v", labels, want)
	}
	if items[0].Detail != "Used for current file$(check)" || !items[0].AlwaysShow {
		t.Errorf("current item = %+v", items[0])
	}
	if items[3].Description != "B" {
		t.Errorf("Description = %q, want B", items[3].Description)
	}
	if req.params[0] != "file:///a.yaml" {
		t.Errorf("request params = %v", req.params[0])
	}
}

func TestApplySelection(t *testing.T) {
	const file = "file:///ws/app.yaml"

	tests := []struct {
		name     string
		settings map[string]any
		schema   string
		want     map[string]any
	}{
		{
			name:     "new schema",
			settings: map[string]any{},
			schema:   "https://s/new.json",
			want:     map[string]any{"https://s/new.json": file},
		},
		{
			name:     "string becomes list",
			settings: map[string]any{"https://s/a.json": "/other.yaml"},
			schema:   "https://s/a.json",
			want:     map[string]any{"https://s/a.json": []any{"/other.yaml", file}},
		},
		{
			name:     "appends to list",
			settings: map[string]any{"https://s/a.json": []any{"/x.yaml"}},
			schema:   "https://s/a.json",
			want:     map[string]any{"https://s/a.json": []any{"/x.yaml", file}},
		},
		{
			name: "moves file between schemas",
			settings: map[string]any{
				"https://s/old.json":  file,
				"https://s/list.json": []string{file, "/keep.yaml"},
			},
			schema: "https://s/new.json",
			want: map[string]any{
				"https://s/list.json": []any{"/keep.yaml"},
				"https://s/new.json":  file,
			},
		},
		{
			name:     "reselecting same schema",
			settings: map[string]any{"https://s/a.json": file},
			schema:   "https://s/a.json",
			want:     map[string]any{"https://s/a.json": file},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplySelection(tt.settings, file, tt.schema)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ApplySelection() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestApplySelection_DoesNotMutateInput(t *testing.T) {
	settings := map[string]any{"https://s/a.json": "file:///x.yaml"}
	ApplySelection(settings, "file:///x.yaml", "https://s/b.json")
	if settings["https://s/a.json"] != "file:///x.yaml" {
		t.Errorf("input mutated: %v", settings)
	}
}

func TestController_Select(t *testing.T) {
	settings := &memorySettings{schemas: map[string]any{}}
	c := NewController(&fakeRequester{})

	pick := PickItem{Schema: MatchingJSONSchema{JSONSchema: JSONSchema{URI: "https://s/a.json"}}}
	if err := c.Select(settings, "file:///a.yaml", pick); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if settings.saved["https://s/a.json"] != "file:///a.yaml" {
		t.Errorf("saved = %v", settings.saved)
	}
}
