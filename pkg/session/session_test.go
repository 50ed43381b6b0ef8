package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/Sternrassler/yaml-schema-client/pkg/associations"
	"github.com/Sternrassler/yaml-schema-client/pkg/contributor"
	"github.com/Sternrassler/yaml-schema-client/pkg/rpc"
	"github.com/Sternrassler/yaml-schema-client/pkg/statusbar"
)

type stubFetcher struct {
	content map[string]string
}

func (f *stubFetcher) GetContent(_ context.Context, uri string) (string, error) {
	if c, ok := f.content[uri]; ok {
		return c, nil
	}
	return "", errors.New("Not Found")
}

type memorySettings struct {
	schemas map[string]any
}

func (m *memorySettings) Schemas() map[string]any { return m.schemas }

func (m *memorySettings) SetSchemas(schemas map[string]any) error {
	m.schemas = schemas
	return nil
}

// connect returns the client end given to the Session and the peer acting
// as the language server.
func connect(t *testing.T) (*rpc.Conn, *rpc.Conn) {
	t.Helper()

	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	clientConn := rpc.NewConn(clientR, clientW)
	serverConn := rpc.NewConn(serverR, serverW)

	ctx, cancel := context.WithCancel(context.Background())
	go clientConn.Run(ctx)
	go serverConn.Run(ctx)

	t.Cleanup(func() {
		cancel()
		clientW.Close()
		serverW.Close()
	})
	return clientConn, serverConn
}

func newTestSession(t *testing.T) (*Session, *rpc.Conn, chan associations.Associations) {
	t.Helper()

	clientConn, serverConn := connect(t)

	received := make(chan associations.Associations, 1)
	serverConn.OnNotification(associations.Notification, func(_ context.Context, params json.RawMessage) {
		var a associations.Associations
		json.Unmarshal(params, &a)
		received <- a
	})

	registry := contributor.NewRegistry()
	registry.Register("kube", contributor.Funcs{
		Schema: func(resource string) (string, error) {
			if resource == "file:///ws/deploy.yaml" {
				return "kube://deployment", nil
			}
			return "", nil
		},
		Content: func(uri string) (string, error) { return `{"title":"` + uri + `"}`, nil },
	})

	s, err := New(Options{
		Conn: clientConn,
		Fetcher: &stubFetcher{content: map[string]string{
			"https://json.schemastore.org/chart.json": `{"title":"chart"}`,
		}},
		Registry:     registry,
		Associations: associations.Associations{"/*.k8s.yaml": {"kube://deployment"}},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return s, serverConn, received
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without conn error = nil")
	}
	conn := rpc.NewConn(io.MultiReader(), io.Discard)
	if _, err := New(Options{Conn: conn}); err == nil {
		t.Error("New() without fetcher error = nil")
	}
}

func TestSession_StartSendsAssociations(t *testing.T) {
	_, _, received := newTestSession(t)

	select {
	case got := <-received:
		if len(got["/*.k8s.yaml"]) != 1 || got["/*.k8s.yaml"][0] != "kube://deployment" {
			t.Errorf("associations = %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("associations not sent")
	}
}

func TestSession_Requests(t *testing.T) {
	_, server, _ := newTestSession(t)

	tests := []struct {
		name    string
		method  string
		params  any
		want    any
		wantErr string
	}{
		{
			name:   "schema request resolved",
			method: MethodSchemaRequest,
			params: "file:///ws/deploy.yaml",
			want:   "kube://deployment",
		},
		{
			name:   "schema request object form",
			method: MethodSchemaRequest,
			params: map[string]string{"resource": "file:///ws/deploy.yaml", "label": "kube"},
			want:   "kube://deployment",
		},
		{
			name:   "schema request unresolved",
			method: MethodSchemaRequest,
			params: "file:///ws/other.yaml",
			want:   nil,
		},
		{
			name:   "custom content",
			method: MethodSchemaContent,
			params: "kube://deployment",
			want:   `{"title":"kube://deployment"}`,
		},
		{
			name:    "custom content unknown scheme",
			method:  MethodSchemaContent,
			params:  "nope://x",
			wantErr: `no schema contributor for scheme "nope"`,
		},
		{
			name:   "vscode content remote",
			method: MethodVSCodeContent,
			params: "https://json.schemastore.org/chart.json",
			want:   `{"title":"chart"}`,
		},
		{
			name:   "vscode content json-schema",
			method: MethodVSCodeContent,
			params: "json-schema://json.schemastore.org/chart.json",
			want:   `{"title":"chart"}`,
		},
		{
			name:    "vscode content failure",
			method:  MethodVSCodeContent,
			params:  "https://example.com/missing.json",
			wantErr: "Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			var got any
			err := server.SendRequest(ctx, tt.method, tt.params, &got)
			if tt.wantErr != "" {
				var rpcErr *rpc.Error
				if !errors.As(err, &rpcErr) || rpcErr.Message != tt.wantErr {
					t.Errorf("SendRequest() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SendRequest() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_ModifySchemaContent(t *testing.T) {
	s, server, _ := newTestSession(t)

	received := make(chan SchemaModification, 1)
	server.OnRequest(MethodSchemaModify, func(_ context.Context, params json.RawMessage) (any, error) {
		var mod SchemaModification
		if err := json.Unmarshal(params, &mod); err != nil {
			return nil, err
		}
		received <- mod
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.ModifySchemaContent(ctx, SchemaModification{
		Schema:  "kube://deployment",
		Action:  ActionAdd,
		Path:    "properties",
		Key:     "replicas",
		Content: map[string]string{"type": "integer"},
	})
	if err != nil {
		t.Fatalf("ModifySchemaContent() error = %v", err)
	}

	mod := <-received
	if mod.Action != ActionAdd || mod.Key != "replicas" || mod.Schema != "kube://deployment" {
		t.Errorf("modification = %+v", mod)
	}
}

func TestSession_StatusBar(t *testing.T) {
	clientConn, server := connect(t)

	server.OnRequest(statusbar.MethodGetSchema, func(_ context.Context, params json.RawMessage) (any, error) {
		var uri string
		json.Unmarshal(params, &uri)
		if uri == "file:///ws/chart.yaml" {
			return []statusbar.JSONSchema{{Name: "Helm Chart", URI: "https://json.schemastore.org/chart.json"}}, nil
		}
		return []statusbar.JSONSchema{}, nil
	})
	server.OnRequest(statusbar.MethodGetAllSchemas, func(context.Context, json.RawMessage) (any, error) {
		return []statusbar.MatchingJSONSchema{
			{JSONSchema: statusbar.JSONSchema{Name: "Kustomization", URI: "https://json.schemastore.org/kustomization.json"}},
			{JSONSchema: statusbar.JSONSchema{Name: "Helm Chart", URI: "https://json.schemastore.org/chart.json"}, UsedForCurrentFile: true},
		}, nil
	})
	configured := make(chan map[string]any, 1)
	server.OnNotification(MethodDidChangeConfiguration, func(_ context.Context, params json.RawMessage) {
		var p struct {
			Settings struct {
				YAML struct {
					Schemas map[string]any `json:"schemas"`
				} `json:"yaml"`
			} `json:"settings"`
		}
		json.Unmarshal(params, &p)
		configured <- p.Settings.YAML.Schemas
	})

	settings := &memorySettings{schemas: map[string]any{
		"https://json.schemastore.org/kustomization.json": "file:///ws/chart.yaml",
	}}
	s, err := New(Options{Conn: clientConn, Fetcher: &stubFetcher{}, Settings: settings})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	items := []struct {
		name string
		doc  statusbar.Document
		want statusbar.Item
	}{
		{
			name: "yaml with schema",
			doc:  statusbar.Document{URI: "file:///ws/chart.yaml", LanguageID: "yaml"},
			want: statusbar.Item{Visible: true, Text: "Helm Chart", Tooltip: "Select JSON Schema", Command: statusbar.Command},
		},
		{
			name: "yaml without schema",
			doc:  statusbar.Document{URI: "file:///ws/other.yaml", LanguageID: "yaml"},
			want: statusbar.Item{Visible: true, Text: "No JSON Schema", Tooltip: "Select JSON Schema", Command: statusbar.Command},
		},
		{
			name: "not yaml",
			doc:  statusbar.Document{URI: "file:///ws/main.go", LanguageID: "go"},
			want: statusbar.Item{Command: statusbar.Command},
		},
	}
	for _, tt := range items {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.StatusItem(ctx, tt.doc)
			if err != nil {
				t.Fatalf("StatusItem() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("StatusItem() = %+v, want %+v", got, tt.want)
			}
		})
	}

	picks, err := s.SchemaItems(ctx, "file:///ws/chart.yaml")
	if err != nil {
		t.Fatalf("SchemaItems() error = %v", err)
	}
	if len(picks) != 2 || picks[0].Label != "Helm Chart" {
		t.Errorf("SchemaItems() = %+v, want current schema first", picks)
	}

	if err := s.SelectSchema(ctx, "file:///ws/chart.yaml", "https://json.schemastore.org/chart.json"); err != nil {
		t.Fatalf("SelectSchema() error = %v", err)
	}

	want := map[string]any{"https://json.schemastore.org/chart.json": "file:///ws/chart.yaml"}
	if !reflect.DeepEqual(settings.schemas, want) {
		t.Errorf("settings = %v, want %v", settings.schemas, want)
	}
	select {
	case got := <-configured:
		if !reflect.DeepEqual(got, want) {
			t.Errorf("pushed schemas = %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("configuration change not sent")
	}
}

func TestSession_SelectSchemaWithoutSettings(t *testing.T) {
	clientConn, _ := connect(t)
	s, err := New(Options{Conn: clientConn, Fetcher: &stubFetcher{}})
	if err != nil {
		t.Fatal(err)
	}

	err = s.SelectSchema(context.Background(), "file:///ws/a.yaml", "https://example.com/a.json")
	if !errors.Is(err, ErrNoSettings) {
		t.Errorf("SelectSchema() error = %v, want ErrNoSettings", err)
	}
}
