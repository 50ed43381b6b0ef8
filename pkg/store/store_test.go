package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	ETag       string `json:"eTag"`
	SchemaPath string `json:"schemaPath"`
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()

	var got map[string]sample
	found, err := s.Get(context.Background(), "missing", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("Get() found = true for missing key")
	}
	if got != nil {
		t.Errorf("dst modified for missing key: %v", got)
	}
}

func TestMemoryStore_UpdateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	want := map[string]sample{"https://example.com/a.json": {ETag: `"v1"`, SchemaPath: "abc"}}
	if err := s.Update(ctx, "idx", want); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// Mutating the caller's value must not leak into the store.
	want["https://example.com/b.json"] = sample{}

	var got map[string]sample
	found, err := s.Get(ctx, "idx", &got)
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v", found, err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got["https://example.com/a.json"].ETag != `"v1"` {
		t.Errorf("ETag = %q, want %q", got["https://example.com/a.json"].ETag, `"v1"`)
	}
	if s.Updates() != 1 {
		t.Errorf("Updates() = %d, want 1", s.Updates())
	}
}

func TestMemoryStore_UpdateNil(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Update(context.Background(), "k", nil); err != ErrNilValue {
		t.Errorf("Update(nil) error = %v, want ErrNilValue", err)
	}
}

func TestFileStore_RoundTripAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")
	ctx := context.Background()

	first, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := first.Update(ctx, "idx", map[string]sample{"u": {ETag: "t1", SchemaPath: "p1"}}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := first.Update(ctx, "other", []string{"a", "b"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	second, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	var idx map[string]sample
	found, err := second.Get(ctx, "idx", &idx)
	if err != nil || !found {
		t.Fatalf("Get(idx) = %v, %v", found, err)
	}
	if idx["u"].SchemaPath != "p1" {
		t.Errorf("SchemaPath = %q, want p1", idx["u"].SchemaPath)
	}

	var other []string
	if found, err := second.Get(ctx, "other", &other); err != nil || !found {
		t.Fatalf("Get(other) = %v, %v", found, err)
	}
	if len(other) != 2 {
		t.Errorf("len(other) = %d, want 2", len(other))
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("state dir holds %d files, want 1 (temp files must be renamed away)", len(entries))
	}
}

func TestFileStore_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	var v map[string]sample
	found, err := s.Get(ctx, "idx", &v)
	if err != nil || found {
		t.Fatalf("Get() on corrupt document = %v, %v, want false, nil", found, err)
	}

	aside, err := os.ReadFile(path + corruptSuffix)
	if err != nil {
		t.Fatalf("corrupt document not moved aside: %v", err)
	}
	if string(aside) != "{not json" {
		t.Errorf("moved document = %q, want original bytes", aside)
	}

	if err := s.Update(ctx, "idx", map[string]sample{"a": {ETag: "x", SchemaPath: "p"}}); err != nil {
		t.Fatalf("Update() after corruption error = %v", err)
	}
	reopened, _ := NewFileStore(path)
	if found, err := reopened.Get(ctx, "idx", &v); err != nil || !found {
		t.Errorf("Get() after reopen = %v, %v, want true, nil", found, err)
	}
}

func TestNewFileStore_EmptyPath(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Error("NewFileStore(\"\") should fail")
	}
}
