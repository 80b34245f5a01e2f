package manifest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pingcap/tidb/br/pkg/storage"

	"dumpcore/internal/model"
)

func openLocalStore(t *testing.T) storage.ExternalStorage {
	t.Helper()
	backend, err := storage.ParseBackend(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("ParseBackend: %v", err)
	}
	store, err := storage.NewWithDefaultOpt(context.Background(), backend)
	if err != nil {
		t.Fatalf("NewWithDefaultOpt: %v", err)
	}
	return store
}

func TestWriteJSONRoundTrips(t *testing.T) {
	store := openLocalStore(t)
	ctx := context.Background()

	start := DumpStart{
		Dumper:  "dumpcore",
		Version: "1.0.0",
		Schemas: []string{"s1"},
	}
	if err := WriteJSON(ctx, store, "@.json", start); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	data, err := store.ReadFile(ctx, "@.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got DumpStart
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Dumper != "dumpcore" || len(got.Schemas) != 1 || got.Schemas[0] != "s1" {
		t.Fatalf("unexpected round trip: %+v", got)
	}
}

func TestWriteTextWritesRawBytes(t *testing.T) {
	store := openLocalStore(t)
	ctx := context.Background()

	if err := WriteText(ctx, store, "@.users.sql", "GRANT ALL ON *.* TO 'root'@'%';\n"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	data, err := store.ReadFile(ctx, "@.users.sql")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "GRANT ALL ON *.* TO 'root'@'%';\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestWriteJSONUsesTempDirDirectly(t *testing.T) {
	dir := t.TempDir()
	backend, err := storage.ParseBackend(dir, nil)
	if err != nil {
		t.Fatalf("ParseBackend: %v", err)
	}
	store, err := storage.NewWithDefaultOpt(context.Background(), backend)
	if err != nil {
		t.Fatalf("NewWithDefaultOpt: %v", err)
	}

	if err := WriteJSON(context.Background(), store, "nested/schema.json", SchemaManifest{Name: "s1", Basename: "s1"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "nested", "schema.json")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
}

func TestDecodeFor(t *testing.T) {
	safe := model.ColumnInfo{Name: "id", CSVUnsafe: false}
	if got := DecodeFor(safe, true); got != "" {
		t.Fatalf("DecodeFor(safe) = %q, want empty", got)
	}

	unsafe := model.ColumnInfo{Name: "blob", CSVUnsafe: true}
	if got := DecodeFor(unsafe, true); got != "FROM_BASE64" {
		t.Fatalf("DecodeFor(unsafe, base64) = %q, want FROM_BASE64", got)
	}
	if got := DecodeFor(unsafe, false); got != "UNHEX" {
		t.Fatalf("DecodeFor(unsafe, hex) = %q, want UNHEX", got)
	}
}
