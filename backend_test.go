package lexibase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestBackendCompliance runs the same test suite against every local Backend implementation
func TestBackendCompliance(t *testing.T) {
	key := make([]byte, 32)
	encrypted, err := NewEncryptionBackend(NewFilesystemBackend(t.TempDir()), key)
	if err != nil {
		t.Fatalf("NewEncryptionBackend failed: %v", err)
	}

	backends := []struct {
		name    string
		backend Backend
	}{
		{name: "Filesystem", backend: NewFilesystemBackend(t.TempDir())},
		{name: "Encrypted", backend: encrypted},
		{name: "Instrumented", backend: NewInstrumentedBackend(NewFilesystemBackend(t.TempDir()), "fs", NewInMemoryMetrics())},
	}

	for _, tc := range backends {
		t.Run(tc.name, func(t *testing.T) {
			runBackendCompliance(t, tc.backend)
		})
	}
}

func runBackendCompliance(t *testing.T, backend Backend) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := backend.Ping(ctx); err != nil {
			t.Fatalf("Ping failed: %v", err)
		}
	})

	t.Run("BasicCRUD", func(t *testing.T) {
		testBasicCRUD(t, ctx, backend)
	})

	t.Run("ListOperations", func(t *testing.T) {
		testListOperations(t, ctx, backend)
	})

	t.Run("ErrorHandling", func(t *testing.T) {
		testErrorHandling(t, ctx, backend)
	})
}

func testBasicCRUD(t *testing.T, ctx context.Context, backend Backend) {
	key := "test/basic.json"
	data := []byte(`{"name": "test", "value": 123}`)

	if err := backend.Put(ctx, key, data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := backend.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Expected key to exist")
	}

	retrieved, err := backend.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(retrieved) != string(data) {
		t.Errorf("Expected %s, got %s", data, retrieved)
	}

	// Overwrite
	if err := backend.Put(ctx, key, []byte(`{}`)); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	retrieved, _ = backend.Get(ctx, key)
	if string(retrieved) != `{}` {
		t.Errorf("Expected overwritten value, got %s", retrieved)
	}

	if err := backend.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, err = backend.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists after delete failed: %v", err)
	}
	if exists {
		t.Error("Expected key to not exist after delete")
	}
}

func testListOperations(t *testing.T, ctx context.Context, backend Backend) {
	keys := []string{
		"list/words/b.json",
		"list/words/a.json",
		"list/lessons/c.json",
	}
	for _, k := range keys {
		if err := backend.Put(ctx, k, []byte(`{}`)); err != nil {
			t.Fatalf("Put %s failed: %v", k, err)
		}
	}

	got, err := backend.List(ctx, "list/words")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"list/words/a.json", "list/words/b.json"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}

	got, err = backend.List(ctx, "list/missing")
	if err != nil {
		t.Fatalf("List of empty prefix failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no keys, got %v", got)
	}
}

func testErrorHandling(t *testing.T, ctx context.Context, backend Backend) {
	_, err := backend.Get(ctx, "missing/key.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from Get, got %v", err)
	}
	err = backend.Delete(ctx, "missing/key.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from Delete, got %v", err)
	}
	exists, err := backend.Exists(ctx, "missing/key.json")
	if err != nil || exists {
		t.Errorf("Expected absent key, got %v, %v", exists, err)
	}
}

func TestFilesystemBackend_ListSkipsTemporaryFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend := NewFilesystemBackend(dir)

	backend.Put(ctx, "words/w1.json", []byte(`{}`))
	os.WriteFile(filepath.Join(dir, "words", "w2.json.tmp"), []byte(`{}`), 0o644)
	os.WriteFile(filepath.Join(dir, "words", ".hidden"), []byte(`{}`), 0o644)

	keys, err := backend.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "words/w1.json" {
		t.Errorf("Expected only words/w1.json, got %v", keys)
	}
}

func TestFilesystemBackend_PingCreatesBasePath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	backend := NewFilesystemBackend(dir)

	if err := backend.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Errorf("Expected base path to be created, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".health_check")); !os.IsNotExist(err) {
		t.Error("Expected health check file to be removed")
	}
}

func TestFilesystemBackend_PingFailsOnFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	os.WriteFile(path, []byte("x"), 0o644)

	if err := NewFilesystemBackend(path).Ping(context.Background()); err == nil {
		t.Error("Expected Ping to fail when the base path is a file")
	}
}

func TestBackendConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     BackendConfig
		wantErr bool
	}{
		{"filesystem", BackendConfig{Type: "filesystem", Bucket: "/tmp/data"}, false},
		{"missing type", BackendConfig{Bucket: "/tmp/data"}, true},
		{"missing bucket", BackendConfig{Type: "filesystem"}, true},
		{"unknown type", BackendConfig{Type: "ftp", Bucket: "b"}, true},
		{"s3 with region", BackendConfig{Type: "s3", Bucket: "b", Region: "us-east-1"}, false},
		{"s3 with endpoint", BackendConfig{Type: "s3", Bucket: "b", Endpoint: "http://localhost:9000"}, false},
		{"s3 without region", BackendConfig{Type: "s3", Bucket: "b"}, true},
		{"minio without endpoint", BackendConfig{Type: "minio", Bucket: "b"}, true},
		{"minio", BackendConfig{Type: "minio", Bucket: "b", Endpoint: "localhost:9000"}, false},
		{"gcs", BackendConfig{Type: "gcs", Bucket: "b"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Expected valid config, got %v", err)
			}
		})
	}
}

func TestNewBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := NewBackend(ctx, BackendConfig{Type: "filesystem", Bucket: dir, PathPrefix: "app"})
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	fs, ok := backend.(*FilesystemBackend)
	if !ok {
		t.Fatalf("Expected *FilesystemBackend, got %T", backend)
	}
	if fs.BasePath() != dir+"/app" {
		t.Errorf("Expected prefixed base path, got %s", fs.BasePath())
	}

	backend, err = NewBackend(ctx, BackendConfig{Type: "minio", Bucket: "b", Endpoint: "localhost:9000"})
	if err != nil {
		t.Fatalf("NewBackend minio failed: %v", err)
	}
	if _, ok := backend.(*S3Backend); !ok {
		t.Errorf("Expected *S3Backend, got %T", backend)
	}

	if _, err := NewBackend(ctx, BackendConfig{Type: "ftp", Bucket: "b"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestInstrumentedBackend_Metrics(t *testing.T) {
	ctx := context.Background()
	metrics := NewInMemoryMetrics()
	backend := NewInstrumentedBackend(NewFilesystemBackend(t.TempDir()), "fs", metrics)

	backend.Put(ctx, "a.json", []byte(`{}`))
	backend.Get(ctx, "a.json")
	backend.Get(ctx, "missing.json")
	backend.List(ctx, "")

	if metrics.Count(MetricBackendOps) != 4 {
		t.Errorf("Expected 4 operations, got %d", metrics.Count(MetricBackendOps))
	}
	if metrics.Count(MetricBackendErrors) != 0 {
		t.Errorf("Not found must not count as an error, got %d", metrics.Count(MetricBackendErrors))
	}

	faulty := newFaultyBackend(NewFilesystemBackend(t.TempDir()))
	faulty.failPut["b.json"] = true
	backend = NewInstrumentedBackend(faulty, "faulty", metrics)
	backend.Put(ctx, "b.json", []byte(`{}`))

	if metrics.Count(MetricBackendErrors) != 1 {
		t.Errorf("Expected 1 error, got %d", metrics.Count(MetricBackendErrors))
	}
}
