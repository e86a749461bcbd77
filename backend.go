package lexibase

import (
	"context"
	"strings"
	"time"
)

// Backend is the blob storage both stores persist through. Keys are
// slash-separated paths; Get and Delete report ErrNotFound for absent keys.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key under prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)

	// Health check
	Ping(ctx context.Context) error

	// Resource cleanup
	Close() error
}

// BackendConfig holds configuration for any backend
type BackendConfig struct {
	Type       string // "filesystem", "s3", "minio" or "gcs"
	Bucket     string // Bucket or base directory
	Region     string // AWS region (S3 only)
	Endpoint   string // Custom endpoint (for S3-compatible services)
	PathPrefix string // Optional prefix for all keys

	AccessKeyID     string // MinIO only
	SecretAccessKey string // MinIO only
	UseSSL          bool   // MinIO only
	CredentialsFile string // GCS only
}

// Validate checks if the BackendConfig is valid
func (c BackendConfig) Validate() error {
	if c.Type == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"reason": "backend type is required",
		})
	}
	if c.Bucket == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Bucket",
			"reason": "bucket/base path is required",
		})
	}

	switch c.Type {
	case "s3":
		if c.Region == "" && c.Endpoint == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Region/Endpoint",
				"reason": "S3 backend requires either Region or Endpoint",
			})
		}
	case "minio":
		if c.Endpoint == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Endpoint",
				"reason": "MinIO backend requires an endpoint",
			})
		}
	case "filesystem", "gcs":
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"value":  c.Type,
			"reason": "unknown backend type",
		})
	}

	return nil
}

// NewBackend builds the backend described by cfg
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "s3":
		if cfg.Endpoint != "" {
			return NewMinIOBackend(MinIOConfig{
				Endpoint:        strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://"),
				AccessKeyID:     cfg.AccessKeyID,
				SecretAccessKey: cfg.SecretAccessKey,
				UseSSL:          strings.HasPrefix(cfg.Endpoint, "https://"),
				Bucket:          cfg.Bucket,
				Prefix:          cfg.PathPrefix,
			}), nil
		}
		return NewS3BackendFromEnv(ctx, cfg.Region, cfg.Bucket, cfg.PathPrefix)
	case "minio":
		return NewMinIOBackend(MinIOConfig{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
			Bucket:          cfg.Bucket,
			Prefix:          cfg.PathPrefix,
		}), nil
	case "gcs":
		return NewGCSBackend(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.PathPrefix,
			CredentialsFile: cfg.CredentialsFile,
		})
	default:
		return NewFilesystemBackend(joinKey(cfg.Bucket, cfg.PathPrefix)), nil
	}
}

// joinKey prepends an optional key prefix
func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(key, "/")
}

// validSegment reports whether s can be used as a single key path segment
func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}

// InstrumentedBackend records operation counts, errors and latency for a wrapped Backend
type InstrumentedBackend struct {
	Backend
	name    string
	metrics Metrics
}

// NewInstrumentedBackend wraps backend; name becomes the "backend" metric label
func NewInstrumentedBackend(backend Backend, name string, metrics Metrics) *InstrumentedBackend {
	return &InstrumentedBackend{
		Backend: backend,
		name:    name,
		metrics: metricsOrNoOp(metrics),
	}
}

func (b *InstrumentedBackend) observe(op string, start time.Time, err error) {
	b.metrics.Increment(MetricBackendOps, "operation", op, "backend", b.name)
	b.metrics.Timing(MetricBackendLatency, time.Since(start), "operation", op, "backend", b.name)
	if err != nil && !IsNotFound(err) {
		b.metrics.Increment(MetricBackendErrors, "operation", op, "backend", b.name)
	}
}

func (b *InstrumentedBackend) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := b.Backend.Get(ctx, key)
	b.observe("get", start, err)
	return data, err
}

func (b *InstrumentedBackend) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := b.Backend.Put(ctx, key, data)
	b.observe("put", start, err)
	return err
}

func (b *InstrumentedBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := b.Backend.Delete(ctx, key)
	b.observe("delete", start, err)
	return err
}

func (b *InstrumentedBackend) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := b.Backend.List(ctx, prefix)
	b.observe("list", start, err)
	return keys, err
}
