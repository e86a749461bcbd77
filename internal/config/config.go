// Package config loads the lexibase command configuration from an optional
// file and LEXIBASE_* environment variables.
package config

// Config holds all command configuration
type Config struct {
	Log     LogConfig     `mapstructure:"log" validate:"required"`
	Legacy  BackendConfig `mapstructure:"legacy" validate:"required"`
	Records BackendConfig `mapstructure:"records" validate:"required"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Store   StoreConfig   `mapstructure:"store" validate:"required"`
	Backup  BackupConfig  `mapstructure:"backup" validate:"required"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// BackendConfig selects where blobs live. Path is used by the filesystem
// type; the object store types use Bucket and Prefix.
type BackendConfig struct {
	Type            string `mapstructure:"type" validate:"required,oneof=filesystem s3 minio gcs"`
	Path            string `mapstructure:"path" validate:"required_if=Type filesystem"`
	Bucket          string `mapstructure:"bucket" validate:"required_unless=Type filesystem"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint" validate:"required_if=Type minio"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	CredentialsFile string `mapstructure:"credentials_file"`
	// EncryptionKey is a base64 AES-256 key; empty disables encryption
	EncryptionKey string `mapstructure:"encryption_key" validate:"omitempty,base64"`
}

// RedisConfig locates the index server. An empty Addr runs every session on
// the simple store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// StoreConfig controls the persistence facade
type StoreConfig struct {
	Namespace   string `mapstructure:"namespace" validate:"required"`
	Preferred   string `mapstructure:"preferred" validate:"required,oneof=simple structured"`
	ClearLegacy bool   `mapstructure:"clear_legacy"`
	SeedSample  bool   `mapstructure:"seed_sample"`
}

// BackupConfig controls automatic backups
type BackupConfig struct {
	Retention  int    `mapstructure:"retention" validate:"gte=1"`
	Schedule   string `mapstructure:"schedule"`
	AutoOnSave bool   `mapstructure:"auto_on_save"`
}

// MetricsConfig controls the Prometheus endpoint of the serve command
type MetricsConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// StructuredEnabled reports whether a Redis server was configured
func (c *Config) StructuredEnabled() bool {
	return c.Redis.Addr != ""
}
