package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. LEXIBASE_REDIS_ADDR
const EnvPrefix = "LEXIBASE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("legacy.type", "filesystem")
	v.SetDefault("legacy.path", "./data/legacy")
	v.SetDefault("records.type", "filesystem")
	v.SetDefault("records.path", "./data/records")
	for _, b := range []string{"legacy", "records"} {
		v.SetDefault(b+".bucket", "")
		v.SetDefault(b+".prefix", "")
		v.SetDefault(b+".region", "us-east-1")
		v.SetDefault(b+".endpoint", "")
		v.SetDefault(b+".access_key_id", "")
		v.SetDefault(b+".secret_access_key", "")
		v.SetDefault(b+".use_ssl", false)
		v.SetDefault(b+".credentials_file", "")
		v.SetDefault(b+".encryption_key", "")
	}

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("store.namespace", "lexibase")
	v.SetDefault("store.preferred", "structured")
	v.SetDefault("store.clear_legacy", false)
	v.SetDefault("store.seed_sample", false)

	v.SetDefault("backup.retention", 5)
	v.SetDefault("backup.schedule", "0 3 * * *")
	v.SetDefault("backup.auto_on_save", false)

	v.SetDefault("metrics.addr", ":9090")
}

// Load reads configuration. path may be empty; environment variables take
// precedence over the file, which takes precedence over defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and reports every failing field
func Validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
