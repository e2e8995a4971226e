// Package config loads seeder configuration from the environment, a .env
// file and an optional seeder.yaml file.
//
// Every setting can be set with an environment variable prefixed with
// SEEDER_, with dots replaced by underscores:
//
//   SEEDER_STATE_BACKEND=dynamodb
//   SEEDER_RECONCILE_WORKERS=8
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/func/seeder/logging"
	"github.com/func/seeder/validation"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables.
const EnvPrefix = "SEEDER"

// FileName is the name of the optional config file in the config dir.
const FileName = "seeder.yaml"

// Config holds all configuration for the application.
type Config struct {
	Log       logging.Config `mapstructure:"log"`
	Seeds     Seeds          `mapstructure:"seeds"`
	State     State          `mapstructure:"state"`
	AWS       AWS            `mapstructure:"aws"`
	Cloud     Cloud          `mapstructure:"cloud"`
	Reconcile Reconcile      `mapstructure:"reconcile"`
	Exporter  Exporter       `mapstructure:"exporter"`
}

// Seed sources.
const (
	SourceDir    = "dir"
	SourceBundle = "bundle"
	SourceS3     = "s3"
)

// Seeds configures where seeds are loaded from.
type Seeds struct {
	Source string `mapstructure:"source" default:"dir" validate:"oneof=dir bundle s3"`
	// Dir is the seed directory for the dir source.
	Dir string `mapstructure:"dir" default:"seeds"`
	// Bundle is the path of a .tar.gz bundle for the bundle source.
	Bundle string `mapstructure:"bundle" default:""`
	// Bucket and Prefix locate seed documents for the s3 source.
	Bucket string `mapstructure:"bucket" default:""`
	Prefix string `mapstructure:"prefix" default:""`
	// Debounce is the delay between a change on disk and reloading seeds.
	Debounce time.Duration `mapstructure:"debounce" default:"200ms"`
	// Resync reloads seeds from sources that cannot be watched. Zero
	// disables it.
	Resync time.Duration `mapstructure:"resync" default:"5m"`
}

// State backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendDynamoDB = "dynamodb"
)

// State configures the last-applied store.
type State struct {
	Backend string `mapstructure:"backend" default:"bolt" validate:"oneof=memory bolt dynamodb"`
	// File is the database file of the bolt backend.
	File string `mapstructure:"file" default:"seeder.db"`
	// Table is the table of the dynamodb backend.
	Table string `mapstructure:"table" default:""`
}

// AWS configures the AWS clients used by the s3 source and the dynamodb
// backend. Credentials are read from the default chain.
type AWS struct {
	Region string `mapstructure:"region" default:""`
	// Endpoint overrides the service endpoint, for local testing.
	Endpoint string `mapstructure:"endpoint" default:"" validate:"omitempty,url"`
}

// Cloud configures cloud platform access.
type Cloud struct {
	// Endpoint is the base URL of the platform API. If empty, an in-memory
	// platform is used.
	Endpoint string        `mapstructure:"endpoint" default:"" validate:"omitempty,url"`
	Token    string        `mapstructure:"token" default:""`
	Timeout  time.Duration `mapstructure:"timeout" default:"30s"`
	DryRun   bool          `mapstructure:"dry_run" default:"false"`

	CacheTTL  time.Duration `mapstructure:"cache_ttl" default:"10m"`
	CacheSize int           `mapstructure:"cache_size" default:"1024" validate:"gte=1"`

	Retry Retry `mapstructure:"retry"`
}

// Retry configures the exponential backoff of failed mutating calls.
type Retry struct {
	// MaxElapsed bounds the time spent retrying a single call. Zero
	// disables retries.
	MaxElapsed  time.Duration `mapstructure:"max_elapsed" default:"1m"`
	MaxInterval time.Duration `mapstructure:"max_interval" default:"10s"`
}

// BackOff returns a new backoff for a single call.
func (r Retry) BackOff() backoff.BackOff {
	if r.MaxElapsed <= 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = r.MaxElapsed
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	return b
}

// Reconcile configures reconciliation.
type Reconcile struct {
	// Workers is the number of seeds reconciled concurrently.
	Workers int `mapstructure:"workers" default:"4" validate:"gte=1"`
	// Concurrency is the number of kinds seeded concurrently per seed.
	Concurrency uint `mapstructure:"concurrency" default:"10" validate:"gte=1"`

	DependencyDelay time.Duration `mapstructure:"dependency_delay" default:"30s"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" default:"300s"`
}

// Exporter configures the metrics endpoint.
type Exporter struct {
	// Address to listen on. If empty, no metrics are served.
	Address string `mapstructure:"address" default:":9090"`
}

// Load loads configuration from dir. A .env file in dir overrides the
// environment, environment variables override seeder.yaml and seeder.yaml
// overrides the defaults. Missing files are ignored.
func Load(dir string) (*Config, error) {
	// Ignore error if file doesn't exist.
	_ = godotenv.Overload(filepath.Join(dir, ".env"))

	v := viper.New()
	bindValues(v, Config{}, "")

	v.SetConfigFile(filepath.Join(dir, FileName))
	if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
		return nil, errors.Wrapf(err, "read %s", FileName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isNotExist(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

// Validate checks the configuration. All problems are reported.
func (c *Config) Validate() error {
	if err := validation.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	switch {
	case c.Seeds.Source == SourceBundle && c.Seeds.Bundle == "":
		return errors.New("invalid config: seeds.bundle must be set for the bundle source")
	case c.Seeds.Source == SourceS3 && c.Seeds.Bucket == "":
		return errors.New("invalid config: seeds.bucket must be set for the s3 source")
	case c.State.Backend == BackendDynamoDB && c.State.Table == "":
		return errors.New("invalid config: state.table must be set for the dynamodb backend")
	}
	return nil
}

// bindValues sets the defaults from the default tags. Every key is
// registered, even without a default, so AutomaticEnv picks it up.
func bindValues(v *viper.Viper, iface interface{}, prefix string) {
	t := reflect.TypeOf(iface)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}
		v.SetDefault(key, field.Tag.Get("default"))
	}
}
