package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/external"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/func/seeder/cloud"
	"github.com/func/seeder/cloud/memory"
	"github.com/func/seeder/cloud/rest"
	"github.com/func/seeder/config"
	"github.com/func/seeder/identity"
	"github.com/func/seeder/logging"
	"github.com/func/seeder/registry"
	"github.com/func/seeder/source"
	"github.com/func/seeder/source/disk"
	"github.com/func/seeder/source/s3"
	"github.com/func/seeder/storage"
	"github.com/func/seeder/storage/dynamodb"
	"github.com/func/seeder/storage/kvbackend"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// loadConfig loads the config and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, err := cmd.Flags().GetString("config-dir")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if f := cmd.Flags().Lookup("dry-run"); f != nil && f.Changed {
		cfg.Cloud.DryRun, _ = cmd.Flags().GetBool("dry-run")
	}
	if f := cmd.Flags().Lookup("endpoint"); f != nil && f.Changed {
		cfg.Cloud.Endpoint = f.Value.String()
	}
	if f := cmd.Flags().Lookup("state"); f != nil && f.Changed {
		cfg.State.Backend = f.Value.String()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log)
}

func newAWSConfig(cfg config.AWS) (aws.Config, error) {
	awsCfg, err := external.LoadDefaultAWSConfig()
	if err != nil {
		return aws.Config{}, errors.Wrap(err, "load aws config")
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}
	if cfg.Endpoint != "" {
		awsCfg.EndpointResolver = aws.ResolveWithEndpointURL(cfg.Endpoint)
	}
	return awsCfg, nil
}

// newState opens the last-applied store. The returned func releases it.
func newState(cfg *config.Config) (*storage.State, func() error, error) {
	noop := func() error { return nil }
	switch cfg.State.Backend {
	case config.BackendMemory:
		return &storage.State{Backend: &kvbackend.Memory{}}, noop, nil
	case config.BackendBolt:
		b, err := kvbackend.NewBoltWithFile(cfg.State.File)
		if err != nil {
			return nil, nil, err
		}
		return &storage.State{Backend: b}, b.Close, nil
	case config.BackendDynamoDB:
		awsCfg, err := newAWSConfig(cfg.AWS)
		if err != nil {
			return nil, nil, err
		}
		return &storage.State{Backend: dynamodb.New(awsCfg, cfg.State.Table)}, noop, nil
	default:
		return nil, nil, errors.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

// newCloud creates the cloud context. Without an endpoint, an in-memory
// platform is used.
func newCloud(cfg *config.Config, reg *registry.Registry, logger *zap.Logger) *cloud.Context {
	var adapters = memory.New().Adapters(reg.Adapters()...)
	if cfg.Cloud.Endpoint != "" {
		client := &rest.Client{
			BaseURL: cfg.Cloud.Endpoint,
			Token:   cfg.Cloud.Token,
			HTTP:    &http.Client{Timeout: cfg.Cloud.Timeout},
			Logger:  logger.Named("rest"),
		}
		adapters = client.Adapters(reg.Adapters()...)
	} else {
		logger.Warn("No cloud endpoint configured, using in-memory platform")
	}
	return cloud.New(adapters, cloud.Options{
		DryRun: cfg.Cloud.DryRun,
		Cache: identity.Options{
			TTL:  cfg.Cloud.CacheTTL,
			Size: cfg.Cloud.CacheSize,
		},
		Logger:  logger,
		Backoff: cfg.Cloud.Retry.BackOff,
	})
}

// newLoader creates the configured seed loader. dir overrides the seed
// directory if set.
func newLoader(cfg *config.Config, dir string, logger *zap.Logger) (source.Loader, error) {
	if dir != "" {
		return &disk.Loader{Dir: dir, Debounce: cfg.Seeds.Debounce, Logger: logger}, nil
	}
	switch cfg.Seeds.Source {
	case config.SourceDir:
		return &disk.Loader{Dir: cfg.Seeds.Dir, Debounce: cfg.Seeds.Debounce, Logger: logger}, nil
	case config.SourceBundle:
		return &source.Bundle{Path: cfg.Seeds.Bundle}, nil
	case config.SourceS3:
		awsCfg, err := newAWSConfig(cfg.AWS)
		if err != nil {
			return nil, err
		}
		return &s3.Loader{Bucket: cfg.Seeds.Bucket, Prefix: cfg.Seeds.Prefix, Client: awss3.New(awsCfg)}, nil
	default:
		return nil, errors.Errorf("unknown seed source %q", cfg.Seeds.Source)
	}
}

// loadSeeds loads seeds into a new store.
func loadSeeds(ctx context.Context, loader source.Loader) (*source.Store, error) {
	seeds, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	store := &source.Store{}
	store.Replace(seeds)
	return store, nil
}
