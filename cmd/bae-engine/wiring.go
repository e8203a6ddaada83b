package main

import (
	"context"
	"encoding/base64"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/bae-engine/internal/catalog"
	"github.com/kenneth/bae-engine/internal/chunkcache"
	"github.com/kenneth/bae-engine/internal/chunkcodec"
	"github.com/kenneth/bae-engine/internal/config"
	"github.com/kenneth/bae-engine/internal/errs"
	"github.com/kenneth/bae-engine/internal/metrics"
	"github.com/kenneth/bae-engine/internal/objectstore"
)

// resources bundles the three long-lived shared resources spec.md §9
// names: ChunkCache, ObjectStore client, Catalog connection pool, plus
// the process-wide ChunkCodec. All are passed explicitly to callers;
// nothing here is an ambient singleton.
type resources struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	store   *objectstore.S3Store
	cache   *chunkcache.Cache
	codec   *chunkcodec.Codec
	metrics *metrics.Metrics
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// loadKey resolves the process-wide encryption key from --key-file or the
// BAE_ENGINE_KEY env var (base64-encoded), per spec.md §1's treatment of
// key storage as an out-of-scope external collaborator: this binary only
// adapts whatever the host already resolved into a chunkcodec.KeySource.
func loadKey(cmd *cobra.Command) (chunkcodec.KeySource, error) {
	keyFile, _ := cmd.Flags().GetString("key-file")
	if keyFile != "" {
		raw, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfig, "cmd", "failed to read key file", err)
		}
		return chunkcodec.StaticKeySource{Key: raw}, nil
	}

	encoded := os.Getenv("BAE_ENGINE_KEY")
	if encoded == "" {
		return nil, errs.New(errs.KindConfig, "cmd", "no encryption key: pass --key-file or set BAE_ENGINE_KEY")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "cmd", "BAE_ENGINE_KEY is not valid base64", err)
	}
	return chunkcodec.StaticKeySource{Key: key}, nil
}

// buildResources opens every shared resource the import pipeline and the
// playback/serve surface depend on.
func buildResources(ctx context.Context, cmd *cobra.Command, log *logrus.Logger) (*resources, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	keySource, err := loadKey(cmd)
	if err != nil {
		return nil, err
	}
	codec, err := chunkcodec.New(keySource)
	if err != nil {
		return nil, err
	}

	store, err := objectstore.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.CreateBucketIfMissing(ctx); err != nil {
		return nil, err
	}

	cache, err := chunkcache.Open(chunkcache.Config{
		Directory:  cfg.Cache.Directory,
		MaxBytes:   cfg.Cache.MaxBytes,
		MaxEntries: cfg.Cache.MaxEntries,
	}, log.WithField("component", "chunkcache"))
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics()
	cache.SetMetrics(m)

	return &resources{cfg: cfg, catalog: cat, store: store, cache: cache, codec: codec, metrics: m}, nil
}

func (r *resources) Close() {
	_ = r.catalog.Close()
}
