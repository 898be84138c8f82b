package main

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/vecbuf"
	"github.com/hupe1980/vecbuf/basestore"
	"github.com/hupe1980/vecbuf/basestore/postgres"
	"github.com/hupe1980/vecbuf/blobstore"
	"github.com/hupe1980/vecbuf/blobstore/minio"
	"github.com/hupe1980/vecbuf/blobstore/s3"
	"github.com/hupe1980/vecbuf/pagestore"
)

// backend bundles the page store and base store named by the config.
type backend struct {
	pages pagestore.Store
	base  basestore.Store
	pool  *pgxpool.Pool
}

func openBackend(ctx context.Context, cfg vecbuf.Config, logger *vecbuf.Logger) (*backend, error) {
	pages, err := openPageStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	b := &backend{pages: pages}

	switch cfg.Base.Kind {
	case "", "memory":
		b.base = basestore.NewMemory()
	case "postgres":
		store, pool, err := postgres.Connect(ctx, cfg.Base.DSN, postgres.Options{
			Table:          cfg.Base.Table,
			VectorColumn:   cfg.Base.VectorColumn,
			MetadataColumn: cfg.Base.MetadataColumn,
		})
		if err != nil {
			_ = pages.Close()
			return nil, fmt.Errorf("open base store: %w", err)
		}
		if err := store.EnsureTable(ctx); err != nil {
			pool.Close()
			_ = pages.Close()
			return nil, fmt.Errorf("open base store: %w", err)
		}
		b.base, b.pool = store, pool
	default:
		_ = pages.Close()
		return nil, fmt.Errorf("unknown base kind %q", cfg.Base.Kind)
	}

	return b, nil
}

func (b *backend) close() {
	_ = b.pages.Close()
	b.closeBase()
}

func (b *backend) closeBase() {
	if b.pool != nil {
		b.pool.Close()
	}
}

func openPageStore(ctx context.Context, sc vecbuf.StorageConfig, logger *vecbuf.Logger) (pagestore.Store, error) {
	compression, err := pagestore.ParseCompression(sc.Compression)
	if err != nil {
		return nil, err
	}

	blobOpts := []pagestore.BlobOption{
		pagestore.WithCompression(compression),
		pagestore.WithLogger(logger.WithComponent("pagestore")),
	}
	if sc.PageSize > 0 {
		blobOpts = append(blobOpts, pagestore.WithPageSize(sc.PageSize))
	}

	switch sc.Kind {
	case "", "memory":
		return pagestore.NewMemoryStore(sc.PageSize), nil
	case "badger":
		return pagestore.OpenBadger(pagestore.BadgerOptions{
			Dir:      sc.Dir,
			PageSize: sc.PageSize,
			Logger:   logger.WithComponent("badger"),
		})
	case "local":
		return pagestore.OpenLocal(ctx, sc.Dir, blobOpts...)
	case "s3":
		blobs, err := openS3(ctx, sc)
		if err != nil {
			return nil, err
		}
		return pagestore.OpenBlob(ctx, blobs, blobOpts...)
	case "minio":
		opts := []minio.Option{minio.WithPrefix(sc.Prefix)}
		if sc.TLS {
			opts = append(opts, minio.WithTLS())
		}
		if sc.Region != "" {
			opts = append(opts, minio.WithRegion(sc.Region))
		}
		blobs, err := minio.New(sc.Endpoint, sc.AccessKey, sc.SecretKey, sc.Bucket, opts...)
		if err != nil {
			return nil, err
		}
		return pagestore.OpenBlob(ctx, blobs, blobOpts...)
	default:
		return nil, fmt.Errorf("unknown storage kind %q", sc.Kind)
	}
}

func openS3(ctx context.Context, sc vecbuf.StorageConfig) (blobstore.BlobStore, error) {
	opts := []s3.Option{s3.WithPrefix(sc.Prefix)}
	if sc.Region != "" {
		opts = append(opts, s3.WithRegion(sc.Region))
	}

	store, err := s3.New(ctx, sc.Bucket, opts...)
	if err != nil {
		return nil, err
	}
	if sc.DynamoTable == "" {
		return store, nil
	}

	var loadFns []func(*awsconfig.LoadOptions) error
	if sc.Region != "" {
		loadFns = append(loadFns, awsconfig.WithRegion(sc.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadFns...)
	if err != nil {
		return nil, err
	}

	baseURI := "s3://" + sc.Bucket
	if p := strings.Trim(sc.Prefix, "/"); p != "" {
		baseURI += "/" + p
	}

	return s3.NewDDBCommitStore(store, dynamodb.NewFromConfig(awsCfg), sc.DynamoTable, baseURI), nil
}
