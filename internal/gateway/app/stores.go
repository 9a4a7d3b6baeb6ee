package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"livepreview/internal/gateway/config"
	docrepo "livepreview/internal/gateway/repository/document"
	"livepreview/internal/gateway/repository/upload"
)

const bucketCheckTimeout = 5 * time.Second

type gatewayStores struct {
	documents docrepo.Store
	uploads   upload.Signer
	close     func() error
}

func initStores(cfg *config.Config) (*gatewayStores, error) {
	uploads, err := chooseUploadSigner(cfg)
	if err != nil {
		return nil, err
	}
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		return initPostgresStores(dsn, cfg, uploads)
	}
	return initInMemoryStores(cfg, uploads)
}

func initPostgresStores(dsn string, cfg *config.Config, uploads upload.Signer) (*gatewayStores, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := docrepo.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	documents, err := docrepo.NewCachedStore(docrepo.NewPostgresStore(db), cfg.DocumentCache)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Printf("document store: postgres (cache=%d)", cfg.DocumentCache)
	return &gatewayStores{documents: documents, uploads: uploads, close: db.Close}, nil
}

func initInMemoryStores(cfg *config.Config, uploads upload.Signer) (*gatewayStores, error) {
	log.Printf("document store: in-memory")
	return &gatewayStores{
		documents: docrepo.NewMemoryStore(),
		uploads:   uploads,
		close:     func() error { return nil },
	}, nil
}

func chooseUploadSigner(cfg *config.Config) (upload.Signer, error) {
	up := cfg.Upload
	if up.CanUseS3() {
		signer, err := upload.NewS3Signer(upload.S3Config{
			Endpoint:  up.Endpoint,
			Region:    up.Region,
			AccessKey: up.AccessKey,
			SecretKey: up.SecretKey,
			Bucket:    up.Bucket,
			UseSSL:    up.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize upload signer: %w", err)
		}
		// An unreachable endpoint at boot is not fatal; presigning works offline.
		ctx, cancel := context.WithTimeout(context.Background(), bucketCheckTimeout)
		defer cancel()
		if err := signer.EnsureBucket(ctx); err != nil {
			log.Printf("upload signer: ensure bucket %s: %v", up.Bucket, err)
		}
		log.Printf("upload signer: s3 bucket=%s endpoint=%s", up.Bucket, up.Endpoint)
		return signer, nil
	}
	if up.Enabled {
		log.Printf("upload signer: using static fallback (s3 config incomplete)")
	}
	if strings.TrimSpace(up.StaticBase) == "" {
		return nil, nil
	}
	return upload.NewStaticSigner(up.StaticBase), nil
}
