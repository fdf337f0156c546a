package blob

import (
	"context"
	"fmt"

	"github.com/example/docpipe/api-go/internal/config"
)

// Open builds the blob store selected by cfg.
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	switch cfg.Kind {
	case config.BlobLocal:
		return LocalFS{Root: cfg.UploadDir}, nil
	case config.BlobMinio:
		return NewMinio(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.Bucket, cfg.MinioUseSSL)
	case config.BlobGCS:
		return NewGCS(ctx, cfg.Bucket)
	default:
		return nil, fmt.Errorf("unknown blob kind %q", cfg.Kind)
	}
}
