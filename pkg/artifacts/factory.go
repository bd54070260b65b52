package artifacts

import (
	"context"
	"fmt"

	"github.com/weftworks/weft/pkg/config"
)

// StoreType selects the CAS backend.
type StoreType string

const (
	StoreTypeFS     StoreType = "fs"
	StoreTypeS3     StoreType = "s3"
	StoreTypeGCS    StoreType = "gcs"
	StoreTypeMemory StoreType = "memory"
)

// NewStoreFromConfig builds the CAS named by cfg.ArtifactStorageType.
// GCS requires the gcp build tag; the default build returns a clear error
// instead of a stub client.
func NewStoreFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	switch StoreType(cfg.ArtifactStorageType) {
	case StoreTypeFS, "":
		return NewFileStore(cfg.ArtifactStoragePath)
	case StoreTypeS3:
		if cfg.ArtifactBucket == "" {
			return nil, fmt.Errorf("artifacts: ARTIFACT_BUCKET is required for s3 storage")
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket: cfg.ArtifactBucket,
			Region: cfg.ArtifactS3Region,
			Prefix: cfg.ArtifactPrefix,
		})
	case StoreTypeGCS:
		return newGCSStoreFromConfig(ctx, cfg)
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("artifacts: unsupported storage type: %s", cfg.ArtifactStorageType)
	}
}
