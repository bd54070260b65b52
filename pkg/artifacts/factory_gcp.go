//go:build gcp

package artifacts

import (
	"context"
	"fmt"

	"github.com/weftworks/weft/pkg/config"
)

func newGCSStoreFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.ArtifactBucket == "" {
		return nil, fmt.Errorf("artifacts: ARTIFACT_BUCKET is required for gcs storage")
	}
	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: cfg.ArtifactBucket,
		Prefix: cfg.ArtifactPrefix,
	})
}
