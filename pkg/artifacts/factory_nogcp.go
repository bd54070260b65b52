//go:build !gcp

package artifacts

import (
	"context"
	"fmt"

	"github.com/weftworks/weft/pkg/config"
)

func newGCSStoreFromConfig(context.Context, *config.Config) (Store, error) {
	return nil, fmt.Errorf("artifacts: gcs storage is not enabled in this build (use -tags gcp)")
}
