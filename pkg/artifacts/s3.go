package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/weftworks/weft/pkg/canonicalize"
)

// S3Store is the S3-backed CAS. Object keys are the storage path under an
// optional bucket prefix.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3StoreConfig holds S3 connection settings. Endpoint supports MinIO and
// LocalStack.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("artifacts: load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO/LocalStack
		}
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) Store(ctx context.Context, tenantID string, data []byte) (string, string, error) {
	digest := canonicalize.Digest(data)
	path, err := blobPath(tenantID, digest)
	if err != nil {
		return "", "", err
	}
	key := s.prefix + path

	// HeadObject first keeps re-stores cheap; the content address makes
	// the overwrite race harmless either way.
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return digest, path, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", "", fmt.Errorf("artifacts: s3 put: %w", err)
	}
	return digest, path, nil
}

func (s *S3Store) Get(ctx context.Context, tenantID, digest string) ([]byte, error) {
	path, err := blobPath(tenantID, digest)
	if err != nil {
		return nil, err
	}
	return s.GetPath(ctx, tenantID, path)
}

func (s *S3Store) GetPath(ctx context.Context, tenantID, path string) ([]byte, error) {
	if err := checkPathTenant(tenantID, path); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + path),
	})
	if err != nil {
		return nil, fmt.Errorf("artifacts: s3 get %s: %w", path, err)
	}
	defer out.Body.Close() //nolint:errcheck // best-effort close

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("artifacts: s3 read %s: %w", path, err)
	}
	return data, nil
}

func (s *S3Store) Exists(ctx context.Context, tenantID, digest string) (bool, error) {
	path, err := blobPath(tenantID, digest)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + path),
	})
	if err != nil {
		return false, nil //nolint:nilerr // head miss means absent
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, tenantID, digest string) error {
	path, err := blobPath(tenantID, digest)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + path),
	})
	if err != nil {
		return fmt.Errorf("artifacts: s3 delete %s: %w", path, err)
	}
	return nil
}
