// Package s3 provides the S3 blob store plugin for raw uploaded
// documents, selected with KNOWLEDGE_SERVICE_BLOB_TYPE=s3.
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cola-ai/knowledge-service/internal/config"
	registryblob "github.com/cola-ai/knowledge-service/internal/registry/blob"
	"github.com/cola-ai/knowledge-service/internal/tempfiles"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registryblob.Register(registryblob.Plugin{
		Name:   "s3",
		Loader: load,
	})
}

func load(ctx context.Context) (registryblob.BlobStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 blob store: KNOWLEDGE_SERVICE_S3_BUCKET is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("s3 blob store: load AWS config: %w", err)
	}
	usePathStyle := cfg.S3UsePathStyle
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.UsePathStyle = usePathStyle
	})
	return &S3BlobStore{
		client:  client,
		bucket:  cfg.S3Bucket,
		prefix:  strings.Trim(strings.TrimSpace(cfg.S3Prefix), "/"),
		tempDir: cfg.ResolvedTempDir(),
	}, nil
}

type S3BlobStore struct {
	client  *awss3.Client
	bucket  string
	prefix  string
	tempDir string
}

// s3Key applies the configured bucket prefix. Stored keys never carry it.
func (s *S3BlobStore) s3Key(key string) string {
	if s.prefix != "" {
		return s.prefix + "/" + key
	}
	return key
}

func (s *S3BlobStore) Store(ctx context.Context, key string, data io.Reader, maxSize int64) (*registryblob.StoreResult, error) {
	// S3 needs the content length up front, so the upload is spooled to
	// a local temp file first.
	spooled, err := tempfiles.Spool(s.tempDir, "knowledge-service-s3-upload-*", data, maxSize)
	if err != nil {
		return nil, err
	}
	defer spooled.Close()

	s3Key := s.s3Key(key)
	_, err = s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &s3Key,
		Body:          spooled.File,
		ContentLength: aws.Int64(spooled.Size),
	}, func(o *awss3.Options) {
		o.APIOptions = append(o.APIOptions, v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware)
	})
	if err != nil {
		return nil, fmt.Errorf("s3 blob store: put object: %w", err)
	}
	return &registryblob.StoreResult{
		Key:    key,
		Size:   spooled.Size,
		SHA256: spooled.SHA256,
	}, nil
}

func (s *S3BlobStore) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	s3Key := s.s3Key(key)
	resp, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &s3Key,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 blob store: get object: %w", err)
	}
	return resp.Body, nil
}

func (s *S3BlobStore) Delete(ctx context.Context, key string) error {
	s3Key := s.s3Key(key)
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &s3Key,
	})
	return err
}

func (s *S3BlobStore) DeletePrefix(ctx context.Context, prefix string) error {
	s3Prefix := s.s3Key(prefix)
	if !strings.HasSuffix(s3Prefix, "/") {
		s3Prefix += "/"
	}
	paginator := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &s3Prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3 blob store: list objects: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		objects := make([]types.ObjectIdentifier, len(page.Contents))
		for i, obj := range page.Contents {
			objects[i] = types.ObjectIdentifier{Key: obj.Key}
		}
		_, err = s.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: &s.bucket,
			Delete: &types.Delete{Objects: objects},
		})
		if err != nil {
			return fmt.Errorf("s3 blob store: delete objects: %w", err)
		}
	}
	return nil
}

var _ registryblob.BlobStore = (*S3BlobStore)(nil)
