//go:build integration
// +build integration

package s3

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/content"
	storetesting "github.com/driftdrive/driftdrive/pkg/store/content/testing"
)

// TestS3BlobStore_Integration runs the blob store conformance suite against
// a real S3-compatible service (Localstack).
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./pkg/store/content/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3BlobStore_Integration(t *testing.T) {
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			"test", "test", "",
		)),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true // Required for Localstack
	})

	bucket := "driftdrive-test-bucket"
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	// The bucket may survive from an earlier run; only fail on a fresh error.
	if err != nil {
		t.Logf("CreateBucket: %v (continuing, bucket may already exist)", err)
	}

	counter := 0
	suite := &storetesting.BlobStoreTestSuite{
		NewStore: func(t *testing.T) content.BlobStore {
			// A distinct key prefix per test isolates state in the shared
			// bucket.
			counter++
			store, err := NewS3BlobStore(ctx, S3BlobStoreConfig{
				Client:    client,
				Bucket:    bucket,
				KeyPrefix: fmt.Sprintf("run-%d-%d/", time.Now().UnixNano(), counter),
			})
			require.NoError(t, err)
			return store
		},
	}
	suite.Run(t)
}
