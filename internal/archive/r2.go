// internal/archive/r2.go
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"workspace-sync-service/pkg/models"
)

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	BucketName      string
}

// R2Client exports pruned audit rows to a Cloudflare R2 bucket through the
// S3 API, so the rolling cap on the local table never loses history.
type R2Client struct {
	client *s3.Client
	config R2Config
}

func NewR2Client(cfg R2Config) (*R2Client, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("missing required R2 configuration parameters")
	}

	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID),
		}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(r2Resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.AccessKeySecret,
			"",
		)),
		// a failed export keeps the rows locally and retries on the next
		// pass, so no SDK-level retries on top
		config.WithRetryer(func() aws.Retryer {
			return aws.NopRetryer{}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	// Verify bucket exists and we have permissions
	_, err = client.HeadBucket(context.TODO(), &s3.HeadBucketInput{
		Bucket: aws.String(cfg.BucketName),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") {
			return nil, fmt.Errorf("bucket %s not found or you don't have permission to access it", cfg.BucketName)
		}
		return nil, fmt.Errorf("failed to access bucket: %w", err)
	}

	return &R2Client{client: client, config: cfg}, nil
}

// Archive uploads the entries as one JSON document under sync_logs/ and
// returns the object key. Keys carry the covered time range so a dump is
// findable without opening it.
func (r *R2Client) Archive(ctx context.Context, entries []models.SyncLogEntry) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("nothing to archive")
	}

	oldest := entries[0].CreatedAt
	newest := entries[len(entries)-1].CreatedAt
	if newest.Before(oldest) {
		oldest, newest = newest, oldest
	}
	key := fmt.Sprintf("sync_logs/%s_%s_%d.json",
		oldest.UTC().Format("20060102T150405Z"),
		newest.UTC().Format("20060102T150405Z"),
		len(entries))

	content, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to encode audit entries: %w", err)
	}

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return key, nil
}
