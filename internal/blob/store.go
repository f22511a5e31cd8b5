package blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/therealityreport/socializer-backend/internal/config"
)

// Store keeps raw ingest payloads in object storage so a thread can be
// replayed without going back to the API.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewStore(ctx context.Context, cfg config.BlobSettings) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("could not load aws config: %w", err)
	}

	var optFns []func(*s3.Options)
	if cfg.Endpoint != "" {
		optFns = append(optFns, func(o *s3.Options) {
			o.EndpointResolver = s3.EndpointResolverFromURL(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg, optFns...),
		bucket: cfg.Bucket,
		prefix: cfg.RawPrefix,
	}, nil
}

// SubmissionKey is the canonical layout for archived payloads.
func SubmissionKey(prefix, subreddit, redditID string, at time.Time) string {
	return fmt.Sprintf("%s/reddit/%s/%s/%s.json", prefix, subreddit, redditID, at.UTC().Format("20060102T150405Z"))
}

// ArchiveSubmission writes one raw payload and returns its key.
func (s *Store) ArchiveSubmission(ctx context.Context, subreddit, redditID string, payload []byte, at time.Time) (string, error) {
	key := SubmissionKey(s.prefix, subreddit, redditID, at)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("could not archive submission: %w", err)
	}

	return key, nil
}
