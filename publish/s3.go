package publish

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/brettboylen/mischief-tracker/models"
)

const (
	DefaultS3Key  = "bounty-data.json"
	cacheControl  = "max-age=3600"
	jsonMediaType = "application/json"
)

type objectPutter interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// S3Sink writes the result as a single JSON object
type S3Sink struct {
	client objectPutter
	bucket string
	key    string
}

// NewS3Sink creates an S3 sink using the default credential chain
func NewS3Sink(bucket, key, region string) (*S3Sink, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	if key == "" {
		key = DefaultS3Key
	}
	return &S3Sink{
		client: s3.New(sess),
		bucket: bucket,
		key:    key,
	}, nil
}

func (s *S3Sink) Name() string {
	return "s3"
}

func (s *S3Sink) Publish(ctx context.Context, result *models.ReconciledResult) error {
	body, err := encode(result)
	if err != nil {
		return err
	}

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(s.key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String(jsonMediaType),
		CacheControl: aws.String(cacheControl),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}
