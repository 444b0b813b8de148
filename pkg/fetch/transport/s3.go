package transport

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/manifest"
)

// S3Config selects the bucket service. Credentials are anonymous unless
// Credentials is set.
type S3Config struct {
	Region      string
	Endpoint    string
	PathStyle   bool
	Credentials aws.CredentialsProvider
	HTTPClient  *http.Client
}

// S3 reads artifacts from a bucket. Locations are "bucket/key".
type S3 struct {
	client *s3.Client
}

// NewS3 creates an S3 source
func NewS3(cfg S3Config) *S3 {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		UsePathStyle: cfg.PathStyle,
		// the orchestrator owns retries
		RetryMaxAttempts: 1,
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.Credentials == nil {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.HTTPClient != nil {
		opts.HTTPClient = cfg.HTTPClient
	}
	return &S3{client: s3.New(opts)}
}

// SplitLocation returns the bucket and key of an s3 location
func SplitLocation(location string) (bucket, key string, err error) {
	location = strings.TrimPrefix(location, "s3://")
	bucket, key, ok := strings.Cut(location, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", errors.Newf(errors.ErrInvalidInput, "s3 location %q is not bucket/key", location).
			WithDetail("location", location)
	}
	return bucket, key, nil
}

// Fetch streams the object named by the component's location
func (s *S3) Fetch(ctx context.Context, c *manifest.Component) (io.ReadCloser, error) {
	bucket, key, err := SplitLocation(Expand(c.Location, c.Version))
	if err != nil {
		return nil, err
	}

	log := logging.GetLogger("transport.s3")
	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Msg("Getting object")

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		// smithy response errors carry the HTTP status
		var re interface{ HTTPStatusCode() int }
		if stderrors.As(err, &re) {
			return nil, &StatusError{Code: re.HTTPStatusCode(), URL: "s3://" + bucket + "/" + key}
		}
		return nil, err
	}
	return out.Body, nil
}
