package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store keeps wallpaper binaries in an S3-compatible bucket. Objects
// are publicly readable; the gallery hands out deterministic URLs of
// the form {public_base}/{bucket}/{device}/{name} without touching the
// network.
type S3Store struct {
	client     *s3.Client
	bucket     string
	publicBase string
}

// NewS3Store builds a client for the configured bucket. A custom
// endpoint with path-style addressing covers non-AWS object stores.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 asset backend requires a bucket")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicBase := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if publicBase == "" {
		publicBase = strings.TrimSuffix(cfg.Endpoint, "/")
	}

	return &S3Store{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: publicBase,
	}, nil
}

// Save uploads data under a freshly generated name and returns its location.
func (s *S3Store) Save(ctx context.Context, device, ext string, data io.Reader) (string, error) {
	location := newLocation(device, ext)
	if err := s.Put(ctx, location, data); err != nil {
		return "", err
	}
	return location, nil
}

// Put uploads data at an exact location.
func (s *S3Store) Put(ctx context.Context, location string, data io.Reader) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
		Body:   data,
	}
	if ct := mime.TypeByExtension(path.Ext(location)); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload asset %s: %w", location, err)
	}
	return nil
}

// Open streams the stored object.
func (s *S3Store) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset %s: %w", location, err)
	}
	return out.Body, nil
}

// Resolve builds the public URL. No network call; the object may still
// be missing if an upload partially failed.
func (s *S3Store) Resolve(location string) Ref {
	return Ref{URL: PublicURL(s.publicBase, s.bucket, location)}
}

// Delete removes the object. S3 deletes are idempotent, so a missing
// key is not an error.
func (s *S3Store) Delete(ctx context.Context, location string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		return fmt.Errorf("failed to delete asset %s: %w", location, err)
	}
	return nil
}

// Sweep lists the bucket and removes objects not referenced by any
// live location.
func (s *S3Store) Sweep(ctx context.Context, live map[string]bool) (int, error) {
	removed := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("failed to list bucket: %w", err)
		}

		var orphans []types.ObjectIdentifier
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if live[key] || isDerived(key, live) {
				continue
			}
			orphans = append(orphans, types.ObjectIdentifier{Key: obj.Key})
		}
		if len(orphans) == 0 {
			continue
		}

		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: orphans},
		})
		if err != nil {
			return removed, fmt.Errorf("failed to remove orphans: %w", err)
		}
		removed += len(orphans)
	}
	return removed, nil
}

// PublicURL is the deterministic public address of a stored object.
func PublicURL(publicBase, bucket, location string) string {
	return publicBase + "/" + bucket + "/" + location
}
