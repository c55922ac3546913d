package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cloo-solutions/ragchat/internal/domain"
)

// S3ClientConfig holds configuration for S3Client
type S3ClientConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
}

// S3Client stores source documents in an S3-compatible bucket.
type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	endpoint string
}

// NewS3Client creates a new S3Client with the given configuration. Static
// credentials are used when both keys are set; otherwise the default AWS
// credential chain applies.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*S3Client, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if cfg.Endpoint != "" {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		},
	)

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithEndpointResolverWithOptions(customResolver),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Client{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}, nil
}

// Container returns the bucket name.
func (c *S3Client) Container() string {
	return c.bucket
}

// EnsureContainer creates the bucket if it doesn't exist
func (c *S3Client) EnsureContainer(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = c.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return domain.ErrStorageOperation.WithCause(fmt.Errorf("failed to create bucket %s: %w", c.bucket, err))
	}

	return nil
}

// Upload writes an object, overwriting any previous version.
func (c *S3Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return domain.ErrStorageOperation.WithCause(fmt.Errorf("failed to upload %s: %w", key, err))
	}
	return nil
}

// List returns all objects under prefix.
func (c *S3Client) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(c.bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var objects []domain.ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, domain.ErrStorageOperation.WithCause(fmt.Errorf("failed to list objects: %w", err))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			objects = append(objects, domain.ObjectInfo{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				ContentType:  ContentTypeFor(key),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// Open streams an object's content. The caller closes the reader.
func (c *S3Client) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, domain.ErrObjectNotFound.WithCause(fmt.Errorf("key %s", key))
		}
		return nil, domain.ErrStorageOperation.WithCause(fmt.Errorf("failed to get %s: %w", key, err))
	}
	return out.Body, nil
}

// Delete removes an object from storage
func (c *S3Client) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.ErrStorageOperation.WithCause(fmt.Errorf("failed to delete %s: %w", key, err))
	}
	return nil
}

// URL returns the address of an object, used as the citation path.
func (c *S3Client) URL(key string) string {
	return objectURL(c.endpoint, c.bucket, key)
}

func objectURL(endpoint, bucket, key string) string {
	if endpoint == "" {
		return "s3://" + bucket + "/" + key
	}
	return endpoint + "/" + bucket + "/" + key
}
