// Package s3store implements repository.FrameStore on S3 or any
// S3-compatible object store (MinIO, R2, ...).
//
// Object keys mirror the disk layout: <prefix><user>/<slot>/<name>.
// Listings use "/" as delimiter so only direct children of a slot count,
// matching the non-recursive semantics of the disk backend.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sakif/protoface/internal/apperror"
	"github.com/sakif/protoface/internal/config"
	"github.com/sakif/protoface/internal/repository"
)

// deleteBatch is the S3 limit on keys per DeleteObjects call.
const deleteBatch = 1000

var _ repository.FrameStore = (*Store)(nil)

// Swappable in tests.
var (
	loadDefaultAWSConfig  = awsconfig.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// API is the subset of *s3.Client the store uses.
type API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Store is the object-storage-backed frame store.
type Store struct {
	api    API
	bucket string
	prefix string
}

// New builds an S3 client from cfg. Static credentials are used when an
// access key is configured, otherwise the default AWS credential chain.
// A custom endpoint switches to path-style addressing.
func New(ctx context.Context, cfg config.S3Config) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithAPI(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, bucket, prefix string) *Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{api: api, bucket: bucket, prefix: prefix}
}

func (s *Store) slotPrefix(user string, slot int) string {
	return s.prefix + user + "/" + strconv.Itoa(slot) + "/"
}

// Provision is a no-op: object stores have no directories to create.
func (s *Store) Provision(_ context.Context, _ string) error {
	return nil
}

func (s *Store) List(ctx context.Context, user string, slot int) ([]repository.Entry, error) {
	prefix := s.slotPrefix(user, slot)
	entries := []repository.Entry{}

	err := s.walk(ctx, prefix, func(obj types.Object) {
		entries = append(entries, repository.Entry{
			Name:    strings.TrimPrefix(aws.ToString(obj.Key), prefix),
			Size:    aws.ToInt64(obj.Size),
			ModTime: aws.ToTime(obj.LastModified),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing slot %d of %s: %w", slot, user, err)
	}
	return entries, nil
}

func (s *Store) walk(ctx context.Context, prefix string, fn func(types.Object)) error {
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			if aws.ToString(obj.Key) == prefix {
				continue
			}
			fn(obj)
		}
	}
	return nil
}

func (s *Store) Put(ctx context.Context, user string, slot int, name string, r io.Reader, size int64, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.slotPrefix(user, slot) + name),
		Body:   r,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}

	if _, err := s.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("putting %s: %w", name, err)
	}
	return nil
}

func (s *Store) Open(ctx context.Context, user string, slot int, name string) (*repository.Object, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.slotPrefix(user, slot) + name),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, apperror.NotFound("frame", name)
		}
		return nil, fmt.Errorf("getting %s: %w", name, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &repository.Object{
		ReadCloser:  out.Body,
		Size:        size,
		ModTime:     aws.ToTime(out.LastModified),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

func (s *Store) Clear(ctx context.Context, user string, slot int) error {
	var ids []types.ObjectIdentifier
	err := s.walk(ctx, s.slotPrefix(user, slot), func(obj types.Object) {
		ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
	})
	if err != nil {
		return fmt.Errorf("listing slot %d of %s: %w", slot, user, err)
	}

	for start := 0; start < len(ids); start += deleteBatch {
		end := min(start+deleteBatch, len(ids))
		out, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: ids[start:end],
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("deleting slot %d of %s: %w", slot, user, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("deleting %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}
