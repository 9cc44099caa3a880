package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/protoface/internal/apperror"
	"github.com/sakif/protoface/internal/config"
)

// fakeS3 is an in-memory bucket. It honours Prefix, Delimiter="/" and pages
// listings two keys at a time so the paginator path is exercised.
type fakeS3 struct {
	mu          sync.Mutex
	objects     map[string][]byte
	types       map[string]string
	deleteCalls int
	putErr      error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	var keys []string
	for k := range f.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if aws.ToString(in.Delimiter) == "/" && strings.Contains(strings.TrimPrefix(k, prefix), "/") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := min(start+2, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k]))),
			LastModified: aws.Time(time.Unix(1700000000, 0)),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(f.types[aws.ToString(in.Key)]),
	}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.ToString(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func put(t *testing.T, s *Store, user string, slot int, name, body string) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), user, slot, name, strings.NewReader(body), int64(len(body)), "image/png"))
}

func TestStore_PutListOpen(t *testing.T) {
	api := newFakeS3()
	s := NewWithAPI(api, "faces", "prod")
	ctx := context.Background()

	for _, n := range []string{"0.png", "1.png", "2.png", "10.png", "3.jpg"} {
		put(t, s, "fox_99", 3, n, "data-"+n)
	}
	put(t, s, "fox_99", 4, "0.png", "other")

	_, ok := api.objects["prod/fox_99/3/10.png"]
	assert.True(t, ok, "key layout is <prefix>/<user>/<slot>/<name>")

	entries, err := s.List(ctx, "fox_99", 3)
	require.NoError(t, err)
	require.Len(t, entries, 5, "all pages are collected")
	for _, e := range entries {
		assert.NotContains(t, e.Name, "/")
	}

	obj, err := s.Open(ctx, "fox_99", 3, "10.png")
	require.NoError(t, err)
	defer obj.Close()
	body, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "data-10.png", string(body))
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, int64(len("data-10.png")), obj.Size)
}

func TestStore_ListSkipsNested(t *testing.T) {
	api := newFakeS3()
	s := NewWithAPI(api, "faces", "")
	api.objects["fox_99/1/nested/0.png"] = []byte("x")
	put(t, s, "fox_99", 1, "0.png", "x")

	entries, err := s.List(context.Background(), "fox_99", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "0.png", entries[0].Name)
}

func TestStore_OpenMissing(t *testing.T) {
	s := NewWithAPI(newFakeS3(), "faces", "")

	_, err := s.Open(context.Background(), "fox_99", 0, "0.png")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestStore_Clear(t *testing.T) {
	api := newFakeS3()
	s := NewWithAPI(api, "faces", "")
	ctx := context.Background()

	require.NoError(t, s.Clear(ctx, "fox_99", 5), "clearing an empty slot succeeds")
	assert.Equal(t, 0, api.deleteCalls, "nothing to delete, no call")

	put(t, s, "fox_99", 5, "0.png", "a")
	put(t, s, "fox_99", 5, "1.png", "b")
	put(t, s, "fox_99", 5, "2.png", "c")
	put(t, s, "fox_99", 6, "0.png", "keep")

	require.NoError(t, s.Clear(ctx, "fox_99", 5))

	entries, err := s.List(ctx, "fox_99", 5)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = s.List(ctx, "fox_99", 6)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_PutError(t *testing.T) {
	api := newFakeS3()
	api.putErr = errors.New("boom")
	s := NewWithAPI(api, "faces", "")

	err := s.Put(context.Background(), "fox_99", 0, "0.png", strings.NewReader("x"), 1, "image/png")
	assert.ErrorContains(t, err, "boom")
}

func TestNew_AppliesConfig(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	var region string
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		region = lo.Region
		assert.NotNil(t, lo.Credentials, "static credentials applied")
		return aws.Config{Region: lo.Region}, nil
	}

	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		for _, fn := range optFns {
			fn(&opts)
		}
		return s3.NewFromConfig(cfg, optFns...)
	}

	s, err := New(context.Background(), config.S3Config{
		Bucket:    "faces",
		Region:    "eu-central-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Prefix:    "p",
	})
	require.NoError(t, err)

	assert.Equal(t, "eu-central-1", region)
	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)
	assert.Equal(t, "p/", s.prefix)
	assert.Equal(t, "faces", s.bucket)
}

func TestNew_LoadError(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = origLoad })

	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}

	_, err := New(context.Background(), config.S3Config{Bucket: "faces"})
	assert.ErrorContains(t, err, "no config")
}
