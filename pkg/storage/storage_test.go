package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/rowpack/pkg/config"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

func readAll(t *testing.T, s Store, name string) string {
	t.Helper()
	rc, err := s.Get(context.Background(), name)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "data")
	s := NewLocalStore(root)

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names, "missing root lists as empty")

	require.NoError(t, s.Put(ctx, "2024/01/a.rows", strings.NewReader("first")))
	require.NoError(t, s.Put(ctx, "2024/02/b.rows", strings.NewReader("second")))
	require.NoError(t, s.Put(ctx, "c.rows", strings.NewReader("third")))
	assert.Equal(t, "first", readAll(t, s, "2024/01/a.rows"))

	require.NoError(t, s.Put(ctx, "c.rows", strings.NewReader("replaced")))
	assert.Equal(t, "replaced", readAll(t, s, "c.rows"))

	names, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024/01/a.rows", "2024/02/b.rows", "c.rows"}, names)

	names, err = s.List(ctx, "2024/")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024/01/a.rows", "2024/02/b.rows"}, names)

	require.NoError(t, s.Delete(ctx, "c.rows"))
	require.NoError(t, s.Delete(ctx, "c.rows"), "deleting twice is fine")

	_, err = s.Get(ctx, "c.rows")
	require.Error(t, err)
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeStorage))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreSkipsTemporaryFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".tmp-x.rows-123"), []byte("partial"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "x.rows"), []byte("whole"), 0o600))

	names, err := NewLocalStore(root).List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.rows"}, names)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestLocalStoreFailedPutLeavesNothing(t *testing.T) {
	root := t.TempDir()
	s := NewLocalStore(root)
	err := s.Put(context.Background(), "x.rows", failingReader{})
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeStorage))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInvalidNames(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	for _, name := range []string{"", ".", "..", "../escape", "/abs", "a/../../b"} {
		t.Run(name, func(t *testing.T) {
			err := s.Put(context.Background(), name, strings.NewReader("x"))
			assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeStorage), "%v", err)
		})
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewLocalStore(t.TempDir())
	assert.ErrorIs(t, s.Put(ctx, "a", strings.NewReader("x")), context.Canceled)
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		uri     string
		wantErr bool
		local   string
	}{
		{"bare path", dir, false, dir},
		{"file uri", "file://" + dir, false, dir},
		{"unknown scheme", "ftp://host/x", true, ""},
		{"s3 without bucket", "s3:///x", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(context.Background(), config.StorageConfig{URI: tt.uri})
			if tt.wantErr {
				assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeConfig))
				return
			}
			require.NoError(t, err)
			local, ok := s.(*LocalStore)
			require.True(t, ok)
			assert.Equal(t, tt.local, local.Root())
		})
	}
}

func TestOpenS3(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	s, err := Open(context.Background(), config.StorageConfig{
		URI:          "s3://bucket/exports/daily/",
		Region:       "us-east-1",
		Endpoint:     "http://localhost:9000",
		UsePathStyle: true,
	})
	require.NoError(t, err)
	s3s, ok := s.(*S3Store)
	require.True(t, ok)
	assert.Equal(t, "bucket", s3s.bucket)
	assert.Equal(t, "exports/daily", s3s.prefix)
}

// mockS3Client implements S3Client with testify/mock.
type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3Client) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.UploadPartOutput)
	return out, args.Error(1)
}

func (m *mockS3Client) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.CreateMultipartUploadOutput)
	return out, args.Error(1)
}

func (m *mockS3Client) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.CompleteMultipartUploadOutput)
	return out, args.Error(1)
}

func (m *mockS3Client) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.AbortMultipartUploadOutput)
	return out, args.Error(1)
}

func (m *mockS3Client) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3Client) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.DeleteObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3Client) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.ListObjectsV2Output)
	return out, args.Error(1)
}

func TestS3StorePut(t *testing.T) {
	client := new(mockS3Client)
	store := NewS3Store(client, "bucket", "/exports/")

	var uploaded []byte
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "bucket" && *in.Key == "exports/day/a.rows"
	})).Run(func(args mock.Arguments) {
		in := args.Get(1).(*s3.PutObjectInput)
		uploaded, _ = io.ReadAll(in.Body)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	require.NoError(t, store.Put(context.Background(), "day/a.rows", bytes.NewReader([]byte("ROWS"))))
	assert.Equal(t, "ROWS", string(uploaded))
	client.AssertExpectations(t)
}

func TestS3StoreGet(t *testing.T) {
	client := new(mockS3Client)
	store := NewS3Store(client, "bucket", "exports")

	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Key == "exports/a.rows"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("payload"))}, nil).Once()
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Key == "exports/missing.rows"
	})).Return(nil, &types.NoSuchKey{}).Once()
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Key == "exports/denied.rows"
	})).Return(nil, errors.New("access denied")).Once()

	assert.Equal(t, "payload", readAll(t, store, "a.rows"))

	_, err := store.Get(context.Background(), "missing.rows")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(context.Background(), "denied.rows")
	assert.True(t, rowerrors.IsType(err, rowerrors.ErrorTypeStorage))
	assert.NotErrorIs(t, err, ErrNotFound)
	client.AssertExpectations(t)
}

func TestS3StoreDelete(t *testing.T) {
	client := new(mockS3Client)
	store := NewS3Store(client, "bucket", "")

	client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return *in.Bucket == "bucket" && *in.Key == "a.rows"
	})).Return(&s3.DeleteObjectOutput{}, nil).Once()

	require.NoError(t, store.Delete(context.Background(), "a.rows"))
	client.AssertExpectations(t)
}

func TestS3StoreListPagination(t *testing.T) {
	client := new(mockS3Client)
	store := NewS3Store(client, "bucket", "exports")

	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return *in.Prefix == "exports/day" && in.ContinuationToken == nil
	})).Return(&s3.ListObjectsV2Output{
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("token"),
		Contents:              []types.Object{{Key: aws.String("exports/day2/b.rows")}},
	}, nil).Once()
	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return in.ContinuationToken != nil && *in.ContinuationToken == "token"
	})).Return(&s3.ListObjectsV2Output{
		IsTruncated: aws.Bool(false),
		Contents:    []types.Object{{Key: aws.String("exports/day1/a.rows")}},
	}, nil).Once()

	names, err := store.List(context.Background(), "day")
	require.NoError(t, err)
	assert.Equal(t, []string{"day1/a.rows", "day2/b.rows"}, names)
	client.AssertExpectations(t)
}
