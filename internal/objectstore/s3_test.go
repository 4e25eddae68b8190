package objectstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket; puts counts PutObject calls per key.
type fakeS3 struct {
	s3API
	mu      sync.Mutex
	objects map[string][]byte
	puts    map[string]int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, puts: map[string]int{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	f.puts[*in.Key]++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		if strings.HasPrefix(k, *in.Prefix) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func newTestS3(t *testing.T, fake *fakeS3, node string) *S3Backend {
	t.Helper()
	orig := newS3ClientFromConfig
	newS3ClientFromConfig = func(aws.Config, ...func(*s3.Options)) s3API { return fake }
	t.Cleanup(func() { newS3ClientFromConfig = orig })

	b, err := NewS3Backend(context.Background(), S3Options{
		Bucket: "hive", Prefix: "objects", Region: "us-east-1",
		Endpoint: "http://minio:9000", AccessKey: "k", SecretKey: "s",
		NodeID: node, TempDir: t.TempDir(),
	})
	require.NoError(t, err)
	return b
}

func TestS3Backend_AddDedupes(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	b := newTestS3(t, fake, "node-a")

	cid1, err := b.Add(ctx, strings.NewReader("blob"))
	require.NoError(t, err)
	cid2, err := b.Add(ctx, strings.NewReader("blob"))
	require.NoError(t, err)
	assert.Equal(t, cid1, cid2)
	assert.Equal(t, 1, fake.puts["objects/blobs/"+cid1])

	ok, err := b.Pinned(ctx, cid1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestS3Backend_SharedBucketPins(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	a := NewClient(newTestS3(t, fake, "node-a"))
	b := NewClient(newTestS3(t, fake, "node-b"))

	cid, err := a.Add(ctx, strings.NewReader("backup"))
	require.NoError(t, err)
	require.NoError(t, b.Pin(ctx, cid))

	require.NoError(t, a.Unpin(ctx, cid))
	_, stillThere := fake.objects["objects/blobs/"+cid]
	assert.True(t, stillThere)

	require.NoError(t, b.Unpin(ctx, cid))
	_, stillThere = fake.objects["objects/blobs/"+cid]
	assert.False(t, stillThere)

	require.NoError(t, b.Unpin(ctx, cid))
}

func TestS3Backend_CatMissing(t *testing.T) {
	b := newTestS3(t, newFakeS3(), "node-a")
	cid, _ := ComputeCID(strings.NewReader("none"))
	_, err := b.Cat(context.Background(), cid)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, b.Pin(context.Background(), cid), ErrNotFound)
}
