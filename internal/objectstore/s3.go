package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dmitrijs2005/hivenode/internal/filex"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configures an S3 (or MinIO) backed object network.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// NodeID names this node's pin markers. Nodes sharing a bucket share
	// blobs but keep separate pins.
	NodeID  string
	TempDir string
}

// S3Backend keeps each object once under <prefix>/blobs/<cid> and records
// pins as empty markers under <prefix>/pins/<cid>/<node>. A blob is deleted
// when its last marker goes.
type S3Backend struct {
	client s3API
	opts   S3Options
}

func NewS3Backend(ctx context.Context, opts S3Options) (*S3Backend, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = true
	})
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &S3Backend{client: client, opts: opts}, nil
}

func (s *S3Backend) blobKey(cid string) string {
	return path.Join(s.opts.Prefix, "blobs", cid)
}

func (s *S3Backend) pinPrefix(cid string) string {
	return path.Join(s.opts.Prefix, "pins", cid) + "/"
}

func (s *S3Backend) pinKey(cid string) string {
	return s.pinPrefix(cid) + s.opts.NodeID
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

func (s *S3Backend) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head %s: %w", key, err)
}

func (s *S3Backend) mark(ctx context.Context, cid string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(s.pinKey(cid)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return fmt.Errorf("s3 pin %s: %w", cid, err)
	}
	return nil
}

// Add spools r to disk to learn its CID before uploading, so a blob that is
// already present is never written twice.
func (s *S3Backend) Add(ctx context.Context, r io.Reader) (string, error) {
	f, cleanup, err := filex.TempFile(s.opts.TempDir, "s3-")
	if err != nil {
		return "", err
	}
	defer cleanup()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		return "", err
	}
	cid, err := rawCID(h.Sum(nil))
	if err != nil {
		return "", err
	}

	found, err := s.exists(ctx, s.blobKey(cid))
	if err != nil {
		return "", err
	}
	if !found {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.opts.Bucket),
			Key:           aws.String(s.blobKey(cid)),
			Body:          f,
			ContentLength: aws.Int64(n),
		})
		if err != nil {
			return "", fmt.Errorf("s3 put %s: %w", cid, err)
		}
	}
	return cid, s.mark(ctx, cid)
}

func (s *S3Backend) Cat(ctx context.Context, cid string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.blobKey(cid)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", cid, err)
	}
	return out.Body, nil
}

func (s *S3Backend) Pin(ctx context.Context, cid string) error {
	found, err := s.exists(ctx, s.blobKey(cid))
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return s.mark(ctx, cid)
}

func (s *S3Backend) Unpin(ctx context.Context, cid string) error {
	pinned, err := s.exists(ctx, s.pinKey(cid))
	if err != nil {
		return err
	}
	if !pinned {
		return ErrNotPinned
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.pinKey(cid)),
	}); err != nil {
		return fmt.Errorf("s3 unpin %s: %w", cid, err)
	}

	left, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.opts.Bucket),
		Prefix:  aws.String(s.pinPrefix(cid)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("s3 list pins %s: %w", cid, err)
	}
	if len(left.Contents) > 0 {
		return nil
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.blobKey(cid)),
	}); err != nil && !isS3NotFound(err) {
		return fmt.Errorf("s3 delete %s: %w", cid, err)
	}
	return nil
}

func (s *S3Backend) Pinned(ctx context.Context, cid string) (bool, error) {
	return s.exists(ctx, s.pinKey(cid))
}
