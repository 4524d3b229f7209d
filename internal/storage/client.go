package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectTooLarge is returned by ReadObject when the object exceeds the
// caller's size limit.
var ErrObjectTooLarge = errors.New("object exceeds size limit")

// immutableCacheControl suits content-addressed output keys.
const immutableCacheControl = "public, max-age=31536000, immutable"

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

// Object is a fetched source image with the content type it was uploaded as.
type Object struct {
	Data        []byte
	ContentType string
}

type Client struct {
	minio  *minio.Client
	bucket string
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Client{
		minio:  mc,
		bucket: cfg.Bucket,
	}, nil
}

// Connect builds a client and makes sure its bucket exists.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	bucketCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.EnsureBucket(bucketCtx); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := c.minio.BucketExists(ctx, c.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}

	return nil
}

func (c *Client) PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := c.minio.PresignedPutObject(ctx, c.bucket, objectKey, expiry)
	if err != nil {
		return "", fmt.Errorf("presign put object: %w", err)
	}
	return u.String(), nil
}

func (c *Client) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := c.minio.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isMissing(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", objectKey, err)
}

// ReadObject downloads objectKey. A positive maxBytes rejects larger
// objects before the body is read.
func (c *Client) ReadObject(ctx context.Context, objectKey string, maxBytes int64) (Object, error) {
	obj, err := c.minio.GetObject(ctx, c.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, fmt.Errorf("get object %s: %w", objectKey, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return Object{}, fmt.Errorf("stat object %s: %w", objectKey, err)
	}
	if maxBytes > 0 && info.Size > maxBytes {
		return Object{}, fmt.Errorf("%w: %s is %d bytes", ErrObjectTooLarge, objectKey, info.Size)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return Object{}, fmt.Errorf("read object %s: %w", objectKey, err)
	}
	return Object{Data: data, ContentType: info.ContentType}, nil
}

// WriteObject uploads data. metadata is stored as user metadata
// (x-amz-meta-*) next to the object.
func (c *Client) WriteObject(ctx context.Context, objectKey string, data []byte, contentType string, metadata map[string]string) error {
	_, err := c.minio.PutObject(
		ctx,
		c.bucket,
		objectKey,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  contentType,
			CacheControl: immutableCacheControl,
			UserMetadata: metadata,
		},
	)
	if err != nil {
		return fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return nil
}

func isMissing(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject"
}
