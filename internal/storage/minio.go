package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// minioAPI is the subset of *minio.Client used here, mockable in tests.
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader *bytes.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

type minioClientWrapper struct{ c *minio.Client }

func (w minioClientWrapper) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return w.c.BucketExists(ctx, bucketName)
}
func (w minioClientWrapper) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return w.c.MakeBucket(ctx, bucketName, opts)
}
func (w minioClientWrapper) PutObject(ctx context.Context, bucketName, objectName string, reader *bytes.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return w.c.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}
func (w minioClientWrapper) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return w.c.RemoveObject(ctx, bucketName, objectName, opts)
}

// ImageStore keeps message images in an object bucket.
type ImageStore struct {
	api       minioAPI
	bucket    string
	publicURL string
}

// NewImageStore wraps a real client and makes sure the bucket exists.
func NewImageStore(ctx context.Context, client *minio.Client, bucket, publicURL string) (*ImageStore, error) {
	return NewImageStoreWithAPI(ctx, minioClientWrapper{c: client}, bucket, publicURL)
}

// NewImageStoreWithAPI allows injecting a fake API.
func NewImageStoreWithAPI(ctx context.Context, api minioAPI, bucket, publicURL string) (*ImageStore, error) {
	s := &ImageStore{api: api, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}

	exists, err := api.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := api.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return s, nil
}

// StoreImage decodes input, uploads it under messages/<sender>/ and returns its URL.
func (s *ImageStore) StoreImage(ctx context.Context, senderID int, input string) (string, error) {
	img, err := DecodeImage(input)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("messages/%d/%s%s", senderID, uuid.NewString(), img.Extension)
	_, err = s.api.PutObject(ctx, s.bucket, key, bytes.NewReader(img.Data), int64(len(img.Data)), minio.PutObjectOptions{
		ContentType: img.MIME,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}
	return s.URL(key), nil
}

// RemoveImage deletes an object previously returned by StoreImage. Foreign URLs are ignored.
func (s *ImageStore) RemoveImage(ctx context.Context, url string) error {
	key, ok := s.keyOf(url)
	if !ok {
		return nil
	}
	if err := s.api.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// URL is the public address of key.
func (s *ImageStore) URL(key string) string {
	return s.publicURL + "/" + s.bucket + "/" + key
}

func (s *ImageStore) keyOf(url string) (string, bool) {
	prefix := s.publicURL + "/" + s.bucket + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	return strings.TrimPrefix(url, prefix), true
}
