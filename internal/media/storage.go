// Package media stores job images in S3-compatible object storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"ogacraft/api/internal/util"
)

var ErrUnsupportedType = errors.New("unsupported image type")

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base of returned image URLs; defaults to the endpoint.
	PublicURL string
}

// Image is a stored object and the URL it is served from.
type Image struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Storage uploads job images to a single bucket.
type Storage struct {
	client    objectPutter
	bucket    string
	publicURL string
	logger    zerolog.Logger
}

// NewStorage connects to the object store and creates the bucket when missing.
func NewStorage(ctx context.Context, opts Options, logger zerolog.Logger) (*Storage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	publicURL := opts.PublicURL
	if publicURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + opts.Endpoint
	}
	return newStorage(client, opts.Bucket, publicURL, logger), nil
}

func newStorage(client objectPutter, bucket, publicURL string, logger zerolog.Logger) *Storage {
	return &Storage{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger.With().Str("component", "media").Logger(),
	}
}

// PutJobImage uploads one image for a job and returns its public URL.
func (s *Storage) PutJobImage(ctx context.Context, jobID, contentType string, body io.Reader, size int64) (Image, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return Image{}, ErrUnsupportedType
	}
	ext, ok := allowedTypes[mediaType]
	if !ok {
		return Image{}, ErrUnsupportedType
	}

	key := objectKey(jobID, ext)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: mediaType})
	if err != nil {
		return Image{}, fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Debug().Str("job_id", jobID).Str("key", info.Key).Int64("size", info.Size).Msg("stored job image")
	return Image{Key: key, URL: s.URL(key)}, nil
}

// RemoveJobImage deletes a previously uploaded object.
func (s *Storage) RemoveJobImage(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *Storage) URL(key string) string {
	return s.publicURL + "/" + s.bucket + "/" + key
}

func objectKey(jobID, ext string) string {
	return path.Join("jobs", jobID, util.NewID("img")+ext)
}
