// Package s3 stores blobs in an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"xasdb/config"
)

// ErrIncompleteS3Config is returned when the S3 configuration is incomplete.
var ErrIncompleteS3Config = errors.New("incomplete S3 configuration")

// ErrBlobNotFound is returned when a blob is not found.
var ErrBlobNotFound = errors.New("blob not found")

// Blob is an S3-backed blob store.
type Blob struct {
	S3Client *s3.Client
	Timeout  time.Duration
	Bucket   string
}

// New builds the S3 client from configuration.
func New(cfg config.S3) (*Blob, error) {
	if strings.TrimSpace(cfg.AccessKey) == "" ||
		strings.TrimSpace(cfg.KeyID) == "" ||
		strings.TrimSpace(cfg.Endpoint) == "" ||
		strings.TrimSpace(cfg.Region) == "" ||
		strings.TrimSpace(cfg.Bucket) == "" ||
		strings.TrimSpace(cfg.Timeout) == "" {
		return nil, fmt.Errorf("%w", ErrIncompleteS3Config)
	}

	s3Client := s3.New(s3.Options{
		UsePathStyle: true,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Region:       cfg.Region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.AccessKey, ""),
		),
	})

	timeoutDuration, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid S3 timeout value: %w", err)
	}

	return &Blob{
		S3Client: s3Client,
		Timeout:  timeoutDuration,
		Bucket:   cfg.Bucket,
	}, nil
}

// Store uploads content under its sha256 key. The second return value
// reports whether this call created the object; keys are content-addressed
// and may be shared, so only the creator may safely delete one on a failure
// path.
func (b *Blob) Store(content []byte) (string, bool, error) {
	hash := sha256.Sum256(content)
	key := hex.EncodeToString(hash[:])

	headCtx, headCancel := context.WithTimeout(context.Background(), b.Timeout)
	defer headCancel()
	_, err := b.S3Client.HeadObject(headCtx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err == nil {
		return key, false, nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return "", false, fmt.Errorf("failed to probe blob in S3: %w", err)
	}

	uploader := manager.NewUploader(b.S3Client)

	ctx, cancel := context.WithTimeout(context.Background(), b.Timeout)
	defer cancel()
	result, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.objectKey(key)),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		var mu manager.MultiUploadFailure
		if errors.As(err, &mu) {
			log.Error().
				Msg(fmt.Sprintf("multi-upload failure (upload_id: %s): %v", mu.UploadID(), mu))

			return "", false, fmt.Errorf("multi-upload failure (upload_id: %s): %w", mu.UploadID(), mu)
		}

		log.Error().Err(err).Msg("upload failure")

		return "", false, fmt.Errorf("upload failure: %w", err)
	}
	log.Debug().
		Str("location", result.Location).
		Msg("uploaded blob to s3 bucket")

	return key, true, nil
}

// Get retrieves a blob by key.
func (b *Blob) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.Timeout)
	defer cancel()
	object, err := b.S3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		var notFoundErr *types.NoSuchKey
		if errors.As(err, &notFoundErr) {
			return nil, ErrBlobNotFound
		}

		return nil, fmt.Errorf("failed to get blob from S3: %w", err)
	}

	var content []byte
	if object.Body != nil {
		defer func() {
			if cerr := object.Body.Close(); cerr != nil {
				log.Error().Err(cerr).Msg("failed to close S3 object body")
			}
		}()
		content, err = io.ReadAll(object.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read blob content: %w", err)
		}
	} else {
		content = []byte{}
	}

	return content, nil
}

// Delete removes a blob by key.
func (b *Blob) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.Timeout)
	defer cancel()
	_, err := b.S3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob from S3: %w", err)
	}

	return nil
}

// objectKey fans objects out over two-character prefix directories.
func (b *Blob) objectKey(key string) string {
	prefix := key
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}

	return path.Join(prefix, key)
}
