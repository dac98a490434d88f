package infra

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/ducnh/coursereel/config"
	"github.com/ducnh/coursereel/entity"
	"github.com/minio/madmin-go/v3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioClient struct {
	Admin    *madmin.AdminClient
	Client   *minio.Client
	Endpoint string
}

func InitMinioClient(cfg *config.EnvConfig) *MinioClient {
	endpoint := cfg.Minio.Endpoint
	if endpoint == "" {
		panic("MinIO endpoint is not configured")
	}

	rootUser := cfg.Minio.RootUser
	if rootUser == "" {
		panic("MinIO root user is not configured")
	}

	rootPassword := cfg.Minio.RootPassword
	if rootPassword == "" {
		panic("MinIO root password is not configured")
	}

	madminClient, err := madmin.New(endpoint, rootUser, rootPassword, cfg.Minio.UseSSL)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize MinIO admin client: %v", err))
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(rootUser, rootPassword, ""),
		Secure: cfg.Minio.UseSSL,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize MinIO client: %v", err))
	}

	return &MinioClient{
		Admin:    madminClient,
		Client:   minioClient,
		Endpoint: endpoint,
	}
}

// EnsureBucket creates a bucket if it doesn't exist
func (m *MinioClient) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.Client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = m.Client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// PresignedPutURL returns a pre-signed PUT destination for one chunk or frame.
func (m *MinioClient) PresignedPutURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := m.Client.PresignedPutObject(ctx, bucket, key, expiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign put for %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

// PresignedGetURL returns a short-lived signed read URL for a single object.
func (m *MinioClient) PresignedGetURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := m.Client.PresignedGetObject(ctx, bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign get for %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

// StatObject checks existence and returns object metadata. Used for the
// read-back verification probe after a transport reports success.
func (m *MinioClient) StatObject(ctx context.Context, bucket, key string) (*minio.ObjectInfo, error) {
	stat, err := m.Client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to stat object %s/%s: %w", bucket, key, err)
	}
	return &stat, nil
}

// PutObjectStream uploads an object without buffering it in memory
func (m *MinioClient) PutObjectStream(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := m.Client.PutObject(ctx, bucket, key, data, size, opts)
	if err != nil {
		return fmt.Errorf("failed to put object stream: %w", err)
	}
	return nil
}

// GetObjectStream streams an object without loading it into memory
func (m *MinioClient) GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	obj, err := m.Client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get object: %w", err)
	}

	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, 0, fmt.Errorf("failed to stat object: %w", err)
	}

	return obj, stat.Size, nil
}

// ComposeChunks merges uploaded chunks into a single destination object,
// server side, in the given order.
func (m *MinioClient) ComposeChunks(ctx context.Context, srcBucket string, refs []entity.ChunkRef, dstBucket, dstKey, contentType string) error {
	sources := make([]minio.CopySrcOptions, 0, len(refs))
	for _, ref := range refs {
		sources = append(sources, minio.CopySrcOptions{
			Bucket: srcBucket,
			Object: ref.Path,
		})
	}

	dst := minio.CopyDestOptions{
		Bucket:          dstBucket,
		Object:          dstKey,
		UserMetadata:    map[string]string{"Content-Type": contentType},
		ReplaceMetadata: true,
	}

	if _, err := m.Client.ComposeObject(ctx, dst, sources...); err != nil {
		return fmt.Errorf("failed to compose %d chunks into %s/%s: %w", len(refs), dstBucket, dstKey, err)
	}
	return nil
}

// CopyObject copies one object between buckets
func (m *MinioClient) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := m.Client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dstBucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: srcBucket, Object: srcKey},
	)
	if err != nil {
		return fmt.Errorf("failed to copy %s/%s: %w", srcBucket, srcKey, err)
	}
	return nil
}

// RemoveObject deletes an object
func (m *MinioClient) RemoveObject(ctx context.Context, bucket, key string) error {
	err := m.Client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// RemovePrefix deletes every object under prefix, such as an aborted or
// expired session's temp chunks.
func (m *MinioClient) RemovePrefix(ctx context.Context, bucket, prefix string) error {
	objects := m.Client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("failed to list objects under %s: %w", prefix, obj.Err)
		}
		if err := m.Client.RemoveObject(ctx, bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to delete %s: %w", obj.Key, err)
		}
	}
	return nil
}

// Healthy probes the storage cluster through the admin API. Used by the
// batch pre-flight.
func (m *MinioClient) Healthy(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	info, err := m.Admin.ServerInfo(probeCtx)
	if err != nil {
		return fmt.Errorf("storage admin probe failed: %w", err)
	}
	for _, server := range info.Servers {
		if server.State == "online" {
			return nil
		}
	}
	return fmt.Errorf("no online storage servers")
}

// ManifestReader returns a reader over the logical object described by the
// ordered chunk refs, fetching chunks lazily so the whole file is never
// buffered server side.
func (m *MinioClient) ManifestReader(ctx context.Context, bucket string, refs []entity.ChunkRef) io.ReadCloser {
	return newManifestReader(ctx, refs, func(ctx context.Context, path string) (io.ReadCloser, error) {
		obj, err := m.Client.GetObject(ctx, bucket, path, minio.GetObjectOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to open chunk %s: %w", path, err)
		}
		return obj, nil
	})
}
