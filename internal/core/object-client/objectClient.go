package objectclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// ObjectClient is the object-storage surface the worker and the ingest CLI use.
// Any S3-compatible store (AWS, MinIO) satisfies it through S3Client.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	DeleteFile(ctx context.Context, bucket, key string) error
	Bucket() string
}

// SplitBlobKey resolves a blob reference into bucket and key. It accepts a bare
// key (stored in defaultBucket), an s3://bucket/key URI, or a virtual-hosted
// https://bucket.s3.<region>.amazonaws.com/key URL as returned by UploadFile.
func SplitBlobKey(defaultBucket, ref string) (bucket, key string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("empty blob key")
	}

	switch {
	case strings.HasPrefix(ref, "s3://"):
		rest := strings.TrimPrefix(ref, "s3://")
		bucket, key, _ = strings.Cut(rest, "/")
	case strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "http://"):
		u, perr := url.Parse(ref)
		if perr != nil {
			return "", "", fmt.Errorf("parse blob url: %w", perr)
		}
		host := u.Hostname()
		if i := strings.Index(host, ".s3."); i > 0 {
			bucket, key = host[:i], strings.TrimPrefix(u.Path, "/")
		} else {
			// path-style: host/bucket/key
			bucket, key, _ = strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		}
	default:
		bucket, key = defaultBucket, strings.TrimPrefix(ref, "/")
	}

	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("blob reference %q has no bucket or key", ref)
	}
	return bucket, key, nil
}
