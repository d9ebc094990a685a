// Package reportstore saves QC reports to the shared repository, either a
// local directory tree or an S3 bucket.
package reportstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidLocation = errors.New("invalid report location")
	ErrBucketNotFound  = errors.New("bucket not found")
	ErrAccessDenied    = errors.New("access denied")
)

// Store saves a local file under a directory relative to the store root.
type Store interface {
	// Save copies localPath to <root>/<dir>/<base name> and returns the
	// location written.
	Save(ctx context.Context, dir, localPath string) (string, error)
}

// Options carries the S3 settings used when a location is an s3:// URL.
type Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// Open returns the store for location: an s3://bucket/prefix URL or a
// local directory.
func Open(ctx context.Context, location string, opts Options) (Store, error) {
	if location == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidLocation)
	}
	if strings.HasPrefix(location, "s3://") {
		bucket, prefix, err := ParseS3URL(location)
		if err != nil {
			return nil, err
		}
		return NewS3(ctx, S3Config{
			Bucket:          bucket,
			Prefix:          prefix,
			Region:          opts.Region,
			Endpoint:        opts.Endpoint,
			AccessKeyID:     opts.AccessKeyID,
			SecretAccessKey: opts.SecretAccessKey,
			ForcePathStyle:  opts.ForcePathStyle,
		})
	}
	return &Local{Root: location}, nil
}

// ParseS3URL splits s3://bucket/prefix.
func ParseS3URL(u string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(u, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not an s3 URL", ErrInvalidLocation, u)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q has no bucket", ErrInvalidLocation, u)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// Local writes into a directory tree.
type Local struct {
	Root string
}

// Save implements Store.
func (l *Local) Save(_ context.Context, dir, localPath string) (string, error) {
	destDir := filepath.Join(l.Root, filepath.FromSlash(dir))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, filepath.Base(localPath))

	src, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = src.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("copy to %s: %w", dest, err)
	}
	return dest, out.Close()
}

func objectKey(prefix, dir, localPath string) string {
	return strings.TrimPrefix(path.Join(prefix, dir, filepath.Base(localPath)), "/")
}
