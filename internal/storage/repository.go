// Package storage keeps every user's files and folders in a single MinIO
// bucket, one key prefix per user, and exposes path helpers shared by the
// service and HTTP layers.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/minio/minio-go/v7"
)

// uploadPartSize keeps memory bounded when streaming bodies of unknown size.
const uploadPartSize = 16 << 20

// Object is an open object body together with its stored metadata.
type Object struct {
	io.ReadCloser
	Size        int64
	ContentType string
}

// Repository performs object operations for user paths.
type Repository struct {
	client  *minio.Client
	bucket  string
	breaker *CircuitBreaker
}

// NewRepository wraps client; every call goes through breaker.
func NewRepository(client *minio.Client, bucket string, breaker *CircuitBreaker) *Repository {
	if breaker == nil {
		breaker = NewCircuitBreaker(5, 30*time.Second, nil)
	}
	return &Repository{client: client, bucket: bucket, breaker: breaker}
}

// Bucket returns the bucket name.
func (r *Repository) Bucket() string {
	return r.bucket
}

// Ping checks the bucket is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.do(func() error {
		ok, err := r.client.BucketExists(ctx, r.bucket)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("bucket %s does not exist", r.bucket)
		}
		return nil
	})
}

// Put streams body into the object at p. size may be -1 when unknown.
func (r *Repository) Put(ctx context.Context, p FilePath, body io.Reader, size int64, contentType string) (Resource, error) {
	var info minio.UploadInfo
	err := r.do(func() error {
		var err error
		info, err = r.client.PutObject(ctx, r.bucket, p.Key(), body, size, minio.PutObjectOptions{
			ContentType: contentType,
			PartSize:    uploadPartSize,
		})
		return err
	})
	if err != nil {
		return Resource{}, fmt.Errorf("put %s: %w", p.Path, err)
	}
	return NewResource(p, info.Size)
}

// CreateFolder writes the zero byte marker of directory p.
func (r *Repository) CreateFolder(ctx context.Context, p FilePath) (Resource, error) {
	if !p.IsDir() || p.IsRoot() {
		return Resource{}, fmt.Errorf("%w: %q is not a folder path", ErrInvalidPath, p.Path)
	}
	err := r.do(func() error {
		_, err := r.client.PutObject(ctx, r.bucket, p.Key(), bytes.NewReader(nil), 0, minio.PutObjectOptions{
			ContentType: "application/x-directory",
		})
		return err
	})
	if err != nil {
		return Resource{}, fmt.Errorf("create folder %s: %w", p.Path, err)
	}
	return NewResource(p, 0)
}

// Get opens the object at p for reading. The caller closes it.
func (r *Repository) Get(ctx context.Context, p FilePath) (*Object, error) {
	var obj *minio.Object
	var stat minio.ObjectInfo
	err := r.do(func() error {
		var err error
		obj, err = r.client.GetObject(ctx, r.bucket, p.Key(), minio.GetObjectOptions{})
		if err != nil {
			return err
		}
		// Force an early error for missing objects.
		stat, err = obj.Stat()
		if err != nil {
			_ = obj.Close()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p.Path, err)
	}
	return &Object{ReadCloser: obj, Size: stat.Size, ContentType: stat.ContentType}, nil
}

// Stat describes the file or directory at p. A directory exists when its
// marker exists or any object lives under its prefix; the root always exists.
func (r *Repository) Stat(ctx context.Context, p FilePath) (Resource, error) {
	if p.IsRoot() {
		return Resource{Owner: p.Username, Type: TypeDirectory}, nil
	}

	var info minio.ObjectInfo
	err := r.do(func() error {
		var err error
		info, err = r.client.StatObject(ctx, r.bucket, p.Key(), minio.StatObjectOptions{})
		return err
	})
	if err == nil {
		return NewResource(p, info.Size)
	}
	if !errors.Is(err, ErrNotFound) || !p.IsDir() {
		return Resource{}, fmt.Errorf("stat %s: %w", p.Path, err)
	}

	found, err := r.hasChildren(ctx, p)
	if err != nil {
		return Resource{}, err
	}
	if !found {
		return Resource{}, fmt.Errorf("stat %s: %w", p.Path, ErrNotFound)
	}
	return NewResource(p, 0)
}

func (r *Repository) hasChildren(ctx context.Context, dir FilePath) (bool, error) {
	found := false
	err := r.do(func() error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		for obj := range r.client.ListObjects(ctx, r.bucket, minio.ListObjectsOptions{
			Prefix:  dir.Key(),
			MaxKeys: 1,
		}) {
			if obj.Err != nil {
				return obj.Err
			}
			found = true
			break
		}
		return nil
	})
	return found, err
}

// Exists reports whether a file or directory exists at p.
func (r *Repository) Exists(ctx context.Context, p FilePath) (bool, error) {
	_, err := r.Stat(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// List returns the entries under directory dir, excluding dir's own marker.
// Non-recursive listings include sub-directories once, as prefixes.
func (r *Repository) List(ctx context.Context, dir FilePath, recursive bool) ([]Resource, error) {
	var out []Resource
	err := r.do(func() error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		for obj := range r.client.ListObjects(ctx, r.bucket, minio.ListObjectsOptions{
			Prefix:    dir.Key(),
			Recursive: recursive,
		}) {
			if obj.Err != nil {
				return obj.Err
			}
			if obj.Key == dir.Key() {
				continue
			}
			res, ok := ResourceFromKey(dir.Username, obj.Key, obj.Size)
			if !ok {
				continue
			}
			out = append(out, res)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir.Path, err)
	}
	return out, nil
}

// Copy duplicates the object at src to dst on the server side.
func (r *Repository) Copy(ctx context.Context, src, dst FilePath) error {
	err := r.do(func() error {
		_, err := r.client.CopyObject(ctx,
			minio.CopyDestOptions{Bucket: r.bucket, Object: dst.Key()},
			minio.CopySrcOptions{Bucket: r.bucket, Object: src.Key()},
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", src.Path, dst.Path, err)
	}
	return nil
}

// Remove deletes every object in paths. Failures for individual objects are
// collected and returned together.
func (r *Repository) Remove(ctx context.Context, paths []FilePath) error {
	if len(paths) == 0 {
		return nil
	}
	var result *multierror.Error
	err := r.do(func() error {
		objects := make(chan minio.ObjectInfo, len(paths))
		for _, p := range paths {
			objects <- minio.ObjectInfo{Key: p.Key()}
		}
		close(objects)

		for rerr := range r.client.RemoveObjects(ctx, r.bucket, objects, minio.RemoveObjectsOptions{}) {
			result = multierror.Append(result, fmt.Errorf("remove %s: %w", rerr.ObjectName, rerr.Err))
		}
		return result.ErrorOrNil()
	})
	return err
}

func (r *Repository) do(fn func() error) error {
	return r.breaker.Execute(func() error {
		return translate(fn())
	}, isInfraFailure)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func isInfraFailure(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, ErrInvalidPath)
}
