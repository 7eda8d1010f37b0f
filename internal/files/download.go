package files

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"cloudbase/internal/storage"
)

// Download is a prepared file or folder download. Nothing is read from the
// store for folders until WriteTo is called.
type Download struct {
	// Name is the suggested file name; folders get a ".zip" suffix.
	Name        string
	ContentType string
	// Size is the body length, or -1 for folder archives.
	Size int64

	write func(w io.Writer) (int64, error)
	done  func() error
}

// WriteTo streams the body to w.
func (d *Download) WriteTo(w io.Writer) (int64, error) {
	return d.write(w)
}

// Close releases the underlying object, if any.
func (d *Download) Close() error {
	if d.done == nil {
		return nil
	}
	return d.done()
}

// Download prepares the file or folder at path for streaming.
func (s *Service) Download(ctx context.Context, username, path string) (*Download, error) {
	res, err := s.resolve(ctx, username, path)
	if err != nil {
		return nil, err
	}
	fp := res.FilePath()

	if !res.IsDir() {
		obj, err := s.store.Get(ctx, fp)
		if err != nil {
			return nil, err
		}
		contentType := obj.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return &Download{
			Name:        storage.DisplayName(fp.Path),
			ContentType: contentType,
			Size:        obj.Size,
			write:       func(w io.Writer) (int64, error) { return io.Copy(w, obj) },
			done:        obj.Close,
		}, nil
	}

	items, err := s.store.List(ctx, fp, true)
	if err != nil {
		return nil, err
	}
	return &Download{
		Name:        storage.DisplayName(fp.Path) + ".zip",
		ContentType: "application/zip",
		Size:        -1,
		write: func(w io.Writer) (int64, error) {
			return s.writeArchive(ctx, fp, items, w)
		},
	}, nil
}

func (s *Service) writeArchive(ctx context.Context, dir storage.FilePath, items []storage.Resource, w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)

	for _, it := range items {
		if it.IsDir() {
			continue
		}
		p := it.FilePath()
		entry := strings.TrimPrefix(p.Path, dir.Path)
		if err := s.addEntry(ctx, zw, p, entry); err != nil {
			_ = zw.Close()
			return cw.n, err
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

func (s *Service) addEntry(ctx context.Context, zw *zip.Writer, p storage.FilePath, name string) error {
	obj, err := s.store.Get(ctx, p)
	if err != nil {
		return fmt.Errorf("archive %s: %w", p.Path, err)
	}
	defer obj.Close()

	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, obj); err != nil {
		return fmt.Errorf("archive %s: %w", p.Path, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
