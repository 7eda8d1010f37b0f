// Package files implements the file and folder operations of a user's tree
// on top of an object store, independent of HTTP.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"cloudbase/internal/storage"
)

var (
	// ErrInvalidMove is returned for moves that cannot be carried out, such
	// as a directory into itself or a file onto a directory path.
	ErrInvalidMove = errors.New("invalid move")
	// ErrEmptyQuery is returned by Search for a blank query.
	ErrEmptyQuery = errors.New("search query must not be empty")
)

// ObjectStore is the subset of storage.Repository used by the service.
type ObjectStore interface {
	Put(ctx context.Context, p storage.FilePath, body io.Reader, size int64, contentType string) (storage.Resource, error)
	CreateFolder(ctx context.Context, p storage.FilePath) (storage.Resource, error)
	Get(ctx context.Context, p storage.FilePath) (*storage.Object, error)
	Stat(ctx context.Context, p storage.FilePath) (storage.Resource, error)
	Exists(ctx context.Context, p storage.FilePath) (bool, error)
	List(ctx context.Context, dir storage.FilePath, recursive bool) ([]storage.Resource, error)
	Copy(ctx context.Context, src, dst storage.FilePath) error
	Remove(ctx context.Context, paths []storage.FilePath) error
}

// Options tunes the service.
type Options struct {
	// MoveConcurrency bounds the number of parallel copies during a move.
	MoveConcurrency int
	Log             *zap.Logger
}

// Service carries out user file operations.
type Service struct {
	store       ObjectStore
	concurrency int
	log         *zap.Logger
}

// NewService returns a Service backed by store.
func NewService(store ObjectStore, opts Options) *Service {
	if opts.MoveConcurrency <= 0 {
		opts.MoveConcurrency = 4
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Service{store: store, concurrency: opts.MoveConcurrency, log: opts.Log}
}

// Upload is one file of a multipart upload. Name may contain a relative
// path when a whole folder is uploaded. Size is -1 when unknown.
type Upload struct {
	Name        string
	Size        int64
	ContentType string
	Reader      io.Reader
}

// EnsureFolders creates the missing folder markers above p.
func (s *Service) EnsureFolders(ctx context.Context, p storage.FilePath) error {
	for _, dir := range storage.Ancestors(p.Path) {
		fp := storage.NewFilePath(p.Username, dir)
		ok, err := s.store.Exists(ctx, fp)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := s.checkFree(ctx, fp); err != nil {
			return err
		}
		if _, err := s.store.CreateFolder(ctx, fp); err != nil {
			return err
		}
	}
	return nil
}

// Upload stores one file below directory dir.
func (s *Service) Upload(ctx context.Context, username, dir string, up Upload) (storage.Resource, error) {
	base, err := storage.DirPath(dir)
	if err != nil {
		return storage.Resource{}, err
	}
	name, err := storage.CleanPath(up.Name)
	if err != nil {
		return storage.Resource{}, err
	}
	if name == "" || storage.IsDirPath(name) {
		return storage.Resource{}, fmt.Errorf("%w: %q is not a file name", storage.ErrInvalidPath, up.Name)
	}

	target := storage.NewFilePath(username, base+name)
	if err := s.checkFree(ctx, target); err != nil {
		return storage.Resource{}, err
	}
	if err := s.EnsureFolders(ctx, target); err != nil {
		return storage.Resource{}, err
	}

	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.store.Put(ctx, target, up.Reader, up.Size, contentType)
}

// ListFolder returns the direct children of a directory, directories first.
func (s *Service) ListFolder(ctx context.Context, username, dir string) ([]storage.Resource, error) {
	path, err := storage.DirPath(dir)
	if err != nil {
		return nil, err
	}
	fp := storage.NewFilePath(username, path)
	if _, err := s.store.Stat(ctx, fp); err != nil {
		return nil, err
	}
	items, err := s.store.List(ctx, fp, false)
	if err != nil {
		return nil, err
	}
	sortResources(items)
	return items, nil
}

// CreateFolder creates an empty folder. Its parent must already exist.
func (s *Service) CreateFolder(ctx context.Context, username, dir string) (storage.Resource, error) {
	path, err := storage.DirPath(dir)
	if err != nil {
		return storage.Resource{}, err
	}
	if path == "" {
		return storage.Resource{}, fmt.Errorf("%w: cannot create the root folder", storage.ErrInvalidPath)
	}
	fp := storage.NewFilePath(username, path)

	if _, err := s.store.Stat(ctx, storage.NewFilePath(username, storage.Parent(path))); err != nil {
		return storage.Resource{}, fmt.Errorf("parent of %s: %w", path, err)
	}
	if err := s.checkFree(ctx, fp); err != nil {
		return storage.Resource{}, err
	}
	return s.store.CreateFolder(ctx, fp)
}

// Info describes a file or directory. A path without a trailing slash that
// names no file is looked up as a directory.
func (s *Service) Info(ctx context.Context, username, path string) (storage.Resource, error) {
	return s.resolve(ctx, username, path)
}

// Remove deletes a file, or a directory with everything below it.
func (s *Service) Remove(ctx context.Context, username, path string) error {
	res, err := s.resolve(ctx, username, path)
	if err != nil {
		return err
	}
	if res.Name == "" {
		return fmt.Errorf("%w: cannot delete the root folder", storage.ErrInvalidPath)
	}
	fp := res.FilePath()
	if !res.IsDir() {
		return s.store.Remove(ctx, []storage.FilePath{fp})
	}

	items, err := s.store.List(ctx, fp, true)
	if err != nil {
		return err
	}
	paths := make([]storage.FilePath, 0, len(items)+1)
	for _, it := range items {
		paths = append(paths, it.FilePath())
	}
	paths = append(paths, fp)
	s.log.Debug("removing folder", zap.String("user", username), zap.String("path", fp.Path), zap.Int("objects", len(paths)))
	return s.store.Remove(ctx, paths)
}

// Search returns every file of the user whose name contains query, ignoring
// case.
func (s *Service) Search(ctx context.Context, username, query string) ([]storage.Resource, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, ErrEmptyQuery
	}
	items, err := s.store.List(ctx, storage.NewFilePath(username, ""), true)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Resource, 0)
	for _, it := range items {
		if it.IsDir() {
			continue
		}
		if strings.Contains(strings.ToLower(it.Name), q) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path+out[i].Name < out[j].Path+out[j].Name
	})
	return out, nil
}

func (s *Service) resolve(ctx context.Context, username, raw string) (storage.Resource, error) {
	path, err := storage.CleanPath(raw)
	if err != nil {
		return storage.Resource{}, err
	}
	res, err := s.store.Stat(ctx, storage.NewFilePath(username, path))
	if err == nil || storage.IsDirPath(path) || !errors.Is(err, storage.ErrNotFound) {
		return res, err
	}
	return s.store.Stat(ctx, storage.NewFilePath(username, path+"/"))
}

// checkFree fails with ErrAlreadyExists when p exists, or when a file and a
// folder would share one name ("docs" next to "docs/").
func (s *Service) checkFree(ctx context.Context, p storage.FilePath) error {
	twin := p.Path + "/"
	if p.IsDir() {
		twin = strings.TrimSuffix(p.Path, "/")
	}
	for _, candidate := range []storage.FilePath{p, storage.NewFilePath(p.Username, twin)} {
		exists, err := s.store.Exists(ctx, candidate)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s: %w", candidate.Path, storage.ErrAlreadyExists)
		}
	}
	return nil
}

func sortResources(items []storage.Resource) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsDir() != items[j].IsDir() {
			return items[i].IsDir()
		}
		return items[i].Name < items[j].Name
	})
}
