package files

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cloudbase/internal/storage"
)

type copyPair struct {
	src, dst storage.FilePath
}

// Move renames or relocates a file or a directory tree. Conflicts are
// detected before anything is written; sources are removed only after every
// copy succeeded.
func (s *Service) Move(ctx context.Context, username, from, to string) (storage.Resource, error) {
	src, err := s.resolve(ctx, username, from)
	if err != nil {
		return storage.Resource{}, err
	}
	if src.Name == "" {
		return storage.Resource{}, fmt.Errorf("%w: cannot move the root folder", ErrInvalidMove)
	}
	srcPath := src.FilePath()

	dstRaw, err := storage.CleanPath(to)
	if err != nil {
		return storage.Resource{}, err
	}
	if dstRaw == "" {
		return storage.Resource{}, fmt.Errorf("%w: empty target", ErrInvalidMove)
	}
	if src.IsDir() {
		if !storage.IsDirPath(dstRaw) {
			dstRaw += "/"
		}
		if strings.HasPrefix(dstRaw, srcPath.Path) {
			return storage.Resource{}, fmt.Errorf("%w: %s into itself", ErrInvalidMove, srcPath.Path)
		}
	} else if storage.IsDirPath(dstRaw) {
		return storage.Resource{}, fmt.Errorf("%w: file %s onto folder path %s", ErrInvalidMove, srcPath.Path, dstRaw)
	}
	dstPath := storage.NewFilePath(username, dstRaw)
	if dstPath.Path == srcPath.Path {
		return storage.Resource{}, fmt.Errorf("%w: source and target are the same", ErrInvalidMove)
	}

	pairs, err := s.movePlan(ctx, src, dstPath)
	if err != nil {
		return storage.Resource{}, err
	}

	if err := s.checkFree(ctx, dstPath); err != nil {
		return storage.Resource{}, err
	}

	if err := s.EnsureFolders(ctx, dstPath); err != nil {
		return storage.Resource{}, err
	}
	if src.IsDir() {
		if _, err := s.store.CreateFolder(ctx, dstPath); err != nil {
			return storage.Resource{}, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, pair := range pairs {
		g.Go(func() error {
			return s.store.Copy(gctx, pair.src, pair.dst)
		})
	}
	if err := g.Wait(); err != nil {
		return storage.Resource{}, fmt.Errorf("move %s: %w", srcPath.Path, err)
	}

	sources := make([]storage.FilePath, 0, len(pairs)+1)
	for _, pair := range pairs {
		sources = append(sources, pair.src)
	}
	if src.IsDir() {
		sources = append(sources, srcPath)
	}
	if err := s.store.Remove(ctx, sources); err != nil {
		return storage.Resource{}, fmt.Errorf("move %s: %w", srcPath.Path, err)
	}

	s.log.Debug("moved",
		zap.String("user", username),
		zap.String("from", srcPath.Path),
		zap.String("to", dstPath.Path),
		zap.Int("objects", len(pairs)))
	return storage.NewResource(dstPath, src.Size)
}

// movePlan lists the objects to copy. A directory's own marker is recreated
// rather than copied since it may not exist as an object.
func (s *Service) movePlan(ctx context.Context, src storage.Resource, dst storage.FilePath) ([]copyPair, error) {
	srcPath := src.FilePath()
	if !src.IsDir() {
		return []copyPair{{src: srcPath, dst: dst}}, nil
	}

	items, err := s.store.List(ctx, srcPath, true)
	if err != nil {
		return nil, err
	}
	pairs := make([]copyPair, 0, len(items))
	for _, it := range items {
		p := it.FilePath()
		rel := strings.TrimPrefix(p.Path, srcPath.Path)
		pairs = append(pairs, copyPair{src: p, dst: dst.Join(rel)})
	}
	return pairs, nil
}
