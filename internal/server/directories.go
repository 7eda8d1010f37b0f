package server

import (
	"context"
	"net/http"

	"cloudbase/internal/files"
	"cloudbase/internal/storage"
)

// FileService carries out file operations on behalf of a user.
type FileService interface {
	Upload(ctx context.Context, username, dir string, up files.Upload) (storage.Resource, error)
	ListFolder(ctx context.Context, username, dir string) ([]storage.Resource, error)
	CreateFolder(ctx context.Context, username, dir string) (storage.Resource, error)
	Info(ctx context.Context, username, path string) (storage.Resource, error)
	Remove(ctx context.Context, username, path string) error
	Move(ctx context.Context, username, from, to string) (storage.Resource, error)
	Search(ctx context.Context, username, query string) ([]storage.Resource, error)
	Download(ctx context.Context, username, path string) (*files.Download, error)
}

func infos(items []storage.Resource) []storage.FileInfo {
	out := make([]storage.FileInfo, 0, len(items))
	for _, it := range items {
		out = append(out, it.Info())
	}
	return out
}

// handleListDirectory handles GET /api/directory?path=.
func (s *Server) handleListDirectory(w http.ResponseWriter, r *http.Request) {
	items, err := s.files.ListFolder(r.Context(), currentUser(r), r.URL.Query().Get("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, infos(items))
}

// handleCreateDirectory handles POST /api/directory?path=.
func (s *Server) handleCreateDirectory(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	res, err := s.files.CreateFolder(r.Context(), currentUser(r), path)
	s.audit.Record(r.Context(), AuditEvent{
		Action:   AuditCreateFolder,
		Username: currentUser(r),
		IP:       getClientIP(r),
		Resource: path,
		Success:  err == nil,
		Detail:   errDetail(err),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Info())
}
