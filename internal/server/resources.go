package server

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"cloudbase/internal/files"
	"cloudbase/internal/logging"
	"cloudbase/internal/storage"
)

const uploadField = "object"

// handleResourceInfo handles GET /api/resource?path=.
func (s *Server) handleResourceInfo(w http.ResponseWriter, r *http.Request) {
	res, err := s.files.Info(r.Context(), currentUser(r), r.URL.Query().Get("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Info())
}

// handleUpload handles POST /api/resource?path=. Each "object" part is
// streamed to storage as it is read; nothing is buffered in memory.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	dir := r.URL.Query().Get("path")

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, badRequest("Expected a multipart/form-data body"))
		return
	}

	uploaded := make([]storage.FileInfo, 0, 1)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.writeError(w, r, multipartError(err))
			return
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}

		name := partFileName(part)
		if name == "" {
			_ = part.Close()
			s.writeError(w, r, badRequest("Uploaded part has no file name"))
			return
		}

		body := &trackingReader{r: part}
		res, err := s.files.Upload(r.Context(), user, dir, files.Upload{
			Name:        name,
			Size:        -1,
			ContentType: part.Header.Get("Content-Type"),
			Reader:      body,
		})
		_ = part.Close()
		s.metrics.AddUploaded(body.n)
		if err != nil && body.err != nil {
			// Prefer the body error: storage clients do not always wrap it.
			err = multipartError(body.err)
		}
		s.audit.Record(r.Context(), AuditEvent{
			Action:   AuditUpload,
			Username: user,
			IP:       getClientIP(r),
			Resource: dir + name,
			Success:  err == nil,
			Detail:   errDetail(err),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		uploaded = append(uploaded, res.Info())
	}

	if len(uploaded) == 0 {
		s.writeError(w, r, badRequest("No files to upload"))
		return
	}
	writeJSON(w, http.StatusCreated, uploaded)
}

// multipartError maps a failure reading the request body to a client error.
func multipartError(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return err
	}
	return badRequest("Malformed multipart body")
}

// partFileName returns the raw filename parameter of the part. Unlike
// Part.FileName it keeps directory components, which folder uploads rely on.
func partFileName(p *multipart.Part) string {
	_, params, err := mime.ParseMediaType(p.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// handleDelete handles DELETE /api/resource?path=.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	err := s.files.Remove(r.Context(), currentUser(r), path)
	s.audit.Record(r.Context(), AuditEvent{
		Action:   AuditDelete,
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
	w.WriteHeader(http.StatusNoContent)
}

// handleMove handles GET /api/resource/move?from=&to=.
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		s.writeError(w, r, badRequest("Both from and to are required"))
		return
	}

	res, err := s.files.Move(r.Context(), currentUser(r), from, to)
	s.audit.Record(r.Context(), AuditEvent{
		Action:   AuditMove,
		Username: currentUser(r),
		IP:       getClientIP(r),
		Resource: from + " -> " + to,
		Success:  err == nil,
		Detail:   errDetail(err),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Info())
}

// handleSearch handles GET /api/resource/search?query=.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	items, err := s.files.Search(r.Context(), currentUser(r), r.URL.Query().Get("query"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, infos(items))
}

// handleDownload handles GET /api/resource/download?path=. Files stream as
// stored; folders stream as a ZIP archive.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	path := r.URL.Query().Get("path")

	d, err := s.files.Download(r.Context(), user, path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer d.Close()

	h := w.Header()
	h.Set("Content-Type", d.ContentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Name}))
	if d.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(d.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	n, err := d.WriteTo(w)
	s.metrics.AddDownloaded(n)
	s.audit.Record(r.Context(), AuditEvent{
		Action:   AuditDownload,
		Username: user,
		IP:       getClientIP(r),
		Resource: path,
		Success:  err == nil,
	})
	if err != nil {
		// Headers are gone; all we can do is log and cut the response.
		logging.FromContext(r.Context(), s.log).Warn("download aborted",
			zap.String("path", path),
			zap.Int64("bytes", n),
			zap.Error(err))
		panic(http.ErrAbortHandler)
	}
}

// trackingReader counts bytes and remembers the first read error.
type trackingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.n += int64(n)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
