package storage

import (
	"fmt"
	"strings"
	"unicode"
)

// maxPathLen bounds user supplied paths; S3 keys are limited to 1024 bytes
// and the user prefix takes part of that.
const maxPathLen = 960

// FilePath addresses one object (file or folder marker) of one user.
type FilePath struct {
	Username string
	Path     string
}

// NewFilePath pairs a username with an already cleaned path.
func NewFilePath(username, path string) FilePath {
	return FilePath{Username: username, Path: path}
}

// Prefix is the bucket prefix under which all objects of the user live.
func (p FilePath) Prefix() string {
	return UserPrefix(p.Username)
}

// Key is the full object key in the bucket.
func (p FilePath) Key() string {
	return p.Prefix() + p.Path
}

// IsDir reports whether the path names a directory.
func (p FilePath) IsDir() bool {
	return IsDirPath(p.Path)
}

// IsRoot reports whether the path is the user's root directory.
func (p FilePath) IsRoot() bool {
	return p.Path == ""
}

// Join appends a relative path to a directory path.
func (p FilePath) Join(rel string) FilePath {
	return FilePath{Username: p.Username, Path: p.Path + rel}
}

func (p FilePath) String() string {
	return p.Key()
}

// UserPrefix returns the bucket prefix of a user.
func UserPrefix(username string) string {
	return "user-" + username + "/"
}

// IsDirPath reports whether path denotes a directory (root or trailing "/").
func IsDirPath(path string) bool {
	return path == "" || strings.HasSuffix(path, "/")
}

// CleanPath normalises a client supplied path. The result has no leading
// slash, no empty, "." or ".." segments, and keeps a trailing slash when the
// input had one.
func CleanPath(raw string) (string, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/")
	if len(raw) > maxPathLen {
		return "", fmt.Errorf("%w: path longer than %d bytes", ErrInvalidPath, maxPathLen)
	}

	dir := strings.HasSuffix(raw, "/")
	segments := strings.Split(raw, "/")
	clean := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: relative segment %q", ErrInvalidPath, seg)
		}
		if strings.IndexFunc(seg, unicode.IsControl) >= 0 {
			return "", fmt.Errorf("%w: control character in %q", ErrInvalidPath, seg)
		}
		clean = append(clean, seg)
	}

	if len(clean) == 0 {
		return "", nil
	}
	out := strings.Join(clean, "/")
	if dir {
		out += "/"
	}
	return out, nil
}

// DirPath cleans raw and forces it to denote a directory.
func DirPath(raw string) (string, error) {
	p, err := CleanPath(raw)
	if err != nil {
		return "", err
	}
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p, nil
}

// Parent returns the directory containing path; "" for top level entries.
func Parent(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	return trimmed[:idx+1]
}

// Base returns the last segment of path. Directories keep their trailing
// slash.
func Base(path string) string {
	return strings.TrimPrefix(path, Parent(path))
}

// Ancestors lists every directory above path, outermost first.
// "a/b/c.txt" yields "a/", "a/b/"; "a/b/" yields "a/".
func Ancestors(path string) []string {
	var out []string
	for p := Parent(path); p != ""; p = Parent(p) {
		out = append(out, p)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// DisplayName is Base without the directory slash, used for download
// file names.
func DisplayName(path string) string {
	name := strings.TrimSuffix(Base(path), "/")
	if name == "" {
		return "root"
	}
	return name
}
