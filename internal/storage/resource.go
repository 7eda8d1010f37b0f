package storage

import (
	"errors"
	"strings"
)

// ResourceType distinguishes files from directories on the wire.
type ResourceType string

const (
	TypeFile      ResourceType = "FILE"
	TypeDirectory ResourceType = "DIRECTORY"
)

// Resource is the full description of one object of a user.
type Resource struct {
	Owner string
	Path  string // parent directory, "" or ending in "/"
	Name  string // base name, directories end in "/"
	Size  int64
	Type  ResourceType
}

// FileInfo is the JSON representation of a Resource returned by the API.
type FileInfo struct {
	Path string       `json:"path"`
	Name string       `json:"name"`
	Size *int64       `json:"size,omitempty"`
	Type ResourceType `json:"type"`
}

// NewResource builds a Resource for the object at path p.
func NewResource(p FilePath, size int64) (Resource, error) {
	name := Base(p.Path)
	if name == "" {
		return Resource{}, errors.New("resource name must not be empty")
	}
	typ := TypeFile
	if p.IsDir() {
		typ = TypeDirectory
		size = 0
	}
	return Resource{
		Owner: p.Username,
		Path:  Parent(p.Path),
		Name:  name,
		Size:  size,
		Type:  typ,
	}, nil
}

// IsDir reports whether the resource is a directory.
func (r Resource) IsDir() bool {
	return r.Type == TypeDirectory
}

// FilePath returns the address of the resource.
func (r Resource) FilePath() FilePath {
	return FilePath{Username: r.Owner, Path: r.Path + r.Name}
}

// Info converts the resource to its API form.
func (r Resource) Info() FileInfo {
	info := FileInfo{Path: r.Path, Name: r.Name, Type: r.Type}
	if !r.IsDir() {
		size := r.Size
		info.Size = &size
	}
	return info
}

// ResourceFromKey parses an object key listed from the bucket. It reports
// false for keys outside the user's prefix and for the prefix itself.
func ResourceFromKey(username, key string, size int64) (Resource, bool) {
	prefix := UserPrefix(username)
	if !strings.HasPrefix(key, prefix) {
		return Resource{}, false
	}
	rel := strings.TrimPrefix(key, prefix)
	if rel == "" {
		return Resource{}, false
	}
	r, err := NewResource(FilePath{Username: username, Path: rel}, size)
	if err != nil {
		return Resource{}, false
	}
	return r, true
}
