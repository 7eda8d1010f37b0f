package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"cloudbase/internal/storage"
)

type memObject struct {
	data        []byte
	contentType string
}

// memStore is an in-memory ObjectStore with the listing semantics of a
// bucket: non-recursive listings fold nested keys into one prefix entry.
type memStore struct {
	mu      sync.Mutex
	objects map[string]memObject

	copyErr error
	copies  []string
	removed []string
	folders []string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string]memObject{}}
}

func (m *memStore) seed(username string, paths ...string) {
	for _, p := range paths {
		data := []byte{}
		if !storage.IsDirPath(p) {
			data = []byte("content of " + p)
		}
		m.objects[storage.NewFilePath(username, p).Key()] = memObject{data: data, contentType: "text/plain"}
	}
}

func (m *memStore) has(username, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[storage.NewFilePath(username, path).Key()]
	return ok
}

func (m *memStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *memStore) Put(_ context.Context, p storage.FilePath, body io.Reader, _ int64, contentType string) (storage.Resource, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.Resource{}, err
	}
	m.mu.Lock()
	m.objects[p.Key()] = memObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return storage.NewResource(p, int64(len(data)))
}

func (m *memStore) CreateFolder(_ context.Context, p storage.FilePath) (storage.Resource, error) {
	m.mu.Lock()
	m.objects[p.Key()] = memObject{}
	m.folders = append(m.folders, p.Path)
	m.mu.Unlock()
	return storage.NewResource(p, 0)
}

func (m *memStore) Get(_ context.Context, p storage.FilePath) (*storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[p.Key()]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", p.Path, storage.ErrNotFound)
	}
	return &storage.Object{
		ReadCloser:  io.NopCloser(bytes.NewReader(obj.data)),
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
	}, nil
}

func (m *memStore) Stat(_ context.Context, p storage.FilePath) (storage.Resource, error) {
	if p.IsRoot() {
		return storage.Resource{Owner: p.Username, Type: storage.TypeDirectory}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.objects[p.Key()]; ok {
		return storage.NewResource(p, int64(len(obj.data)))
	}
	if p.IsDir() {
		for k := range m.objects {
			if strings.HasPrefix(k, p.Key()) {
				return storage.NewResource(p, 0)
			}
		}
	}
	return storage.Resource{}, fmt.Errorf("stat %s: %w", p.Path, storage.ErrNotFound)
}

func (m *memStore) Exists(ctx context.Context, p storage.FilePath) (bool, error) {
	_, err := m.Stat(ctx, p)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (m *memStore) List(_ context.Context, dir storage.FilePath, recursive bool) ([]storage.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := dir.Key()
	seen := map[string]bool{}
	var out []storage.Resource
	for k, obj := range m.objects {
		if !strings.HasPrefix(k, prefix) || k == prefix {
			continue
		}
		key := k
		size := int64(len(obj.data))
		if !recursive {
			rel := strings.TrimPrefix(k, prefix)
			if i := strings.Index(rel, "/"); i >= 0 {
				key = prefix + rel[:i+1]
				size = 0
			}
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		if r, ok := storage.ResourceFromKey(dir.Username, key, size); ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path+out[i].Name < out[j].Path+out[j].Name
	})
	return out, nil
}

func (m *memStore) Copy(_ context.Context, src, dst storage.FilePath) error {
	if m.copyErr != nil {
		return m.copyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[src.Key()]
	if !ok {
		return fmt.Errorf("copy %s: %w", src.Path, storage.ErrNotFound)
	}
	m.objects[dst.Key()] = obj
	m.copies = append(m.copies, src.Path+" -> "+dst.Path)
	return nil
}

func (m *memStore) Remove(_ context.Context, paths []storage.FilePath) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		delete(m.objects, p.Key())
		m.removed = append(m.removed, p.Path)
	}
	return nil
}
