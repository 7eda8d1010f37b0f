package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"cloudbase/internal/files"
	"cloudbase/internal/session"
	"cloudbase/internal/storage"
	"cloudbase/internal/users"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// memUsers is an in-memory users.Store.
type memUsers struct {
	mu    sync.Mutex
	users map[string]users.User
}

func (m *memUsers) FindByUsername(_ context.Context, username string) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) Create(_ context.Context, username, hash string) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return users.User{}, users.ErrUserExists
	}
	u := users.User{ID: int64(len(m.users) + 1), Username: username, PasswordHash: hash, CreatedAt: time.Now()}
	m.users[username] = u
	return u, nil
}

// memObjects is a minimal in-memory files.ObjectStore.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string

	// failWith, when set, is returned by every read, list and put.
	failWith error
	copyErr  error
}

func (m *memObjects) fail(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memObjects) Put(_ context.Context, p storage.FilePath, body io.Reader, _ int64, contentType string) (storage.Resource, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.Resource{}, err
	}
	m.mu.Lock()
	if m.failWith != nil {
		m.mu.Unlock()
		return storage.Resource{}, fmt.Errorf("put %s: %w", p.Path, m.failWith)
	}
	m.objects[p.Key()] = data
	m.types[p.Key()] = contentType
	m.mu.Unlock()
	return storage.NewResource(p, int64(len(data)))
}

func (m *memObjects) CreateFolder(_ context.Context, p storage.FilePath) (storage.Resource, error) {
	m.mu.Lock()
	m.objects[p.Key()] = nil
	m.mu.Unlock()
	return storage.NewResource(p, 0)
}

func (m *memObjects) Get(_ context.Context, p storage.FilePath) (*storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[p.Key()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Object{
		ReadCloser:  io.NopCloser(bytes.NewReader(data)),
		Size:        int64(len(data)),
		ContentType: m.types[p.Key()],
	}, nil
}

func (m *memObjects) Stat(_ context.Context, p storage.FilePath) (storage.Resource, error) {
	if p.IsRoot() {
		return storage.Resource{Owner: p.Username, Type: storage.TypeDirectory}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return storage.Resource{}, fmt.Errorf("stat %s: %w", p.Path, m.failWith)
	}
	if data, ok := m.objects[p.Key()]; ok {
		return storage.NewResource(p, int64(len(data)))
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

func (m *memObjects) Exists(ctx context.Context, p storage.FilePath) (bool, error) {
	_, err := m.Stat(ctx, p)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	return err == nil, nil
}

func (m *memObjects) List(_ context.Context, dir storage.FilePath, recursive bool) ([]storage.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, fmt.Errorf("list %s: %w", dir.Path, m.failWith)
	}
	prefix := dir.Key()
	seen := map[string]bool{}
	var out []storage.Resource
	for k, data := range m.objects {
		if !strings.HasPrefix(k, prefix) || k == prefix {
			continue
		}
		key, size := k, int64(len(data))
		if !recursive {
			if i := strings.Index(k[len(prefix):], "/"); i >= 0 {
				key, size = prefix+k[len(prefix):][:i+1], 0
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
	sort.Slice(out, func(i, j int) bool { return out[i].Path+out[i].Name < out[j].Path+out[j].Name })
	return out, nil
}

func (m *memObjects) Copy(_ context.Context, src, dst storage.FilePath) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.copyErr != nil {
		return fmt.Errorf("copy %s: %w", src.Path, m.copyErr)
	}
	data, ok := m.objects[src.Key()]
	if !ok {
		return storage.ErrNotFound
	}
	m.objects[dst.Key()] = data
	m.types[dst.Key()] = m.types[src.Key()]
	return nil
}

func (m *memObjects) Remove(_ context.Context, paths []storage.FilePath) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		delete(m.objects, p.Key())
		delete(m.types, p.Key())
	}
	return nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAudit) Record(_ context.Context, e AuditEvent) {
	a.mu.Lock()
	a.events = append(a.events, e)
	a.mu.Unlock()
}

func (a *recordingAudit) actions() []AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditAction, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Action)
	}
	return out
}

type testEnv struct {
	srv     *Server
	objects *memObjects
	audit   *recordingAudit
	redis   *miniredis.Miniredis
}

func newTestEnv(t *testing.T, cfg Config, checks map[string]HealthCheck) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	objects := newMemObjects()
	audit := &recordingAudit{}
	srv := New(ctx, cfg, Deps{
		Users:    users.NewService(&memUsers{users: map[string]users.User{}}, bcrypt.MinCost, nil),
		Sessions: session.NewStore(rdb, testSecret, 30*time.Minute),
		Files:    files.NewService(objects, files.Options{}),
		Audit:    audit,
		Checks:   checks,
	})
	return &testEnv{srv: srv, objects: objects, audit: audit, redis: mr}
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader, cookie *http.Cookie, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) postJSON(t *testing.T, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return e.do(t, http.MethodPost, target, bytes.NewReader(b), nil, "Content-Type", "application/json")
}

// signIn registers username and returns the session cookie of a fresh
// sign-in.
func (e *testEnv) signIn(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	creds := users.Credentials{Username: username, Password: password}
	if rr := e.postJSON(t, "/api/auth/sign-up", creds); rr.Code != http.StatusCreated {
		t.Fatalf("sign-up: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr := e.postJSON(t, "/api/auth/sign-in", creds)
	if rr.Code != http.StatusOK {
		t.Fatalf("sign-in: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	for _, c := range rr.Result().Cookies() {
		if c.Name == "SESSION" {
			return c
		}
	}
	t.Fatal("sign-in did not set the SESSION cookie")
	return nil
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}
