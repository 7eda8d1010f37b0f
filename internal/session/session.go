// Package session keeps server-side HTTP sessions in Redis. Clients hold
// only a signed session id.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cloudbase:session:"

var (
	// ErrNotFound means the session expired or was deleted.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidToken means the cookie value is malformed or its signature
	// does not match.
	ErrInvalidToken = errors.New("invalid session token")
)

// Session is the state stored for one signed-in client.
type Session struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

// Store creates and resolves sessions.
type Store struct {
	rdb    *redis.Client
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStore returns a Store whose sessions expire after ttl of inactivity.
func NewStore(rdb *redis.Client, secret string, ttl time.Duration) *Store {
	return &Store{rdb: rdb, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Create starts a session for username and returns it with the signed token
// to hand to the client.
func (s *Store) Create(ctx context.Context, username string) (Session, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Session{}, "", err
	}
	now := s.now().UTC()
	sess := Session{
		ID:         base64.RawURLEncoding.EncodeToString(raw),
		Username:   username,
		CreatedAt:  now,
		LastAccess: now,
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return Session{}, "", err
	}
	if err := s.rdb.Set(ctx, keyPrefix+sess.ID, b, s.ttl).Err(); err != nil {
		return Session{}, "", fmt.Errorf("store session: %w", err)
	}
	return sess, s.sign(sess.ID), nil
}

// Get resolves a token and slides the session expiry.
func (s *Store) Get(ctx context.Context, token string) (Session, error) {
	id, err := s.verify(token)
	if err != nil {
		return Session{}, err
	}
	key := keyPrefix + id

	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}

	sess.LastAccess = s.now().UTC()
	b, err = json.Marshal(sess)
	if err != nil {
		return Session{}, err
	}
	// XX so a concurrent sign-out is not undone.
	ok, err := s.rdb.SetXX(ctx, key, b, s.ttl).Result()
	if err != nil {
		return Session{}, fmt.Errorf("touch session: %w", err)
	}
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// Delete ends the session named by token. Unknown sessions are ignored.
func (s *Store) Delete(ctx context.Context, token string) error {
	id, err := s.verify(token)
	if err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) sign(id string) string {
	m := hmac.New(sha256.New, s.secret)
	_, _ = m.Write([]byte(id))
	return id + "." + hex.EncodeToString(m.Sum(nil))
}

func (s *Store) verify(token string) (string, error) {
	id, _, ok := strings.Cut(token, ".")
	if !ok || id == "" {
		return "", ErrInvalidToken
	}
	if !hmac.Equal([]byte(token), []byte(s.sign(id))) {
		return "", ErrInvalidToken
	}
	return id, nil
}
