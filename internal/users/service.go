package users

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Service registers and authenticates users.
type Service struct {
	store Store
	cost  int
	log   *zap.Logger

	// dummyHash is compared against when the user does not exist so that
	// unknown usernames take as long as wrong passwords.
	dummyHash []byte
}

// NewService returns a Service hashing with the given bcrypt cost;
// zero selects bcrypt.DefaultCost.
func NewService(store Store, cost int, log *zap.Logger) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if log == nil {
		log = zap.NewNop()
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("cloudbase-dummy-password"), cost)
	return &Service{store: store, cost: cost, log: log, dummyHash: dummy}
}

// SignUp validates the credentials and creates the account.
func (s *Service) SignUp(ctx context.Context, c Credentials) (User, error) {
	if err := c.Validate(); err != nil {
		return User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.store.Create(ctx, c.Username, string(hash))
	if err != nil {
		return User{}, err
	}
	s.log.Info("user created", zap.String("username", u.Username), zap.Int64("id", u.ID))
	return u, nil
}

// Authenticate returns the user when the password matches. Unknown users and
// wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, c Credentials) (User, error) {
	if err := c.Validate(); err != nil {
		return User{}, ErrInvalidCredentials
	}
	u, err := s.store.FindByUsername(ctx, c.Username)
	if errors.Is(err, ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(c.Password))
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(c.Password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}
