package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"cloudbase/internal/logging"
	"cloudbase/internal/session"
	"cloudbase/internal/users"
)

const maxJSONBody = 1 << 20

// UserService registers and authenticates accounts.
type UserService interface {
	SignUp(ctx context.Context, c users.Credentials) (users.User, error)
	Authenticate(ctx context.Context, c users.Credentials) (users.User, error)
}

// SessionStore keeps server side sessions addressed by signed tokens.
type SessionStore interface {
	Create(ctx context.Context, username string) (session.Session, string, error)
	Get(ctx context.Context, token string) (session.Session, error)
	Delete(ctx context.Context, token string) error
}

type usernameResponse struct {
	Username string `json:"username"`
}

type authKey struct{}

type authInfo struct {
	session session.Session
	token   string
}

func authFromContext(ctx context.Context) (authInfo, bool) {
	a, ok := ctx.Value(authKey{}).(authInfo)
	return a, ok
}

// currentUser returns the username of the authenticated request.
func currentUser(r *http.Request) string {
	a, _ := authFromContext(r.Context())
	return a.session.Username
}

// requireAuth resolves the session cookie and rejects the request with 401
// when it is missing, forged or expired.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(s.cfg.CookieName)
		if err != nil || c.Value == "" {
			s.writeError(w, r, errUnauthorized)
			return
		}
		sess, err := s.sess.Get(r.Context(), c.Value)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrInvalidToken) {
				s.clearCookie(w)
			}
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), authKey{}, authInfo{session: sess, token: c.Value})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (users.Credentials, error) {
	var c users.Credentials
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return c, badRequest("Request body is empty")
		}
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return c, err
		}
		return c, badRequest("Invalid request body")
	}
	return c, nil
}

// handleSignUp handles POST /api/auth/sign-up. It does not sign the user in.
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	creds, err := decodeCredentials(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.users.SignUp(r.Context(), creds)
	s.audit.Record(r.Context(), AuditEvent{
		Action:   AuditSignUp,
		Username: creds.Username,
		IP:       getClientIP(r),
		Success:  err == nil,
		Detail:   errDetail(err),
	})
	if err != nil {
		s.metrics.AuthAttempt("sign_up", "rejected")
		s.writeError(w, r, err)
		return
	}
	s.metrics.AuthAttempt("sign_up", "success")
	writeJSON(w, http.StatusCreated, usernameResponse{Username: u.Username})
}

// handleSignIn handles POST /api/auth/sign-in and sets the session cookie.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	creds, err := decodeCredentials(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	log := logging.FromContext(r.Context(), s.log)
	ip := getClientIP(r)

	if locked, until := s.lockout.IsLocked(creds.Username); locked {
		s.metrics.AuthAttempt("sign_in", "locked")
		w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(until).Seconds())+1))
		s.writeError(w, r, errLocked)
		return
	}

	u, err := s.users.Authenticate(r.Context(), creds)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			s.metrics.AuthAttempt("sign_in", "failure")
			if locked, until := s.lockout.RecordFailedAttempt(creds.Username); locked {
				log.Warn("account locked",
					zap.String("username", creds.Username),
					zap.String("ip", ip),
					zap.Time("until", until))
			}
			s.audit.Record(r.Context(), AuditEvent{
				Action: AuditSignIn, Username: creds.Username, IP: ip, Detail: "invalid credentials",
			})
		}
		s.writeError(w, r, err)
		return
	}
	s.lockout.RecordSuccessfulLogin(u.Username)

	_, token, err := s.sess.Create(r.Context(), u.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setCookie(w, token)
	s.metrics.AuthAttempt("sign_in", "success")
	s.audit.Record(r.Context(), AuditEvent{Action: AuditSignIn, Username: u.Username, IP: ip, Success: true})
	writeJSON(w, http.StatusOK, usernameResponse{Username: u.Username})
}

// handleSignOut deletes the session and expires the cookie.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	a, _ := authFromContext(r.Context())
	if err := s.sess.Delete(r.Context(), a.token); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearCookie(w)
	s.audit.Record(r.Context(), AuditEvent{
		Action: AuditSignOut, Username: a.session.Username, IP: getClientIP(r), Success: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the signed-in username.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, usernameResponse{Username: currentUser(r)})
}

// setCookie issues a browser-session cookie; expiry is enforced by the
// sliding TTL in Redis.
func (s *Server) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	_, msg := statusFor(err)
	return msg
}
