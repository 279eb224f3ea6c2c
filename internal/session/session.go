// Package session owns the authenticated identity of the running client.
//
// A Session is the single writer of the identity: Login and Register set it,
// Logout clears it. Every other component only reads the credential through
// Token and Username.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"tictacgrid/internal/models"
)

var (
	ErrUsernameRequired = errors.New("username is required")
	ErrPasswordRequired = errors.New("password is required")
	ErrUsernameChars    = errors.New("username can have only English letters and numbers")
	ErrPasswordChars    = errors.New("password can have only ASCII symbols excluding whitespace")
	ErrNotLoggedIn      = errors.New("not logged in")
	ErrUnexpected       = errors.New("unexpected error")
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	passwordPattern = regexp.MustCompile(`^[!-~]+$`)
)

// Authenticator is the remote side of login and registration
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
	CreateUser(ctx context.Context, username, password string) (string, error)
}

// ValidateCredentials checks credentials locally before any request is made
func ValidateCredentials(username, password string) error {
	if username == "" {
		return ErrUsernameRequired
	}
	if password == "" {
		return ErrPasswordRequired
	}
	if !usernamePattern.MatchString(username) {
		return ErrUsernameChars
	}
	if !passwordPattern.MatchString(password) {
		return ErrPasswordChars
	}
	return nil
}

// Session holds the current identity
type Session struct {
	auth     Authenticator
	mu       sync.RWMutex
	identity *models.Identity
}

// New creates a logged-out session
func New(auth Authenticator) *Session {
	return &Session{auth: auth}
}

// Login authenticates and stores the issued credential
func (s *Session) Login(ctx context.Context, username, password string) error {
	return s.authenticate(ctx, username, password, s.auth.Login)
}

// Register creates an account and stores the issued credential
func (s *Session) Register(ctx context.Context, username, password string) error {
	return s.authenticate(ctx, username, password, s.auth.CreateUser)
}

func (s *Session) authenticate(ctx context.Context, username, password string,
	fn func(context.Context, string, string) (string, error)) error {
	if err := ValidateCredentials(username, password); err != nil {
		return err
	}
	token, err := fn(ctx, username, password)
	if err != nil {
		// the server's detail is shown to the user as is
		if err.Error() == "" {
			return ErrUnexpected
		}
		return err
	}
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrUnexpected)
	}

	s.mu.Lock()
	s.identity = &models.Identity{Username: username, Credential: token}
	s.mu.Unlock()
	return nil
}

// Logout discards the identity
func (s *Session) Logout() {
	s.mu.Lock()
	s.identity = nil
	s.mu.Unlock()
}

// Identity returns the current identity, if any
func (s *Session) Identity() (models.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return models.Identity{}, false
	}
	return *s.identity, true
}

// Token returns the bearer credential, or "" when logged out
func (s *Session) Token() string {
	id, _ := s.Identity()
	return id.Credential
}

// Username returns the logged-in username, or ""
func (s *Session) Username() string {
	id, _ := s.Identity()
	return id.Username
}
