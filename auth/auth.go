// unadulting/auth/auth.go
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"unadulting/config"
	"unadulting/database"
	"unadulting/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidResetToken  = errors.New("reset link is invalid or has expired")
)

// Auth state change events, delivered on the StateChanges stream.
const (
	EventSignedIn        = "SIGNED_IN"
	EventSignedOut       = "SIGNED_OUT"
	EventPasswordUpdated = "PASSWORD_UPDATED"
)

// Change is one auth state transition. Session is nil on sign-out.
type Change struct {
	Event   string
	Session *models.Session
}

const changeBuffer = 8

// Service owns sign-in state. It tracks a single current session the way a
// client process would, and additionally resolves per-request sessions off
// the context for server use.
type Service struct {
	db     *database.DatabaseService
	tokens TokenService
	logger *slog.Logger

	resetTTL time.Duration

	mu       sync.RWMutex
	current  *models.Session
	watchers map[int]chan Change
	nextID   int
}

func NewService(db *database.DatabaseService, secret []byte, accessTTL, resetTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		tokens:   TokenService{Secret: secret, AccessTokenTTL: accessTTL},
		logger:   logger,
		resetTTL: resetTTL,
		watchers: make(map[int]chan Change),
	}
}

type ctxKey struct{}

// WithSession attaches a per-request session to a context.
func WithSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, session)
}

// FromContext returns the session for this call. A context that has passed
// through the request middleware always carries an explicit value, nil
// meaning anonymous; only contexts with no marker at all (the client-style
// controllers) fall back to the tracked current session.
func (s *Service) FromContext(ctx context.Context) *models.Session {
	if ctx != nil {
		if session, ok := ctx.Value(ctxKey{}).(*models.Session); ok {
			return session
		}
	}
	return s.Current()
}

// Current returns the tracked session, or nil when signed out.
func (s *Service) Current() *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// StateChanges subscribes to auth transitions. The returned cancel func must
// be called to release the subscription.
func (s *Service) StateChanges() (<-chan Change, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan Change, changeBuffer)
	s.watchers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(c)
		}
	}
	return ch, cancel
}

// setCurrent swaps the tracked session and fans the change out to watchers.
// Slow watchers miss events rather than blocking sign-in.
func (s *Service) setCurrent(event string, session *models.Session) {
	s.mu.Lock()
	s.current = session
	watchers := make([]chan Change, 0, len(s.watchers))
	for _, ch := range s.watchers {
		watchers = append(watchers, ch)
	}
	s.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- Change{Event: event, Session: session}:
		default:
			s.logger.Warn("Dropping auth change for slow watcher", "event", event)
		}
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp registers a new account and signs it in.
func (s *Service) SignUp(username, email, password string) (*models.Session, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if username == "" || len(username) > config.MaxUsernameLen {
		return nil, fmt.Errorf("username must be 1-%d characters", config.MaxUsernameLen)
	}
	if !strings.Contains(email, "@") {
		return nil, errors.New("invalid email address")
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}

	if _, err := s.db.GetProfileByEmail(email); err == nil {
		return nil, ErrEmailTaken
	} else if err != sql.ErrNoRows {
		return nil, err
	}
	if _, err := s.db.GetProfileByUsername(username); err == nil {
		return nil, ErrUsernameTaken
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	profile, err := s.db.CreateProfile(uuid.NewString(), username, email, string(hash), models.RoleUser)
	if err != nil {
		return nil, err
	}
	s.logger.Info("New account registered", "user_id", profile.UserID, "username", username)
	return s.startSession(profile)
}

// SignIn authenticates by email and password.
func (s *Service) SignIn(email, password string) (*models.Session, error) {
	profile, err := s.db.GetProfileByEmail(normalizeEmail(email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.startSession(profile)
}

func (s *Service) startSession(profile *models.Profile) (*models.Session, error) {
	token, _, err := s.tokens.NewAccessToken(profile.UserID, profile.Email, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	session := &models.Session{UserID: profile.UserID, Email: profile.Email, Token: token}
	s.setCurrent(EventSignedIn, session)
	return session, nil
}

// SignOut drops the tracked session. Safe to call when already signed out.
func (s *Service) SignOut() {
	s.setCurrent(EventSignedOut, nil)
}

// ParseToken verifies a bearer token and resolves it to a session. Used by
// request middleware; does not touch the tracked current session.
func (s *Service) ParseToken(token string) (*models.Session, error) {
	claims, err := s.tokens.ParseAccessToken(token)
	if err != nil {
		return nil, err
	}
	// Confirm the account still exists; tokens outlive deletions.
	if _, err := s.db.GetProfile(claims.Subject); err != nil {
		return nil, fmt.Errorf("unknown subject: %w", err)
	}
	return &models.Session{UserID: claims.Subject, Email: claims.Email, Token: token}, nil
}

// RequestPasswordReset issues a single-use reset token for the account. The
// token is always minted and returned to the caller for delivery; whether
// the email exists is not revealed through the error.
func (s *Service) RequestPasswordReset(email string) (string, error) {
	token, err := NewResetToken()
	if err != nil {
		return "", err
	}
	profile, err := s.db.GetProfileByEmail(normalizeEmail(email))
	if err != nil {
		if err == sql.ErrNoRows {
			s.logger.Info("Password reset requested for unknown email")
			return token, nil
		}
		return "", err
	}
	if err := s.db.CreatePasswordReset(token, profile.UserID, time.Now().Add(s.resetTTL)); err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword redeems a reset token and sets the new password.
func (s *Service) ResetPassword(token, newPassword string) error {
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}
	userID, err := s.db.ConsumePasswordReset(token)
	if err != nil {
		return ErrInvalidResetToken
	}
	return s.setPassword(userID, newPassword)
}

// UpdatePassword changes the password for an already signed-in user.
func (s *Service) UpdatePassword(ctx context.Context, newPassword string) error {
	session := s.FromContext(ctx)
	if session == nil {
		return errors.New("not signed in")
	}
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}
	if err := s.setPassword(session.UserID, newPassword); err != nil {
		return err
	}
	s.setCurrent(EventPasswordUpdated, session)
	return nil
}

func (s *Service) setPassword(userID, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.db.UpdatePassword(userID, string(hash)); err != nil {
		return err
	}
	s.logger.Info("Password updated", "user_id", userID)
	return nil
}
