// unadulting/auth/auth_test.go
package auth

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"unadulting/database"
	"unadulting/models"
)

func setupService(t *testing.T) *Service {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	dir, err := os.MkdirTemp("", "unadulting_auth_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	ds, err := database.InitDB(filepath.Join(dir, "test.db?_journal_mode=WAL&_foreign_keys=on"), logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() {
		ds.DB.Close()
		os.RemoveAll(dir)
	})

	return NewService(ds, []byte("test-secret"), time.Hour, time.Hour, logger)
}

func TestSignUpAndSignIn(t *testing.T) {
	s := setupService(t)

	session, err := s.SignUp("alice", "Alice@Example.com", "hunter22!")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if session.Email != "alice@example.com" {
		t.Errorf("Expected normalized email, got %q", session.Email)
	}
	if s.Current() == nil {
		t.Fatal("Expected current session after sign-up")
	}

	s.SignOut()
	if s.Current() != nil {
		t.Fatal("Expected nil session after sign-out")
	}

	if _, err := s.SignIn("alice@example.com", "wrong-password"); err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.SignIn("nobody@example.com", "hunter22!"); err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials for unknown email, got %v", err)
	}

	session, err = s.SignIn("alice@example.com", "hunter22!")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if session.UserID == "" || session.Token == "" {
		t.Error("Expected populated session from sign-in")
	}
}

func TestSignUpRejectsDuplicates(t *testing.T) {
	s := setupService(t)

	if _, err := s.SignUp("alice", "alice@example.com", "hunter22!"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if _, err := s.SignUp("alice2", "alice@example.com", "hunter22!"); err != ErrEmailTaken {
		t.Errorf("Expected ErrEmailTaken, got %v", err)
	}
	if _, err := s.SignUp("alice", "other@example.com", "hunter22!"); err != ErrUsernameTaken {
		t.Errorf("Expected ErrUsernameTaken, got %v", err)
	}
	if _, err := s.SignUp("bob", "bob@example.com", "short"); err != ErrWeakPassword {
		t.Errorf("Expected ErrWeakPassword, got %v", err)
	}
}

func TestParseToken(t *testing.T) {
	s := setupService(t)

	session, err := s.SignUp("alice", "alice@example.com", "hunter22!")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	parsed, err := s.ParseToken(session.Token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if parsed.UserID != session.UserID || parsed.Email != session.Email {
		t.Errorf("Parsed session mismatch: %+v vs %+v", parsed, session)
	}

	if _, err := s.ParseToken("not-a-token"); err == nil {
		t.Error("Expected error for garbage token")
	}

	other := TokenService{Secret: []byte("different-secret"), AccessTokenTTL: time.Hour}
	forged, _, err := other.NewAccessToken(session.UserID, session.Email, time.Time{})
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	if _, err := s.ParseToken(forged); err == nil {
		t.Error("Expected error for token signed with wrong secret")
	}
}

func TestFromContextPrefersRequestSession(t *testing.T) {
	s := setupService(t)

	if _, err := s.SignUp("alice", "alice@example.com", "hunter22!"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	reqSession := &models.Session{UserID: "someone-else", Email: "bob@example.com"}
	ctx := WithSession(context.Background(), reqSession)
	if got := s.FromContext(ctx); got != reqSession {
		t.Errorf("Expected context session to win, got %+v", got)
	}
	if got := s.FromContext(context.Background()); got == nil || got.Email != "alice@example.com" {
		t.Errorf("Expected fallback to current session, got %+v", got)
	}
}

func TestFromContextExplicitAnonymous(t *testing.T) {
	s := setupService(t)

	if _, err := s.SignUp("alice", "alice@example.com", "hunter22!"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	// A nil session attached by the request middleware means anonymous; the
	// tracked session must not leak into it.
	ctx := WithSession(context.Background(), nil)
	if got := s.FromContext(ctx); got != nil {
		t.Errorf("Expected anonymous for explicit nil session, got %+v", got)
	}
}

func TestStateChanges(t *testing.T) {
	s := setupService(t)

	ch, cancel := s.StateChanges()
	defer cancel()

	if _, err := s.SignUp("alice", "alice@example.com", "hunter22!"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	s.SignOut()

	got := []string{}
	for i := 0; i < 2; i++ {
		select {
		case c := <-ch:
			got = append(got, c.Event)
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for auth change %d", i)
		}
	}
	if got[0] != EventSignedIn || got[1] != EventSignedOut {
		t.Errorf("Unexpected event order: %v", got)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	s := setupService(t)

	if _, err := s.SignUp("alice", "alice@example.com", "hunter22!"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	s.SignOut()

	token, err := s.RequestPasswordReset("alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if err := s.ResetPassword(token, "a-new-password"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if err := s.ResetPassword(token, "again-different"); err != ErrInvalidResetToken {
		t.Errorf("Expected ErrInvalidResetToken on reuse, got %v", err)
	}

	if _, err := s.SignIn("alice@example.com", "hunter22!"); err != ErrInvalidCredentials {
		t.Errorf("Expected old password rejected, got %v", err)
	}
	if _, err := s.SignIn("alice@example.com", "a-new-password"); err != nil {
		t.Errorf("Expected new password accepted, got %v", err)
	}

	// Unknown emails still yield a token so callers cannot enumerate accounts.
	if tok, err := s.RequestPasswordReset("nobody@example.com"); err != nil || tok == "" {
		t.Errorf("Expected opaque success for unknown email, got %q %v", tok, err)
	}
}

func TestUpdatePassword(t *testing.T) {
	s := setupService(t)

	if _, err := s.SignUp("alice", "alice@example.com", "hunter22!"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if err := s.UpdatePassword(context.Background(), "a-new-password"); err != nil {
		t.Fatalf("UpdatePassword failed: %v", err)
	}

	s.SignOut()
	if err := s.UpdatePassword(context.Background(), "whatever-else"); err == nil {
		t.Error("Expected error updating password while signed out")
	}
	if _, err := s.SignIn("alice@example.com", "a-new-password"); err != nil {
		t.Errorf("Expected updated password accepted, got %v", err)
	}
}
