// unadulting/database/profiles.go
package database

import (
	"database/sql"
	"fmt"
	"time"

	"unadulting/models"
	"unadulting/utils"
)

// CreateProfile inserts a new user profile. The caller supplies the user ID
// and an already-hashed password.
func (ds *DatabaseService) CreateProfile(userID, username, email, passwordHash, role string) (*models.Profile, error) {
	now := utils.GetSQLTime()
	_, err := ds.DB.Exec(
		"INSERT INTO profiles (user_id, username, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		userID, username, email, passwordHash, role, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return &models.Profile{
		UserID:       userID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
	}, nil
}

func (ds *DatabaseService) scanProfile(row *sql.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.UserID, &p.Username, &p.Email, &p.PasswordHash, &p.Role, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const profileColumns = "user_id, username, email, password_hash, role, created_at"

// GetProfile fetches a profile by user ID.
func (ds *DatabaseService) GetProfile(userID string) (*models.Profile, error) {
	return ds.scanProfile(ds.DB.QueryRow("SELECT "+profileColumns+" FROM profiles WHERE user_id = ?", userID))
}

// GetProfileByEmail fetches a profile by email, for sign-in.
func (ds *DatabaseService) GetProfileByEmail(email string) (*models.Profile, error) {
	return ds.scanProfile(ds.DB.QueryRow("SELECT "+profileColumns+" FROM profiles WHERE email = ?", email))
}

// GetProfileByUsername fetches a profile by username.
func (ds *DatabaseService) GetProfileByUsername(username string) (*models.Profile, error) {
	return ds.scanProfile(ds.DB.QueryRow("SELECT "+profileColumns+" FROM profiles WHERE username = ?", username))
}

// GetRole returns the current role for a user. Roles are re-read on every
// privileged operation rather than trusted from a token.
func (ds *DatabaseService) GetRole(userID string) (string, error) {
	var role string
	err := ds.DB.QueryRow("SELECT role FROM profiles WHERE user_id = ?", userID).Scan(&role)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("profile '%s' not found", userID)
		}
		return "", err
	}
	return role, nil
}

// UpdatePassword replaces the stored password hash for a user.
func (ds *DatabaseService) UpdatePassword(userID, passwordHash string) error {
	res, err := ds.DB.Exec("UPDATE profiles SET password_hash = ? WHERE user_id = ?", passwordHash, userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreatePasswordReset stores a single-use reset token.
func (ds *DatabaseService) CreatePasswordReset(token, userID string, expiresAt time.Time) error {
	_, err := ds.DB.Exec(
		"INSERT INTO password_resets (token, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, expiresAt.UTC(),
	)
	return err
}

// ConsumePasswordReset redeems a reset token, deleting it in the same
// transaction so it cannot be replayed. Expired tokens are rejected.
func (ds *DatabaseService) ConsumePasswordReset(token string) (string, error) {
	tx, err := ds.DB.Begin()
	if err != nil {
		return "", err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback transaction in ConsumePasswordReset", "error", rerr)
		}
	}()

	var userID string
	var expiresAt time.Time
	err = tx.QueryRow("SELECT user_id, expires_at FROM password_resets WHERE token = ?", token).Scan(&userID, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("reset token not found")
		}
		return "", err
	}
	if _, err := tx.Exec("DELETE FROM password_resets WHERE token = ?", token); err != nil {
		return "", err
	}
	if utils.GetTime().After(expiresAt) {
		// Still commit the delete so the stale token is gone.
		if err := tx.Commit(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("reset token expired")
	}
	return userID, tx.Commit()
}
