// unadulting/models/models.go
package models

import (
	"database/sql"
	"time"
)

// --- Core Data Models ---

// Topic and Post lifecycle states.
const (
	StatusPublished = "published"
	StatusPending   = "pending"
	StatusDeleted   = "deleted"
)

// Report states.
const (
	ReportOpen   = "open"
	ReportClosed = "closed"
)

// Profile roles.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

type Category struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SortOrder   int    `json:"sort_order"`
}

type Topic struct {
	ID                 int64     `json:"id"`
	CategoryID         int64     `json:"category_id"`
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	AuthorID           string    `json:"author_id"`
	Status             string    `json:"status"`
	IsPinned           bool      `json:"is_pinned"`
	IsLocked           bool      `json:"is_locked"`
	ContentWarning     bool      `json:"content_warning"`
	ContentWarningText string    `json:"content_warning_text,omitempty"`
	FlagsCount         int       `json:"flags_count"`
	VoteCount          int       `json:"vote_count"`
	Replies            int       `json:"replies"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	// Joined rows, present on list/detail reads.
	Category *Category `json:"categories,omitempty"`
	Author   *Profile  `json:"profiles,omitempty"`
}

type Post struct {
	ID        int64     `json:"id"`
	TopicID   int64     `json:"topic_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Author *Profile `json:"profiles,omitempty"`
}

type Report struct {
	ID         int64          `json:"id"`
	TopicID    int64          `json:"topic_id"`
	ReporterID sql.NullString `json:"reporter_id"`
	Reason     string         `json:"reason"`
	Notes      string         `json:"notes,omitempty"`
	Status     string         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`

	TopicTitle string `json:"topic_title,omitempty"`
}

// Profile drives authorization checks. PasswordHash never leaves the
// database and auth packages.
type Profile struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Email        string    `json:"-"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is the authenticated principal, as surfaced to the rest of the
// system. Role and moderator status are advisory; facades re-derive them.
type Session struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Token  string `json:"token,omitempty"`
}

// AuditEntry rows are append-only and read-only outside the database package.
type AuditEntry struct {
	ID         int64          `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   sql.NullInt64  `json:"target_id"`
	Meta       sql.NullString `json:"meta"`
	CreatedAt  time.Time      `json:"created_at"`
}

// VoteResult is the authoritative outcome of a vote upsert: the caller's
// vote after toggle semantics are applied, and the topic's new aggregate.
type VoteResult struct {
	TopicID  int64 `json:"topic_id"`
	UserVote int   `json:"user_vote"`
	Score    int   `json:"score"`
}
