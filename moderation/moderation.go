// unadulting/moderation/moderation.go
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"unadulting/auth"
	"unadulting/config"
	"unadulting/database"
	"unadulting/models"
)

var ErrNotModerator = errors.New("moderator role required")

// Service is the role-gated facade over moderation queries and actions.
// Every action re-derives the caller's role from their profile; no cached
// client state is trusted. Moderation has no realtime push: callers
// re-fetch after each action.
type Service struct {
	db       *database.DatabaseService
	sessions *auth.Service
	logger   *slog.Logger
}

func NewService(db *database.DatabaseService, sessions *auth.Service, logger *slog.Logger) *Service {
	return &Service{db: db, sessions: sessions, logger: logger}
}

// gate resolves the caller and confirms a moderator or admin role.
func (s *Service) gate(ctx context.Context) (*models.Session, error) {
	session := s.sessions.FromContext(ctx)
	if session == nil {
		return nil, ErrNotModerator
	}
	role, err := s.db.GetRole(session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role: %w", err)
	}
	if role != models.RoleModerator && role != models.RoleAdmin {
		return nil, ErrNotModerator
	}
	return session, nil
}

// IsModerator reports whether the caller holds a moderating role.
func (s *Service) IsModerator(ctx context.Context) bool {
	_, err := s.gate(ctx)
	return err == nil
}

// ListPending returns the approval queue, oldest submission first.
func (s *Service) ListPending(ctx context.Context, categorySlug, search string) ([]models.Topic, error) {
	if _, err := s.gate(ctx); err != nil {
		return nil, err
	}
	return s.db.ListPendingTopics(categorySlug, search, config.PendingLimit)
}

// ListOpenReports returns unresolved reports, newest first.
func (s *Service) ListOpenReports(ctx context.Context) ([]models.Report, error) {
	if _, err := s.gate(ctx); err != nil {
		return nil, err
	}
	return s.db.ListReports(models.ReportOpen, config.ReportLimit)
}

// ListRecentAudit returns the latest moderation log entries.
func (s *Service) ListRecentAudit(ctx context.Context) ([]models.AuditEntry, error) {
	if _, err := s.gate(ctx); err != nil {
		return nil, err
	}
	return s.db.ListRecentAudit(config.AuditLimit)
}

// ApproveTopic publishes a pending topic.
func (s *Service) ApproveTopic(ctx context.Context, topicID int64) error {
	session, err := s.gate(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("Moderation: approve topic", "topic_id", topicID, "actor", session.UserID)
	return s.db.ApproveTopic(topicID, session.UserID)
}

// DeleteTopic soft-deletes a topic.
func (s *Service) DeleteTopic(ctx context.Context, topicID int64) error {
	session, err := s.gate(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("Moderation: delete topic", "topic_id", topicID, "actor", session.UserID)
	return s.db.SoftDeleteTopic(topicID, session.UserID)
}

// TogglePin flips a topic's pinned flag and returns the new value.
func (s *Service) TogglePin(ctx context.Context, topicID int64) (bool, error) {
	session, err := s.gate(ctx)
	if err != nil {
		return false, err
	}
	topic, err := s.db.GetTopic(topicID)
	if err != nil {
		return false, err
	}
	pinned := !topic.IsPinned
	s.logger.Info("Moderation: toggle pin", "topic_id", topicID, "pinned", pinned, "actor", session.UserID)
	return pinned, s.db.SetTopicPinned(topicID, pinned, session.UserID)
}

// ToggleLock flips a topic's locked flag and returns the new value.
func (s *Service) ToggleLock(ctx context.Context, topicID int64) (bool, error) {
	session, err := s.gate(ctx)
	if err != nil {
		return false, err
	}
	topic, err := s.db.GetTopic(topicID)
	if err != nil {
		return false, err
	}
	locked := !topic.IsLocked
	s.logger.Info("Moderation: toggle lock", "topic_id", topicID, "locked", locked, "actor", session.UserID)
	return locked, s.db.SetTopicLocked(topicID, locked, session.UserID)
}

// ResolveReport closes an open report.
func (s *Service) ResolveReport(ctx context.Context, reportID int64) error {
	session, err := s.gate(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("Moderation: resolve report", "report_id", reportID, "actor", session.UserID)
	return s.db.ResolveReport(reportID, session.UserID)
}

// DeletePost removes a reply on a moderator's authority.
func (s *Service) DeletePost(ctx context.Context, postID int64) error {
	session, err := s.gate(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("Moderation: delete post", "post_id", postID, "actor", session.UserID)
	return s.db.DeleteModeratedPost(postID, session.UserID)
}
