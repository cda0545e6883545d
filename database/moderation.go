// unadulting/database/moderation.go
package database

import (
	"database/sql"
	"fmt"

	"unadulting/models"
	"unadulting/utils"
)

// ListPendingTopics returns the moderation queue: topics awaiting approval,
// oldest first so the queue drains in submission order. Category and search
// filters match the public list's semantics.
func (ds *DatabaseService) ListPendingTopics(categorySlug, search string, limit int) ([]models.Topic, error) {
	q := TopicQuery{Status: models.StatusPending, CategorySlug: categorySlug, Search: search}
	where, args := buildTopicFilter(q)
	args = append(args, limit)

	query := fmt.Sprintf(`
        SELECT %s,
               (SELECT COUNT(*) FROM posts p WHERE p.topic_id = t.id AND p.status = 'published') AS replies
        FROM topics t
        JOIN categories c ON c.id = t.category_id
        JOIN profiles pr ON pr.user_id = t.author_id
        WHERE %s
        ORDER BY t.created_at ASC
        LIMIT ?`, topicColumns, where)

	return ds.queryTopicsWithReplies(query, args)
}

// setTopicField runs a single-column topic update plus its audit entry in
// one transaction.
func (ds *DatabaseService) setTopicField(topicID int64, column string, value interface{}, actorID, action, meta string) error {
	tx, err := ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback transaction in setTopicField", "action", action, "error", rerr)
		}
	}()

	res, err := tx.Exec(
		fmt.Sprintf("UPDATE topics SET %s = ?, updated_at = ? WHERE id = ?", column),
		value, utils.GetSQLTime(), topicID,
	)
	if err != nil {
		return fmt.Errorf("failed to %s topic %d: %w", action, topicID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	if err := LogAudit(tx, actorID, action, "topic", topicID, meta); err != nil {
		return err
	}
	return tx.Commit()
}

// ApproveTopic publishes a pending topic.
func (ds *DatabaseService) ApproveTopic(topicID int64, actorID string) error {
	return ds.setTopicField(topicID, "status", models.StatusPublished, actorID, "approve_topic", "")
}

// SoftDeleteTopic hides a topic from all public queries. The row and its
// votes are kept for the audit trail.
func (ds *DatabaseService) SoftDeleteTopic(topicID int64, actorID string) error {
	return ds.setTopicField(topicID, "status", models.StatusDeleted, actorID, "delete_topic", "")
}

// SetTopicPinned pins or unpins a topic.
func (ds *DatabaseService) SetTopicPinned(topicID int64, pinned bool, actorID string) error {
	action := "unpin_topic"
	if pinned {
		action = "pin_topic"
	}
	return ds.setTopicField(topicID, "is_pinned", pinned, actorID, action, "")
}

// SetTopicLocked locks or unlocks a topic against new replies.
func (ds *DatabaseService) SetTopicLocked(topicID int64, locked bool, actorID string) error {
	action := "unlock_topic"
	if locked {
		action = "lock_topic"
	}
	return ds.setTopicField(topicID, "is_locked", locked, actorID, action, "")
}

// ResolveReport closes an open report and records who closed it.
func (ds *DatabaseService) ResolveReport(reportID int64, actorID string) error {
	tx, err := ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback transaction in ResolveReport", "error", rerr)
		}
	}()

	res, err := tx.Exec("UPDATE reports SET status = ? WHERE id = ?", models.ReportClosed, reportID)
	if err != nil {
		return fmt.Errorf("failed to resolve report %d: %w", reportID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	if err := LogAudit(tx, actorID, "resolve_report", "report", reportID, ""); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteModeratedPost removes a reply on a moderator's behalf and logs it.
func (ds *DatabaseService) DeleteModeratedPost(postID int64, actorID string) error {
	tx, err := ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback transaction in DeleteModeratedPost", "error", rerr)
		}
	}()

	res, err := tx.Exec("DELETE FROM posts WHERE id = ?", postID)
	if err != nil {
		return fmt.Errorf("failed to delete post %d: %w", postID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	if err := LogAudit(tx, actorID, "delete_post", "post", postID, ""); err != nil {
		return err
	}
	return tx.Commit()
}

// ListRecentAudit returns the latest audit entries, newest first.
func (ds *DatabaseService) ListRecentAudit(limit int) ([]models.AuditEntry, error) {
	rows, err := ds.DB.Query(`
        SELECT id, actor_id, action, target_type, target_id, meta, created_at
        FROM audit_log
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListRecentAudit", "error", err)
		}
	}()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID, &e.Meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
