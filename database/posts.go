// unadulting/database/posts.go
package database

import (
	"database/sql"
	"fmt"

	"unadulting/models"
	"unadulting/utils"
)

const postColumns = `p.id, p.topic_id, p.author_id, p.body, p.status, p.created_at, p.updated_at,
	pr.user_id, pr.username, pr.role, pr.created_at`

func scanPost(row interface{ Scan(...interface{}) error }) (*models.Post, error) {
	var p models.Post
	var a models.Profile
	err := row.Scan(
		&p.ID, &p.TopicID, &p.AuthorID, &p.Body, &p.Status, &p.CreatedAt, &p.UpdatedAt,
		&a.UserID, &a.Username, &a.Role, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Author = &a
	return &p, nil
}

// ListPosts fetches all published replies for a topic, oldest first.
func (ds *DatabaseService) ListPosts(topicID int64) ([]models.Post, error) {
	rows, err := ds.DB.Query(`
        SELECT `+postColumns+`
        FROM posts p
        JOIN profiles pr ON pr.user_id = p.author_id
        WHERE p.topic_id = ? AND p.status = ?
        ORDER BY p.created_at ASC, p.id ASC`, topicID, models.StatusPublished)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListPosts", "error", err)
		}
	}()

	var posts []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// GetPost fetches a single post with its author attached.
func (ds *DatabaseService) GetPost(id int64) (*models.Post, error) {
	return scanPost(ds.DB.QueryRow(`
        SELECT `+postColumns+`
        FROM posts p
        JOIN profiles pr ON pr.user_id = p.author_id
        WHERE p.id = ?`, id))
}

// CreatePost inserts a reply and bumps the parent topic's updated_at so the
// topic surfaces under the last-activity sort. Both writes share a
// transaction.
func (ds *DatabaseService) CreatePost(topicID int64, authorID, body string) (*models.Post, error) {
	tx, err := ds.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback transaction in CreatePost", "error", rerr)
		}
	}()

	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM topics WHERE id = ?", topicID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, sql.ErrNoRows
	}

	now := utils.GetSQLTime()
	res, err := tx.Exec(
		"INSERT INTO posts (topic_id, author_id, body, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		topicID, authorID, body, models.StatusPublished, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec("UPDATE topics SET updated_at = ? WHERE id = ?", now, topicID); err != nil {
		return nil, fmt.Errorf("failed to bump topic: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ds.GetPost(id)
}

// UpdatePost replaces a post's body and bumps its updated_at.
func (ds *DatabaseService) UpdatePost(id int64, body string) (*models.Post, error) {
	res, err := ds.DB.Exec(
		"UPDATE posts SET body = ?, updated_at = ? WHERE id = ?",
		body, utils.GetSQLTime(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update post %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, sql.ErrNoRows
	}
	return ds.GetPost(id)
}

// DeletePost removes a post permanently.
func (ds *DatabaseService) DeletePost(id int64) error {
	res, err := ds.DB.Exec("DELETE FROM posts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete post %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateReport files a report against a topic. reporterID may be empty for
// anonymous reports. The topic's flags_count is maintained by trigger.
func (ds *DatabaseService) CreateReport(topicID int64, reporterID, reason, notes string) (*models.Report, error) {
	var reporter sql.NullString
	if reporterID != "" {
		reporter = sql.NullString{String: reporterID, Valid: true}
	}
	now := utils.GetSQLTime()
	res, err := ds.DB.Exec(
		"INSERT INTO reports (topic_id, reporter_id, reason, notes, status, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		topicID, reporter, reason, notes, models.ReportOpen, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Report{
		ID:         id,
		TopicID:    topicID,
		ReporterID: reporter,
		Reason:     reason,
		Notes:      notes,
		Status:     models.ReportOpen,
		CreatedAt:  now,
	}, nil
}

// ListReports fetches reports by status with the reported topic's title
// joined in, newest first.
func (ds *DatabaseService) ListReports(status string, limit int) ([]models.Report, error) {
	rows, err := ds.DB.Query(`
        SELECT r.id, r.topic_id, r.reporter_id, r.reason, r.notes, r.status, r.created_at, t.title
        FROM reports r
        JOIN topics t ON t.id = r.topic_id
        WHERE r.status = ?
        ORDER BY r.created_at DESC
        LIMIT ?`, status, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListReports", "error", err)
		}
	}()

	var reports []models.Report
	for rows.Next() {
		var r models.Report
		if err := rows.Scan(&r.ID, &r.TopicID, &r.ReporterID, &r.Reason, &r.Notes, &r.Status, &r.CreatedAt, &r.TopicTitle); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// GetReport fetches a single report.
func (ds *DatabaseService) GetReport(id int64) (*models.Report, error) {
	var r models.Report
	err := ds.DB.QueryRow(`
        SELECT r.id, r.topic_id, r.reporter_id, r.reason, r.notes, r.status, r.created_at, t.title
        FROM reports r
        JOIN topics t ON t.id = r.topic_id
        WHERE r.id = ?`, id).Scan(
		&r.ID, &r.TopicID, &r.ReporterID, &r.Reason, &r.Notes, &r.Status, &r.CreatedAt, &r.TopicTitle,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
