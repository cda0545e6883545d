// unadulting/database/topics.go
package database

import (
	"database/sql"
	"fmt"
	"strings"

	"unadulting/models"
	"unadulting/utils"
)

// Sort orders accepted by ListTopics.
const (
	SortLatest      = "latest"       // last activity, pinned first
	SortNewest      = "newest"       // creation time, pinned first
	SortMostReplies = "most-replies" // resolved by the caller after fetch
)

// TopicQuery describes one page of the topic list.
type TopicQuery struct {
	Status       string
	CategorySlug string
	Search       string
	Sort         string
	Page         int
	PageSize     int
}

const topicColumns = `t.id, t.category_id, t.title, t.body, t.author_id, t.status,
	t.is_pinned, t.is_locked, t.content_warning, t.content_warning_text,
	t.flags_count, t.vote_count, t.created_at, t.updated_at,
	c.id, c.slug, c.name, c.description, c.sort_order,
	pr.user_id, pr.username, pr.role, pr.created_at`

func scanTopic(rows interface{ Scan(...interface{}) error }) (*models.Topic, error) {
	var t models.Topic
	var c models.Category
	var a models.Profile
	err := rows.Scan(
		&t.ID, &t.CategoryID, &t.Title, &t.Body, &t.AuthorID, &t.Status,
		&t.IsPinned, &t.IsLocked, &t.ContentWarning, &t.ContentWarningText,
		&t.FlagsCount, &t.VoteCount, &t.CreatedAt, &t.UpdatedAt,
		&c.ID, &c.Slug, &c.Name, &c.Description, &c.SortOrder,
		&a.UserID, &a.Username, &a.Role, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Category = &c
	t.Author = &a
	return &t, nil
}

// buildTopicFilter assembles the shared WHERE clause for list and count
// queries. Search terms are escaped so '%' and '_' match literally.
func buildTopicFilter(q TopicQuery) (string, []interface{}) {
	where := []string{"t.status = ?"}
	args := []interface{}{q.Status}
	if q.CategorySlug != "" && q.CategorySlug != "all" {
		where = append(where, "c.slug = ?")
		args = append(args, q.CategorySlug)
	}
	if q.Search != "" {
		pattern := "%" + utils.EscapeLike(q.Search) + `%`
		where = append(where, `(t.title LIKE ? ESCAPE '\' OR t.body LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	return strings.Join(where, " AND "), args
}

// CountTopics returns the total number of topics matching the filter,
// ignoring pagination.
func (ds *DatabaseService) CountTopics(q TopicQuery) (int, error) {
	where, args := buildTopicFilter(q)
	var count int
	err := ds.DB.QueryRow(
		"SELECT COUNT(*) FROM topics t JOIN categories c ON c.id = t.category_id WHERE "+where,
		args...,
	).Scan(&count)
	return count, err
}

// ListTopics retrieves one page of topics with author, category, and reply
// counts attached, plus the total match count for pagination.
//
// Reply counts are aggregated in the main query; if that fails (for example
// against a partially migrated database), it falls back to per-topic count
// queries so the list still renders.
func (ds *DatabaseService) ListTopics(q TopicQuery) ([]models.Topic, int, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	total, err := ds.CountTopics(q)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count topics: %w", err)
	}

	where, args := buildTopicFilter(q)
	orderCol := "t.updated_at"
	if q.Sort == SortNewest {
		orderCol = "t.created_at"
	}
	offset := (q.Page - 1) * q.PageSize
	args = append(args, q.PageSize, offset)

	query := fmt.Sprintf(`
        SELECT %s,
               (SELECT COUNT(*) FROM posts p WHERE p.topic_id = t.id AND p.status = 'published') AS replies
        FROM topics t
        JOIN categories c ON c.id = t.category_id
        JOIN profiles pr ON pr.user_id = t.author_id
        WHERE %s
        ORDER BY t.is_pinned DESC, %s DESC
        LIMIT ? OFFSET ?`, topicColumns, where, orderCol)

	topics, err := ds.queryTopicsWithReplies(query, args)
	if err != nil {
		ds.logger.Warn("Aggregated topic query failed, falling back to per-topic counts", "error", err)
		topics, err = ds.listTopicsLegacy(where, orderCol, args)
		if err != nil {
			return nil, 0, err
		}
	}
	return topics, total, nil
}

func (ds *DatabaseService) queryTopicsWithReplies(query string, args []interface{}) ([]models.Topic, error) {
	rows, err := ds.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in queryTopicsWithReplies", "error", err)
		}
	}()

	var topics []models.Topic
	for rows.Next() {
		var t models.Topic
		var c models.Category
		var a models.Profile
		if err := rows.Scan(
			&t.ID, &t.CategoryID, &t.Title, &t.Body, &t.AuthorID, &t.Status,
			&t.IsPinned, &t.IsLocked, &t.ContentWarning, &t.ContentWarningText,
			&t.FlagsCount, &t.VoteCount, &t.CreatedAt, &t.UpdatedAt,
			&c.ID, &c.Slug, &c.Name, &c.Description, &c.SortOrder,
			&a.UserID, &a.Username, &a.Role, &a.CreatedAt,
			&t.Replies,
		); err != nil {
			return nil, err
		}
		t.Category = &c
		t.Author = &a
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// listTopicsLegacy fetches the page without the reply aggregate, then fills
// reply counts with one query per topic. Slower, but survives schema drift.
func (ds *DatabaseService) listTopicsLegacy(where, orderCol string, args []interface{}) ([]models.Topic, error) {
	query := fmt.Sprintf(`
        SELECT %s
        FROM topics t
        JOIN categories c ON c.id = t.category_id
        JOIN profiles pr ON pr.user_id = t.author_id
        WHERE %s
        ORDER BY t.is_pinned DESC, %s DESC
        LIMIT ? OFFSET ?`, topicColumns, where, orderCol)

	rows, err := ds.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in listTopicsLegacy", "error", err)
		}
	}()

	var topics []models.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range topics {
		if err := ds.DB.QueryRow(
			"SELECT COUNT(*) FROM posts WHERE topic_id = ? AND status = 'published'",
			topics[i].ID,
		).Scan(&topics[i].Replies); err != nil {
			ds.logger.Warn("Failed to count replies for topic", "topic_id", topics[i].ID, "error", err)
		}
	}
	return topics, nil
}

// GetTopic fetches a single topic with its author, category, and reply count.
func (ds *DatabaseService) GetTopic(id int64) (*models.Topic, error) {
	query := fmt.Sprintf(`
        SELECT %s,
               (SELECT COUNT(*) FROM posts p WHERE p.topic_id = t.id AND p.status = 'published') AS replies
        FROM topics t
        JOIN categories c ON c.id = t.category_id
        JOIN profiles pr ON pr.user_id = t.author_id
        WHERE t.id = ?`, topicColumns)

	var t models.Topic
	var c models.Category
	var a models.Profile
	err := ds.DB.QueryRow(query, id).Scan(
		&t.ID, &t.CategoryID, &t.Title, &t.Body, &t.AuthorID, &t.Status,
		&t.IsPinned, &t.IsLocked, &t.ContentWarning, &t.ContentWarningText,
		&t.FlagsCount, &t.VoteCount, &t.CreatedAt, &t.UpdatedAt,
		&c.ID, &c.Slug, &c.Name, &c.Description, &c.SortOrder,
		&a.UserID, &a.Username, &a.Role, &a.CreatedAt,
		&t.Replies,
	)
	if err != nil {
		return nil, err
	}
	t.Category = &c
	t.Author = &a
	return &t, nil
}

// CreateTopic inserts a topic. New topics start in the pending state and
// only appear publicly once a moderator approves them.
func (ds *DatabaseService) CreateTopic(categoryID int64, title, body, authorID string, contentWarning bool, contentWarningText string) (*models.Topic, error) {
	now := utils.GetSQLTime()
	res, err := ds.DB.Exec(`
        INSERT INTO topics (category_id, title, body, author_id, status, content_warning, content_warning_text, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		categoryID, title, body, authorID, models.StatusPending, contentWarning, contentWarningText, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create topic: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return ds.GetTopic(id)
}

// TopicPatch holds optional field updates; nil fields are left untouched.
type TopicPatch struct {
	Title              *string
	Body               *string
	Status             *string
	IsPinned           *bool
	IsLocked           *bool
	ContentWarning     *bool
	ContentWarningText *string
}

// UpdateTopic applies a patch and bumps updated_at. Returns the fresh row.
func (ds *DatabaseService) UpdateTopic(id int64, patch TopicPatch) (*models.Topic, error) {
	sets := []string{"updated_at = ?"}
	args := []interface{}{utils.GetSQLTime()}
	add := func(col string, val interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Body != nil {
		add("body", *patch.Body)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.IsPinned != nil {
		add("is_pinned", *patch.IsPinned)
	}
	if patch.IsLocked != nil {
		add("is_locked", *patch.IsLocked)
	}
	if patch.ContentWarning != nil {
		add("content_warning", *patch.ContentWarning)
	}
	if patch.ContentWarningText != nil {
		add("content_warning_text", *patch.ContentWarningText)
	}
	args = append(args, id)

	res, err := ds.DB.Exec("UPDATE topics SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update topic %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, sql.ErrNoRows
	}
	return ds.GetTopic(id)
}

// VoteTopic records a vote for a topic. Voting in the direction of an
// existing vote removes it; voting the other way flips it. The topic's
// denormalized vote_count moves in the same transaction, and the result
// carries both the voter's final direction and the new score.
func (ds *DatabaseService) VoteTopic(topicID int64, voterID string, value int) (*models.VoteResult, error) {
	if value != 1 && value != -1 {
		return nil, fmt.Errorf("invalid vote value %d", value)
	}

	tx, err := ds.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback transaction in VoteTopic", "error", rerr)
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
	var prev int
	err = tx.QueryRow("SELECT value FROM topic_votes WHERE topic_id = ? AND voter_id = ?", topicID, voterID).Scan(&prev)

	var delta, final int
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(
			"INSERT INTO topic_votes (topic_id, voter_id, value, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			topicID, voterID, value, now, now,
		); err != nil {
			return nil, fmt.Errorf("failed to insert vote: %w", err)
		}
		delta, final = value, value
	case err != nil:
		return nil, err
	case prev == value:
		if _, err := tx.Exec("DELETE FROM topic_votes WHERE topic_id = ? AND voter_id = ?", topicID, voterID); err != nil {
			return nil, fmt.Errorf("failed to remove vote: %w", err)
		}
		delta, final = -value, 0
	default:
		if _, err := tx.Exec(
			"UPDATE topic_votes SET value = ?, updated_at = ? WHERE topic_id = ? AND voter_id = ?",
			value, now, topicID, voterID,
		); err != nil {
			return nil, fmt.Errorf("failed to flip vote: %w", err)
		}
		delta, final = value-prev, value
	}

	var score int
	err = tx.QueryRow(
		"UPDATE topics SET vote_count = vote_count + ? WHERE id = ? RETURNING vote_count",
		delta, topicID,
	).Scan(&score)
	if err != nil {
		return nil, fmt.Errorf("failed to update vote count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &models.VoteResult{TopicID: topicID, UserVote: final, Score: score}, nil
}

// ListUserVotes returns the voter's current vote direction for every topic
// they have voted on.
func (ds *DatabaseService) ListUserVotes(voterID string) (map[int64]int, error) {
	rows, err := ds.DB.Query("SELECT topic_id, value FROM topic_votes WHERE voter_id = ?", voterID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListUserVotes", "error", err)
		}
	}()

	votes := make(map[int64]int)
	for rows.Next() {
		var topicID int64
		var value int
		if err := rows.Scan(&topicID, &value); err != nil {
			return nil, err
		}
		votes[topicID] = value
	}
	return votes, rows.Err()
}

// GetTopicScores returns the current vote_count for each requested topic.
func (ds *DatabaseService) GetTopicScores(ids []int64) (map[int64]int, error) {
	scores := make(map[int64]int, len(ids))
	if len(ids) == 0 {
		return scores, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := ds.DB.Query("SELECT id, vote_count FROM topics WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in GetTopicScores", "error", err)
		}
	}()

	for rows.Next() {
		var id int64
		var score int
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		scores[id] = score
	}
	return scores, rows.Err()
}
