// unadulting/forum/api.go
package forum

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"unadulting/auth"
	"unadulting/config"
	"unadulting/database"
	"unadulting/models"
	"unadulting/realtime"
	"unadulting/storage"
)

// Error classes callers branch on. Anything else is a backend failure
// passed through with its message.
var (
	ErrNotAuthenticated = errors.New("not_authenticated")
	ErrRateLimited      = errors.New("rate_limited")
	ErrNotFound         = errors.New("not_found")
	ErrValidation       = errors.New("validation")
)

// Report reasons accepted by CreateReport.
var reportReasons = map[string]bool{
	"abuse": true,
	"spam":  true,
	"nsfw":  true,
	"other": true,
}

const voteCacheKey = "vote_cache"

// API is the data-access facade for the forum. All state-changing calls
// publish change events on the realtime feed so open views converge.
type API struct {
	db       *database.DatabaseService
	sessions *auth.Service
	feed     realtime.Feed
	limiter  *models.ActionLimiter
	kv       storage.KeyValue
	logger   *slog.Logger

	postInterval   time.Duration
	editInterval   time.Duration
	reportInterval time.Duration
}

func NewAPI(db *database.DatabaseService, sessions *auth.Service, feed realtime.Feed, kv storage.KeyValue, logger *slog.Logger) *API {
	postEvery, _ := time.ParseDuration(config.DefaultPostInterval)
	editEvery, _ := time.ParseDuration(config.DefaultEditInterval)
	reportEvery, _ := time.ParseDuration(config.DefaultReportInterval)
	return &API{
		db:             db,
		sessions:       sessions,
		feed:           feed,
		limiter:        models.NewActionLimiter(kv),
		kv:             kv,
		logger:         logger,
		postInterval:   postEvery,
		editInterval:   editEvery,
		reportInterval: reportEvery,
	}
}

// Limiter exposes the action limiter so tests can pin its clock.
func (a *API) Limiter() *models.ActionLimiter { return a.limiter }

// Feed returns the realtime feed the facade publishes on.
func (a *API) Feed() realtime.Feed { return a.feed }

func (a *API) session(ctx context.Context) (*models.Session, error) {
	s := a.sessions.FromContext(ctx)
	if s == nil {
		return nil, ErrNotAuthenticated
	}
	return s, nil
}

// IsModerator re-derives the caller's role from their profile on every
// call. Cached session state is never trusted for authorization.
func (a *API) IsModerator(ctx context.Context) bool {
	s := a.sessions.FromContext(ctx)
	if s == nil {
		return false
	}
	role, err := a.db.GetRole(s.UserID)
	if err != nil {
		a.logger.Warn("Failed to resolve role", "user_id", s.UserID, "error", err)
		return false
	}
	return role == models.RoleModerator || role == models.RoleAdmin
}

func (a *API) allow(key string, interval time.Duration) error {
	ok, wait := a.limiter.Allow(key, interval)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRateLimited, models.WaitMessage(wait))
	}
	return nil
}

func (a *API) publish(ctx context.Context, table string, action realtime.Action, row interface{}) {
	raw, err := json.Marshal(row)
	if err != nil {
		a.logger.Error("Failed to encode realtime row", "table", table, "error", err)
		return
	}
	if err := a.feed.Publish(ctx, realtime.Event{Table: table, Action: action, Row: raw}); err != nil {
		a.logger.Warn("Failed to publish realtime event", "table", table, "action", action, "error", err)
	}
}

// ListCategories returns all categories in display order.
func (a *API) ListCategories(ctx context.Context) ([]models.Category, error) {
	return a.db.ListCategories()
}

// ListTopicsParams filters one page of the public topic list.
type ListTopicsParams struct {
	CategorySlug string
	Search       string
	Sort         string
	Page         int
	PageSize     int
}

// TopicPage is one page of topics plus the pagination facts derived from
// the total match count.
type TopicPage struct {
	Items      []models.Topic
	TotalCount int
	HasMore    bool
}

// ListTopics fetches one page of published topics. The most-replies sort is
// resolved after the fetch by re-sorting the page, so items are only
// rank-ordered within the page, not globally.
func (a *API) ListTopics(ctx context.Context, p ListTopicsParams) (*TopicPage, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > config.MaxPageSize {
		p.PageSize = config.DefaultPageSize
	}
	items, total, err := a.db.ListTopics(database.TopicQuery{
		Status:       models.StatusPublished,
		CategorySlug: p.CategorySlug,
		Search:       p.Search,
		Sort:         p.Sort,
		Page:         p.Page,
		PageSize:     p.PageSize,
	})
	if err != nil {
		return nil, err
	}
	if p.Sort == database.SortMostReplies {
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].IsPinned != items[j].IsPinned {
				return items[i].IsPinned
			}
			return items[i].Replies > items[j].Replies
		})
	}
	from := (p.Page - 1) * p.PageSize
	return &TopicPage{
		Items:      items,
		TotalCount: total,
		HasMore:    from+len(items) < total,
	}, nil
}

// GetTopic fetches one topic by id.
func (a *API) GetTopic(ctx context.Context, id int64) (*models.Topic, error) {
	topic, err := a.db.GetTopic(id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: topic %d", ErrNotFound, id)
		}
		return nil, err
	}
	return topic, nil
}

// CreateTopic submits a new topic into the moderation queue.
func (a *API) CreateTopic(ctx context.Context, categorySlug, title, body string, contentWarning bool, contentWarningText string) (*models.Topic, error) {
	session, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" || len(title) > config.MaxTitleLen {
		return nil, fmt.Errorf("%w: title must be 1-%d characters", ErrValidation, config.MaxTitleLen)
	}
	if body == "" || len(body) > config.MaxBodyLen {
		return nil, fmt.Errorf("%w: body must be 1-%d characters", ErrValidation, config.MaxBodyLen)
	}
	cat, err := a.db.GetCategory(categorySlug)
	if err != nil {
		return nil, fmt.Errorf("%w: category '%s'", ErrNotFound, categorySlug)
	}
	topic, err := a.db.CreateTopic(cat.ID, title, body, session.UserID, contentWarning, contentWarningText)
	if err != nil {
		return nil, err
	}
	a.publish(ctx, realtime.TableTopics, realtime.ActionInsert, topic)
	return topic, nil
}

// UpdateTopic edits a topic. Only the author or a moderator may do so.
func (a *API) UpdateTopic(ctx context.Context, id int64, patch database.TopicPatch) (*models.Topic, error) {
	session, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	topic, err := a.GetTopic(ctx, id)
	if err != nil {
		return nil, err
	}
	if topic.AuthorID != session.UserID && !a.IsModerator(ctx) {
		return nil, fmt.Errorf("not authorized to edit topic %d", id)
	}
	updated, err := a.db.UpdateTopic(id, patch)
	if err != nil {
		return nil, err
	}
	a.publish(ctx, realtime.TableTopics, realtime.ActionUpdate, updated)
	return updated, nil
}

// DeleteTopic soft-deletes a topic on behalf of its author.
func (a *API) DeleteTopic(ctx context.Context, id int64) error {
	session, err := a.session(ctx)
	if err != nil {
		return err
	}
	topic, err := a.GetTopic(ctx, id)
	if err != nil {
		return err
	}
	if topic.AuthorID != session.UserID && !a.IsModerator(ctx) {
		return fmt.Errorf("not authorized to delete topic %d", id)
	}
	status := models.StatusDeleted
	if _, err := a.db.UpdateTopic(id, database.TopicPatch{Status: &status}); err != nil {
		return err
	}
	a.publish(ctx, realtime.TableTopics, realtime.ActionDelete, map[string]int64{"id": id})
	return nil
}

// ListPosts fetches a topic's published replies, oldest first.
func (a *API) ListPosts(ctx context.Context, topicID int64) ([]models.Post, error) {
	return a.db.ListPosts(topicID)
}

// CreatePost submits a reply. Locked topics refuse replies; submissions are
// rate limited per topic and user.
func (a *API) CreatePost(ctx context.Context, topicID int64, body string) (*models.Post, error) {
	session, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" || len(body) > config.MaxBodyLen {
		return nil, fmt.Errorf("%w: reply must be 1-%d characters", ErrValidation, config.MaxBodyLen)
	}
	topic, err := a.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if topic.IsLocked {
		return nil, fmt.Errorf("%w: topic is locked", ErrValidation)
	}
	if err := a.allow(fmt.Sprintf("post:%d:%s", topicID, session.UserID), a.postInterval); err != nil {
		return nil, err
	}
	post, err := a.db.CreatePost(topicID, session.UserID, body)
	if err != nil {
		return nil, err
	}
	a.publish(ctx, realtime.TablePosts, realtime.ActionInsert, post)
	return post, nil
}

// CanEditPost reports whether the caller may edit or delete the post. Used
// by views to decide whether to offer the controls at all.
func (a *API) CanEditPost(ctx context.Context, post *models.Post) bool {
	session := a.sessions.FromContext(ctx)
	if session == nil {
		return false
	}
	return session.UserID == post.AuthorID || a.IsModerator(ctx)
}

// UpdatePost edits a reply body. Author-or-moderator only, and only while
// the parent topic is unlocked.
func (a *API) UpdatePost(ctx context.Context, postID int64, body string) (*models.Post, error) {
	session, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" || len(body) > config.MaxBodyLen {
		return nil, fmt.Errorf("%w: reply must be 1-%d characters", ErrValidation, config.MaxBodyLen)
	}
	post, err := a.db.GetPost(postID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: post %d", ErrNotFound, postID)
		}
		return nil, err
	}
	if post.AuthorID != session.UserID && !a.IsModerator(ctx) {
		return nil, fmt.Errorf("not authorized to edit post %d", postID)
	}
	topic, err := a.GetTopic(ctx, post.TopicID)
	if err != nil {
		return nil, err
	}
	if topic.IsLocked {
		return nil, fmt.Errorf("%w: topic is locked", ErrValidation)
	}
	if err := a.allow(fmt.Sprintf("edit:%d:%s", post.TopicID, session.UserID), a.editInterval); err != nil {
		return nil, err
	}
	updated, err := a.db.UpdatePost(postID, body)
	if err != nil {
		return nil, err
	}
	a.publish(ctx, realtime.TablePosts, realtime.ActionUpdate, updated)
	return updated, nil
}

// DeletePost removes a reply. Author-or-moderator only, unlocked topic only.
func (a *API) DeletePost(ctx context.Context, postID int64) error {
	session, err := a.session(ctx)
	if err != nil {
		return err
	}
	post, err := a.db.GetPost(postID)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: post %d", ErrNotFound, postID)
		}
		return err
	}
	if post.AuthorID != session.UserID && !a.IsModerator(ctx) {
		return fmt.Errorf("not authorized to delete post %d", postID)
	}
	topic, err := a.GetTopic(ctx, post.TopicID)
	if err != nil {
		return err
	}
	if topic.IsLocked {
		return fmt.Errorf("%w: topic is locked", ErrValidation)
	}
	if err := a.db.DeletePost(postID); err != nil {
		return err
	}
	a.publish(ctx, realtime.TablePosts, realtime.ActionDelete, map[string]int64{"id": postID, "topic_id": post.TopicID})
	return nil
}

// CreateReport files a report against a topic. A report about a specific
// reply encodes "Post ID: <id>" in the notes. Signed-out reports are
// accepted as anonymous.
func (a *API) CreateReport(ctx context.Context, topicID int64, reason, notes string) (*models.Report, error) {
	if !reportReasons[reason] {
		return nil, fmt.Errorf("%w: unknown report reason %q", ErrValidation, reason)
	}
	if len(notes) > config.MaxNotesLen {
		return nil, fmt.Errorf("%w: notes must be at most %d characters", ErrValidation, config.MaxNotesLen)
	}
	if _, err := a.GetTopic(ctx, topicID); err != nil {
		return nil, err
	}

	reporterID := ""
	limitKey := "anon"
	if session := a.sessions.FromContext(ctx); session != nil {
		reporterID = session.UserID
		limitKey = session.UserID
	}
	if err := a.allow(fmt.Sprintf("report:%d:%s", topicID, limitKey), a.reportInterval); err != nil {
		return nil, err
	}
	return a.db.CreateReport(topicID, reporterID, reason, notes)
}

// ListReports fetches open reports, newest first.
func (a *API) ListReports(ctx context.Context) ([]models.Report, error) {
	return a.db.ListReports(models.ReportOpen, config.ReportLimit)
}

// UpdateReport sets a report's status.
func (a *API) UpdateReport(ctx context.Context, id int64, status string) error {
	if status != models.ReportOpen && status != models.ReportClosed {
		return fmt.Errorf("%w: unknown report status %q", ErrValidation, status)
	}
	session, err := a.session(ctx)
	if err != nil {
		return err
	}
	return a.db.ResolveReport(id, session.UserID)
}

// VoteTopic casts, flips, or clears the caller's vote on a topic and
// returns the authoritative outcome.
func (a *API) VoteTopic(ctx context.Context, topicID int64, direction int) (*models.VoteResult, error) {
	session, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	res, err := a.db.VoteTopic(topicID, session.UserID, direction)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: topic %d", ErrNotFound, topicID)
		}
		return nil, err
	}
	a.publish(ctx, realtime.TableTopics, realtime.ActionUpdate, map[string]interface{}{
		"id":         res.TopicID,
		"vote_count": res.Score,
	})
	return res, nil
}

// ListUserVotes returns the caller's vote directions keyed by topic. When
// signed out, or when the backend read fails, the last locally cached copy
// is served so the UI still reflects the voter's own history.
func (a *API) ListUserVotes(ctx context.Context) (map[int64]int, error) {
	session := a.sessions.FromContext(ctx)
	if session == nil {
		return a.loadVoteCache(), nil
	}
	votes, err := a.db.ListUserVotes(session.UserID)
	if err != nil {
		a.logger.Warn("Falling back to cached votes", "error", err)
		return a.loadVoteCache(), nil
	}
	a.SaveVoteCache(votes)
	return votes, nil
}

// GetTopicScores reads the authoritative vote aggregate for the given
// topics, for optimistic-update reconciliation.
func (a *API) GetTopicScores(ctx context.Context, ids []int64) (map[int64]int, error) {
	return a.db.GetTopicScores(ids)
}

// SaveVoteCache persists the voter's own votes locally, best-effort.
func (a *API) SaveVoteCache(votes map[int64]int) {
	raw, err := json.Marshal(votes)
	if err != nil {
		return
	}
	if err := a.kv.Set(voteCacheKey, string(raw)); err != nil {
		a.logger.Warn("Failed to cache votes", "error", err)
	}
}

func (a *API) loadVoteCache() map[int64]int {
	votes := make(map[int64]int)
	raw, ok, err := a.kv.Get(voteCacheKey)
	if err != nil || !ok {
		return votes
	}
	if err := json.Unmarshal([]byte(raw), &votes); err != nil {
		a.logger.Warn("Discarding corrupt vote cache", "error", err)
		return make(map[int64]int)
	}
	return votes
}

var textSizes = map[string]bool{"small": true, "medium": true, "large": true}

func (a *API) textSizeKey(ctx context.Context) string {
	if session := a.sessions.FromContext(ctx); session != nil {
		return "text_size_" + session.UserID
	}
	return "text_size"
}

// GetTextSize returns the caller's reading-size preference, defaulting to
// medium when nothing has been stored.
func (a *API) GetTextSize(ctx context.Context) string {
	size, ok, err := a.kv.Get(a.textSizeKey(ctx))
	if err != nil || !ok || !textSizes[size] {
		return "medium"
	}
	return size
}

// SetTextSize stores the caller's reading-size preference.
func (a *API) SetTextSize(ctx context.Context, size string) error {
	if !textSizes[size] {
		return fmt.Errorf("%w: unknown text size %q", ErrValidation, size)
	}
	return a.kv.Set(a.textSizeKey(ctx), size)
}
