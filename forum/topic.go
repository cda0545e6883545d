// unadulting/forum/topic.go
package forum

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"unadulting/models"
	"unadulting/realtime"
)

// DetailState is the view state of a single topic page.
type DetailState struct {
	Topic   *models.Topic
	Posts   []models.Post
	Loading bool
	Err     error
	Draft   string
}

type detailEvent interface {
	apply(DetailState) DetailState
}

type evDetailLoading struct{}

func (evDetailLoading) apply(s DetailState) DetailState {
	s.Loading = true
	s.Err = nil
	return s
}

type evDetailLoaded struct {
	topic *models.Topic
	posts []models.Post
}

func (e evDetailLoaded) apply(s DetailState) DetailState {
	s.Loading = false
	s.Err = nil
	s.Topic = e.topic
	s.Posts = e.posts
	return s
}

type evDetailFailed struct{ err error }

func (e evDetailFailed) apply(s DetailState) DetailState {
	s.Loading = false
	s.Err = e.err
	return s
}

type evDraftSet struct{ draft string }

func (e evDraftSet) apply(s DetailState) DetailState {
	s.Draft = e.draft
	return s
}

// evPostsReplaced restores a full snapshot of the reply list. Rollbacks use
// a whole-list snapshot rather than a partial patch so state stays
// consistent with realtime updates applied meanwhile.
type evPostsReplaced struct{ posts []models.Post }

func (e evPostsReplaced) apply(s DetailState) DetailState {
	s.Posts = e.posts
	return s
}

// evPostInserted appends a reply unless it is already present, then
// re-sorts chronologically; arrival order is not creation order.
type evPostInserted struct{ post models.Post }

func (e evPostInserted) apply(s DetailState) DetailState {
	for _, p := range s.Posts {
		if p.ID == e.post.ID {
			return s
		}
	}
	posts := make([]models.Post, len(s.Posts), len(s.Posts)+1)
	copy(posts, s.Posts)
	posts = append(posts, e.post)
	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].ID < posts[j].ID
		}
		return posts[i].CreatedAt.Before(posts[j].CreatedAt)
	})
	s.Posts = posts
	return s
}

type evPostUpdated struct{ post models.Post }

func (e evPostUpdated) apply(s DetailState) DetailState {
	posts := make([]models.Post, len(s.Posts))
	copy(posts, s.Posts)
	for i := range posts {
		if posts[i].ID == e.post.ID {
			posts[i] = e.post
		}
	}
	s.Posts = posts
	return s
}

type evPostRemoved struct{ id int64 }

func (e evPostRemoved) apply(s DetailState) DetailState {
	posts := make([]models.Post, 0, len(s.Posts))
	for _, p := range s.Posts {
		if p.ID != e.id {
			posts = append(posts, p)
		}
	}
	s.Posts = posts
	return s
}

func applyDetailEvents(s DetailState, events ...detailEvent) DetailState {
	for _, e := range events {
		s = e.apply(s)
	}
	return s
}

// TopicDetailController owns one topic page: the reply list, the composer
// draft, and the realtime merge of reply changes.
type TopicDetailController struct {
	api     *API
	topicID int64
	logger  *slog.Logger

	mu     sync.Mutex
	state  DetailState
	closed bool

	unsubscribe func()
	wg          sync.WaitGroup
}

func NewTopicDetailController(api *API, topicID int64, logger *slog.Logger) *TopicDetailController {
	c := &TopicDetailController{
		api:     api,
		topicID: topicID,
		logger:  logger,
	}

	events, cancel := api.Feed().Subscribe(realtime.TablePosts)
	c.unsubscribe = cancel
	c.wg.Add(1)
	go c.watchPosts(events)

	return c
}

// State returns a snapshot of the current view state.
func (c *TopicDetailController) State() DetailState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *TopicDetailController) dispatch(events ...detailEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state = applyDetailEvents(c.state, events...)
}

func (c *TopicDetailController) draftKey() string {
	return fmt.Sprintf("reply_draft_%d", c.topicID)
}

// Load fetches the topic and its replies, and restores a saved draft if the
// composer is empty.
func (c *TopicDetailController) Load(ctx context.Context) error {
	c.dispatch(evDetailLoading{})
	topic, err := c.api.GetTopic(ctx, c.topicID)
	if err != nil {
		c.dispatch(evDetailFailed{err: err})
		return err
	}
	posts, err := c.api.ListPosts(ctx, c.topicID)
	if err != nil {
		c.dispatch(evDetailFailed{err: err})
		return err
	}
	c.dispatch(evDetailLoaded{topic: topic, posts: posts})

	c.mu.Lock()
	empty := c.state.Draft == ""
	c.mu.Unlock()
	if empty {
		if draft, ok, err := c.api.kv.Get(c.draftKey()); err == nil && ok && draft != "" {
			c.dispatch(evDraftSet{draft: draft})
		}
	}
	return nil
}

// SetDraft updates the composer and persists it locally, best-effort.
func (c *TopicDetailController) SetDraft(draft string) {
	c.dispatch(evDraftSet{draft: draft})
	if err := c.api.kv.Set(c.draftKey(), draft); err != nil {
		c.logger.Debug("Failed to persist draft", "topic_id", c.topicID, "error", err)
	}
}

// Quote appends a block-quoted copy of a reply to the draft, with an
// attribution header naming the author and timestamp.
func (c *TopicDetailController) Quote(post models.Post) {
	author := "anonymous"
	if post.Author != nil {
		author = post.Author.Username
	}
	var b strings.Builder
	fmt.Fprintf(&b, "> @%s wrote on %s:\n> \n", author, post.CreatedAt.Format("Jan 2, 2006 15:04"))
	for i, line := range strings.Split(post.Body, "\n") {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("> " + line)
	}
	b.WriteString("\n\n")

	c.mu.Lock()
	draft := c.state.Draft
	c.mu.Unlock()
	if draft != "" {
		draft += "\n\n"
	}
	c.SetDraft(draft + b.String())
}

// Reply submits the draft as a new post. Locked topics refuse the reply
// before any backend call; the draft is cleared only on success.
func (c *TopicDetailController) Reply(ctx context.Context) (*models.Post, error) {
	c.mu.Lock()
	draft := c.state.Draft
	topic := c.state.Topic
	c.mu.Unlock()

	if topic != nil && topic.IsLocked {
		return nil, fmt.Errorf("%w: topic is locked", ErrValidation)
	}
	if strings.TrimSpace(draft) == "" {
		return nil, fmt.Errorf("%w: reply is empty", ErrValidation)
	}

	post, err := c.api.CreatePost(ctx, c.topicID, draft)
	if err != nil {
		return nil, err
	}
	c.dispatch(evPostInserted{post: *post}, evDraftSet{})
	if err := c.api.kv.Delete(c.draftKey()); err != nil {
		c.logger.Debug("Failed to clear draft", "topic_id", c.topicID, "error", err)
	}
	return post, nil
}

// CanEdit reports whether the caller may edit or delete the post, so views
// can withhold the controls without a network round-trip for non-authors.
func (c *TopicDetailController) CanEdit(ctx context.Context, post models.Post) bool {
	c.mu.Lock()
	topic := c.state.Topic
	c.mu.Unlock()
	if topic != nil && topic.IsLocked {
		return false
	}
	return c.api.CanEditPost(ctx, &post)
}

// EditPost replaces a reply body optimistically; on failure the whole reply
// list reverts to its pre-edit snapshot.
func (c *TopicDetailController) EditPost(ctx context.Context, postID int64, body string) error {
	c.mu.Lock()
	snapshot := make([]models.Post, len(c.state.Posts))
	copy(snapshot, c.state.Posts)
	var optimistic *models.Post
	for _, p := range c.state.Posts {
		if p.ID == postID {
			edited := p
			edited.Body = body
			optimistic = &edited
			break
		}
	}
	c.mu.Unlock()
	if optimistic == nil {
		return fmt.Errorf("%w: post %d", ErrNotFound, postID)
	}
	c.dispatch(evPostUpdated{post: *optimistic})

	updated, err := c.api.UpdatePost(ctx, postID, body)
	if err != nil {
		c.dispatch(evPostsReplaced{posts: snapshot})
		return err
	}
	c.dispatch(evPostUpdated{post: *updated})
	return nil
}

// DeletePost removes a reply optimistically; on failure the whole reply
// list reverts to its pre-delete snapshot.
func (c *TopicDetailController) DeletePost(ctx context.Context, postID int64) error {
	c.mu.Lock()
	snapshot := make([]models.Post, len(c.state.Posts))
	copy(snapshot, c.state.Posts)
	c.mu.Unlock()

	c.dispatch(evPostRemoved{id: postID})
	if err := c.api.DeletePost(ctx, postID); err != nil {
		c.dispatch(evPostsReplaced{posts: snapshot})
		return err
	}
	return nil
}

// postRow is the change-feed payload shape for the posts table.
type postRow struct {
	ID        int64                   `json:"id"`
	TopicID   int64                   `json:"topic_id"`
	AuthorID  string                  `json:"author_id"`
	Body      string                  `json:"body"`
	Status    string                  `json:"status"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
	Author    Related[models.Profile] `json:"profiles"`
}

func (r postRow) toPost() models.Post {
	return models.Post{
		ID:        r.ID,
		TopicID:   r.TopicID,
		AuthorID:  r.AuthorID,
		Body:      r.Body,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Author:    r.Author.Unwrap(),
	}
}

// watchPosts merges pushed reply changes for this topic into the state.
func (c *TopicDetailController) watchPosts(events <-chan realtime.Event) {
	defer c.wg.Done()
	for ev := range events {
		var row postRow
		if err := json.Unmarshal(ev.Row, &row); err != nil {
			c.logger.Warn("Discarding malformed post event", "error", err)
			continue
		}
		switch ev.Action {
		case realtime.ActionInsert:
			if row.TopicID != c.topicID || row.Status != models.StatusPublished {
				continue
			}
			c.dispatch(evPostInserted{post: row.toPost()})
		case realtime.ActionUpdate:
			if row.TopicID != c.topicID {
				continue
			}
			c.dispatch(evPostUpdated{post: row.toPost()})
		case realtime.ActionDelete:
			c.dispatch(evPostRemoved{id: row.ID})
		}
	}
}

// Close unsubscribes from the feed and freezes the state.
func (c *TopicDetailController) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.unsubscribe()
	c.wg.Wait()
}
