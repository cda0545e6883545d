// unadulting/forum/list.go
package forum

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"unadulting/config"
	"unadulting/models"
	"unadulting/realtime"
)

// ListFilters is the query state driving the topic list.
type ListFilters struct {
	CategorySlug string
	Search       string
	Sort         string
	Page         int
	PageSize     int
}

// ListState is the view state of the topic list. All transitions go through
// the reducer so local optimistic updates and remote pushes apply from a
// single ordered stream.
type ListState struct {
	Topics     []models.Topic
	Loading    bool
	Err        error
	Page       int
	PageSize   int
	TotalCount int
	HasMore    bool
	Votes      map[int64]int
	Scores     map[int64]int
	Pending    map[int64]bool
}

func newListState(pageSize int) ListState {
	return ListState{
		Page:     1,
		PageSize: pageSize,
		Votes:    make(map[int64]int),
		Scores:   make(map[int64]int),
		Pending:  make(map[int64]bool),
	}
}

// listEvent is one state transition. apply must be pure so a sequence of
// events replays deterministically.
type listEvent interface {
	apply(ListState) ListState
}

type evLoading struct{}

func (evLoading) apply(s ListState) ListState {
	s.Loading = true
	s.Err = nil
	return s
}

type evFetched struct {
	topics  []models.Topic
	page    int
	total   int
	hasMore bool
}

func (e evFetched) apply(s ListState) ListState {
	s.Loading = false
	s.Err = nil
	s.Topics = e.topics
	s.Page = e.page
	s.TotalCount = e.total
	s.HasMore = e.hasMore
	scores := make(map[int64]int, len(s.Scores))
	for id, score := range s.Scores {
		scores[id] = score
	}
	for _, t := range e.topics {
		scores[t.ID] = t.VoteCount
	}
	s.Scores = scores
	return s
}

type evFetchFailed struct{ err error }

func (e evFetchFailed) apply(s ListState) ListState {
	s.Loading = false
	s.Err = e.err
	return s
}

type evVotesLoaded struct{ votes map[int64]int }

func (e evVotesLoaded) apply(s ListState) ListState {
	votes := make(map[int64]int, len(e.votes))
	for id, v := range e.votes {
		votes[id] = v
	}
	s.Votes = votes
	return s
}

// evVoteOptimistic applies the local toggle before the backend confirms:
// same direction clears the vote, otherwise the new direction wins, and the
// score moves by the implied delta.
type evVoteOptimistic struct {
	topicID   int64
	direction int
}

func (e evVoteOptimistic) apply(s ListState) ListState {
	votes := copyIntMap(s.Votes)
	scores := copyIntMap(s.Scores)
	prev := votes[e.topicID]
	var delta int
	switch {
	case prev == e.direction:
		votes[e.topicID] = 0
		delta = -e.direction
	case prev == 0:
		votes[e.topicID] = e.direction
		delta = e.direction
	default:
		votes[e.topicID] = e.direction
		delta = e.direction - prev
	}
	scores[e.topicID] += delta
	s.Votes = votes
	s.Scores = scores
	return s
}

type evVotePending struct {
	topicID int64
	pending bool
}

func (e evVotePending) apply(s ListState) ListState {
	pending := make(map[int64]bool, len(s.Pending))
	for id, p := range s.Pending {
		pending[id] = p
	}
	if e.pending {
		pending[e.topicID] = true
	} else {
		delete(pending, e.topicID)
	}
	s.Pending = pending
	return s
}

type evVoteSettled struct {
	topicID   int64
	direction int
}

func (e evVoteSettled) apply(s ListState) ListState {
	votes := copyIntMap(s.Votes)
	if e.direction == 0 {
		delete(votes, e.topicID)
	} else {
		votes[e.topicID] = e.direction
	}
	s.Votes = votes
	return s
}

// evScore overwrites a topic's score with an authoritative value. Used both
// for post-vote reconciliation and for remote pushes; last write wins and
// reapplying the same event is a no-op.
type evScore struct {
	topicID int64
	score   int
}

func (e evScore) apply(s ListState) ListState {
	scores := copyIntMap(s.Scores)
	scores[e.topicID] = e.score
	s.Scores = scores
	topics := make([]models.Topic, len(s.Topics))
	copy(topics, s.Topics)
	for i := range topics {
		if topics[i].ID == e.topicID {
			topics[i].VoteCount = e.score
		}
	}
	s.Topics = topics
	return s
}

func copyIntMap(m map[int64]int) map[int64]int {
	out := make(map[int64]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func applyListEvents(s ListState, events ...listEvent) ListState {
	for _, e := range events {
		s = e.apply(s)
	}
	return s
}

// TotalPages derives the page count from a total and page size.
func TotalPages(totalCount, pageSize int) int {
	if pageSize < 1 {
		return 1
	}
	pages := (totalCount + pageSize - 1) / pageSize
	if pages < 1 {
		return 1
	}
	return pages
}

// prefetchDelay approximates an idle callback: the speculative next-page
// fetch waits out the foreground render before touching the database.
const prefetchDelay = 250 * time.Millisecond

// TopicListController orchestrates the topic list: filters, pagination,
// optimistic voting, and the realtime score merge.
type TopicListController struct {
	api    *API
	logger *slog.Logger

	mu      sync.Mutex
	state   ListState
	filters ListFilters
	closed  bool

	prefetchCancel context.CancelFunc
	unsubscribe    func()
	wg             sync.WaitGroup
}

func NewTopicListController(api *API, filters ListFilters, logger *slog.Logger) *TopicListController {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 {
		filters.PageSize = config.DefaultPageSize
	}
	c := &TopicListController{
		api:     api,
		logger:  logger,
		state:   newListState(filters.PageSize),
		filters: filters,
	}

	events, cancel := api.Feed().Subscribe(realtime.TableTopics)
	c.unsubscribe = cancel
	c.wg.Add(1)
	go c.watchScores(events)

	return c
}

// State returns a snapshot of the current view state.
func (c *TopicListController) State() ListState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Filters returns the current query state.
func (c *TopicListController) Filters() ListFilters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters
}

func (c *TopicListController) dispatch(events ...listEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state = applyListEvents(c.state, events...)
}

// Load fetches the current page and the caller's own votes.
func (c *TopicListController) Load(ctx context.Context) error {
	c.mu.Lock()
	filters := c.filters
	c.mu.Unlock()

	c.dispatch(evLoading{})
	page, err := c.api.ListTopics(ctx, ListTopicsParams(filters))
	if err != nil {
		c.dispatch(evFetchFailed{err: err})
		return err
	}
	c.dispatch(evFetched{topics: page.Items, page: filters.Page, total: page.TotalCount, hasMore: page.HasMore})

	votes, err := c.api.ListUserVotes(ctx)
	if err == nil {
		c.dispatch(evVotesLoaded{votes: votes})
	}

	if page.HasMore {
		c.schedulePrefetch(filters)
	}
	return nil
}

// schedulePrefetch warms the next page in the background. The result is
// discarded; a pending prefetch is replaced by newer ones and cancelled on
// Close.
func (c *TopicListController) schedulePrefetch(filters ListFilters) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.prefetchCancel != nil {
		c.prefetchCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.prefetchCancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(prefetchDelay):
		}
		next := filters
		next.Page++
		if _, err := c.api.ListTopics(ctx, ListTopicsParams(next)); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Debug("Prefetch of next page failed", "page", next.Page, "error", err)
		}
	}()
}

// SetFilters replaces the query state, resets to page 1, and reloads.
func (c *TopicListController) SetFilters(ctx context.Context, filters ListFilters) error {
	if filters.PageSize < 1 {
		filters.PageSize = config.DefaultPageSize
	}
	filters.Page = 1
	c.mu.Lock()
	c.filters = filters
	c.mu.Unlock()
	return c.Load(ctx)
}

// TotalPages reports the page count for the current result set.
func (c *TopicListController) TotalPages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return TotalPages(c.state.TotalCount, c.state.PageSize)
}

// JumpTo navigates to an exact page. Out-of-range pages are rejected with
// no navigation.
func (c *TopicListController) JumpTo(ctx context.Context, page int) bool {
	c.mu.Lock()
	total := TotalPages(c.state.TotalCount, c.state.PageSize)
	if page < 1 || page > total {
		c.mu.Unlock()
		return false
	}
	c.filters.Page = page
	c.mu.Unlock()
	if err := c.Load(ctx); err != nil {
		c.logger.Warn("Failed to load page", "page", page, "error", err)
	}
	return true
}

// First navigates to page 1.
func (c *TopicListController) First(ctx context.Context) bool {
	return c.JumpTo(ctx, 1)
}

// Prev navigates one page back; no-op on page 1.
func (c *TopicListController) Prev(ctx context.Context) bool {
	c.mu.Lock()
	page := c.filters.Page
	c.mu.Unlock()
	return c.JumpTo(ctx, page-1)
}

// Next navigates one page forward when more pages exist.
func (c *TopicListController) Next(ctx context.Context) bool {
	c.mu.Lock()
	hasMore := c.state.HasMore
	page := c.filters.Page
	c.mu.Unlock()
	if !hasMore {
		return false
	}
	return c.JumpTo(ctx, page+1)
}

// Last navigates to the final page.
func (c *TopicListController) Last(ctx context.Context) bool {
	return c.JumpTo(ctx, c.TotalPages())
}

// Vote casts a vote optimistically and reconciles against the backend. On
// any failure the score is restored from an authoritative re-fetch rather
// than a local revert, so realtime updates received meanwhile survive.
func (c *TopicListController) Vote(ctx context.Context, topicID int64, direction int) error {
	c.mu.Lock()
	if c.closed || c.state.Pending[topicID] {
		c.mu.Unlock()
		return nil
	}
	prev := c.state.Votes[topicID]
	c.state = applyListEvents(c.state, evVoteOptimistic{topicID: topicID, direction: direction}, evVotePending{topicID: topicID, pending: true})
	c.mu.Unlock()
	defer c.dispatch(evVotePending{topicID: topicID})

	res, err := c.api.VoteTopic(ctx, topicID, direction)
	if err != nil {
		c.dispatch(evVoteSettled{topicID: topicID, direction: prev})
		c.refreshScore(ctx, topicID)
		switch {
		case errors.Is(err, ErrNotAuthenticated):
			return err
		case errors.Is(err, ErrRateLimited):
			return err
		default:
			c.logger.Error("Vote failed", "topic_id", topicID, "error", err)
			return err
		}
	}

	c.dispatch(evVoteSettled{topicID: topicID, direction: res.UserVote})
	c.refreshScore(ctx, topicID)

	c.mu.Lock()
	votes := copyIntMap(c.state.Votes)
	c.mu.Unlock()
	c.api.SaveVoteCache(votes)
	return nil
}

// refreshScore overwrites one topic's score with the backend aggregate.
func (c *TopicListController) refreshScore(ctx context.Context, topicID int64) {
	scores, err := c.api.GetTopicScores(ctx, []int64{topicID})
	if err != nil {
		c.logger.Warn("Failed to refresh topic score", "topic_id", topicID, "error", err)
		return
	}
	if score, ok := scores[topicID]; ok {
		c.dispatch(evScore{topicID: topicID, score: score})
	}
}

// topicRow is the change-feed payload shape for the topics table. Joined
// rows may arrive as objects or single-element arrays.
type topicRow struct {
	ID        int64                    `json:"id"`
	VoteCount *int                     `json:"vote_count"`
	Category  Related[models.Category] `json:"categories"`
	Author    Related[models.Profile]  `json:"profiles"`
}

// watchScores merges server-pushed vote aggregates into the list state.
func (c *TopicListController) watchScores(events <-chan realtime.Event) {
	defer c.wg.Done()
	for ev := range events {
		if ev.Action != realtime.ActionUpdate {
			continue
		}
		var row topicRow
		if err := json.Unmarshal(ev.Row, &row); err != nil {
			c.logger.Warn("Discarding malformed topic event", "error", err)
			continue
		}
		if row.ID == 0 || row.VoteCount == nil {
			continue
		}
		c.dispatch(evScore{topicID: row.ID, score: *row.VoteCount})
	}
}

// Close cancels the prefetch, unsubscribes from the feed, and freezes the
// state against further mutation.
func (c *TopicListController) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.prefetchCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.unsubscribe()
	c.wg.Wait()
}
