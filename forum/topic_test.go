// unadulting/forum/topic_test.go
package forum

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"unadulting/models"
	"unadulting/realtime"
)

func TestQuoteFormat(t *testing.T) {
	api, sessions, ds := setupAPI(t)
	signUp(t, sessions, "alice")
	topic := publishedTopic(t, api, ds, "general", "Quoted")

	c := NewTopicDetailController(api, topic.ID, testLogger())
	defer c.Close()

	when := time.Date(2026, time.March, 14, 9, 26, 0, 0, time.UTC)
	post := models.Post{
		ID:        1,
		Body:      "first line\nsecond line",
		CreatedAt: when,
		Author:    &models.Profile{Username: "bob"},
	}

	c.Quote(post)
	want := "> @bob wrote on Mar 14, 2026 09:26:\n> \n> first line\n> second line\n\n"
	if got := c.State().Draft; got != want {
		t.Errorf("Quote into empty draft:\ngot  %q\nwant %q", got, want)
	}

	// Quoting with a non-empty draft separates with a blank line.
	c.SetDraft("my reply so far")
	c.Quote(post)
	want = "my reply so far\n\n" + want
	if got := c.State().Draft; got != want {
		t.Errorf("Quote into non-empty draft:\ngot  %q\nwant %q", got, want)
	}
}

func TestDraftPersistAndRestore(t *testing.T) {
	api, sessions, ds := setupAPI(t)
	signUp(t, sessions, "alice")
	topic := publishedTopic(t, api, ds, "general", "Drafted")

	c := NewTopicDetailController(api, topic.ID, testLogger())
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	c.SetDraft("half-finished thought")
	c.Close()

	// A fresh controller for the same topic restores the draft on load.
	c2 := NewTopicDetailController(api, topic.ID, testLogger())
	defer c2.Close()
	if err := c2.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := c2.State().Draft; got != "half-finished thought" {
		t.Errorf("Expected restored draft, got %q", got)
	}

	// Submission clears the stored draft.
	if _, err := c2.Reply(context.Background()); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if got := c2.State().Draft; got != "" {
		t.Errorf("Expected draft cleared after reply, got %q", got)
	}

	c3 := NewTopicDetailController(api, topic.ID, testLogger())
	defer c3.Close()
	if err := c3.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := c3.State().Draft; got != "" {
		t.Errorf("Expected no stored draft after submission, got %q", got)
	}
}

func TestReplyRateLimited(t *testing.T) {
	api, sessions, ds := setupAPI(t)
	signUp(t, sessions, "alice")
	topic := publishedTopic(t, api, ds, "general", "Chatty")

	now := time.Now()
	api.Limiter().SetClock(func() time.Time { return now })

	c := NewTopicDetailController(api, topic.ID, testLogger())
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	c.SetDraft("first reply")
	if _, err := c.Reply(context.Background()); err != nil {
		t.Fatalf("First reply failed: %v", err)
	}
	c.SetDraft("second reply")
	_, err := c.Reply(context.Background())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited, got %v", err)
	}
	// The wait hint is positive and under the full interval.
	if msg := err.Error(); msg == "" || len(msg) < len("rate_limited") {
		t.Errorf("Expected a wait message, got %q", msg)
	}
	// The rejected draft survives for a later retry.
	if got := c.State().Draft; got != "second reply" {
		t.Errorf("Expected draft kept after rejection, got %q", got)
	}
}

func TestReplyLockedAndEmpty(t *testing.T) {
	api, sessions, ds := setupAPI(t)
	alice := signUp(t, sessions, "alice")
	topic := publishedTopic(t, api, ds, "general", "Locked")

	c := NewTopicDetailController(api, topic.ID, testLogger())
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := c.Reply(context.Background()); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for empty draft, got %v", err)
	}

	if err := ds.SetTopicLocked(topic.ID, true, alice.UserID); err != nil {
		t.Fatalf("SetTopicLocked failed: %v", err)
	}
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	c.SetDraft("too late")
	if _, err := c.Reply(context.Background()); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for locked topic, got %v", err)
	}
}

func TestInsertEventDedupAndOrder(t *testing.T) {
	base := time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)
	early := models.Post{ID: 1, Body: "early", CreatedAt: base}
	late := models.Post{ID: 2, Body: "late", CreatedAt: base.Add(time.Minute)}

	// Arrival order is reversed; the reducer re-sorts chronologically, and
	// a duplicate insert is a no-op.
	s := applyDetailEvents(DetailState{},
		evPostInserted{post: late},
		evPostInserted{post: early},
		evPostInserted{post: early},
	)
	if len(s.Posts) != 2 {
		t.Fatalf("Expected 2 posts after dedup, got %d", len(s.Posts))
	}
	if s.Posts[0].ID != early.ID || s.Posts[1].ID != late.ID {
		t.Errorf("Expected chronological order, got %d then %d", s.Posts[0].ID, s.Posts[1].ID)
	}
}

func TestEditPostRollsBackSnapshot(t *testing.T) {
	api, sessions, ds := setupAPI(t)
	alice := signUp(t, sessions, "alice")
	topic := publishedTopic(t, api, ds, "general", "Edited")
	post, err := ds.CreatePost(topic.ID, alice.UserID, "original")
	if err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}

	c := NewTopicDetailController(api, topic.ID, testLogger())
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// A different, unprivileged caller: the edit control is withheld and the
	// attempted edit fails and rolls back.
	signUp(t, sessions, "bob")
	if c.CanEdit(context.Background(), *post) {
		t.Error("Expected edit control withheld from non-author")
	}
	if err := c.EditPost(context.Background(), post.ID, "hijacked"); err == nil {
		t.Fatal("Expected non-author edit to fail")
	}
	state := c.State()
	if len(state.Posts) != 1 || state.Posts[0].Body != "original" {
		t.Errorf("Expected rollback to original body, got %+v", state.Posts)
	}

	if err := c.EditPost(context.Background(), 9999, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown post, got %v", err)
	}
}

func TestDeletePostOptimisticAndRollback(t *testing.T) {
	api, sessions, ds := setupAPI(t)
	alice := signUp(t, sessions, "alice")
	topic := publishedTopic(t, api, ds, "general", "Pruned")
	post, err := ds.CreatePost(topic.ID, alice.UserID, "to be removed")
	if err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}

	c := NewTopicDetailController(api, topic.ID, testLogger())
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Non-author delete fails and the list is restored.
	signUp(t, sessions, "bob")
	if err := c.DeletePost(context.Background(), post.ID); err == nil {
		t.Fatal("Expected non-author delete to fail")
	}
	if got := len(c.State().Posts); got != 1 {
		t.Fatalf("Expected rollback to 1 post, got %d", got)
	}

	// The author's delete sticks.
	if _, err := sessions.SignIn("alice@example.com", "hunter22!"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if err := c.DeletePost(context.Background(), post.ID); err != nil {
		t.Fatalf("DeletePost failed: %v", err)
	}
	if got := len(c.State().Posts); got != 0 {
		t.Errorf("Expected empty post list, got %d", got)
	}
}

func TestRealtimeReplyMerge(t *testing.T) {
	api, sessions, ds := setupAPI(t)
	alice := signUp(t, sessions, "alice")
	topic := publishedTopic(t, api, ds, "general", "Live")
	other := publishedTopic(t, api, ds, "general", "Unrelated")

	c := NewTopicDetailController(api, topic.ID, testLogger())
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	push := func(action realtime.Action, post models.Post) {
		t.Helper()
		row, err := json.Marshal(post)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if err := api.Feed().Publish(context.Background(), realtime.Event{
			Table: realtime.TablePosts, Action: action, Row: row,
		}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	now := time.Now().UTC()
	push(realtime.ActionInsert, models.Post{
		ID: 101, TopicID: topic.ID, AuthorID: alice.UserID, Body: "pushed",
		Status: models.StatusPublished, CreatedAt: now,
		Author: &models.Profile{UserID: alice.UserID, Username: "alice"},
	})
	// A reply for another topic must not leak in.
	push(realtime.ActionInsert, models.Post{
		ID: 102, TopicID: other.ID, AuthorID: alice.UserID, Body: "elsewhere",
		Status: models.StatusPublished, CreatedAt: now,
	})

	waitFor(t, func() bool { return len(c.State().Posts) == 1 })
	if got := c.State().Posts[0]; got.ID != 101 || got.Body != "pushed" {
		t.Errorf("Unexpected merged post: %+v", got)
	}

	push(realtime.ActionUpdate, models.Post{
		ID: 101, TopicID: topic.ID, AuthorID: alice.UserID, Body: "edited elsewhere",
		Status: models.StatusPublished, CreatedAt: now,
	})
	waitFor(t, func() bool {
		posts := c.State().Posts
		return len(posts) == 1 && posts[0].Body == "edited elsewhere"
	})

	push(realtime.ActionDelete, models.Post{ID: 101, TopicID: topic.ID})
	waitFor(t, func() bool { return len(c.State().Posts) == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for condition")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
