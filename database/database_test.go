// unadulting/database/database_test.go
package database

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"unadulting/models"
)

// setupTestDB creates a fresh SQLite database for testing.
func setupTestDB(t *testing.T) *DatabaseService {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	dir, err := os.MkdirTemp("", "unadulting_test_db")
	if err != nil {
		t.Fatalf("Failed to create temp dir for test DB: %v", err)
	}
	dbPath := filepath.Join(dir, "test.db?_journal_mode=WAL&_foreign_keys=on")

	ds, err := InitDB(dbPath, logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	t.Cleanup(func() {
		ds.DB.Close()
		os.RemoveAll(dir)
	})

	return ds
}

func seedUser(t *testing.T, ds *DatabaseService, id, name string) *models.Profile {
	t.Helper()
	p, err := ds.CreateProfile(id, name, name+"@example.com", "x", models.RoleUser)
	if err != nil {
		t.Fatalf("Failed to seed user %s: %v", name, err)
	}
	return p
}

func seedTopic(t *testing.T, ds *DatabaseService, authorID, title string) *models.Topic {
	t.Helper()
	cat, err := ds.GetCategory("general")
	if err != nil {
		t.Fatalf("Failed to load seeded category: %v", err)
	}
	topic, err := ds.CreateTopic(cat.ID, title, "body of "+title, authorID, false, "")
	if err != nil {
		t.Fatalf("Failed to seed topic %q: %v", title, err)
	}
	return topic
}

func publishTopic(t *testing.T, ds *DatabaseService, id int64) {
	t.Helper()
	status := models.StatusPublished
	if _, err := ds.UpdateTopic(id, TopicPatch{Status: &status}); err != nil {
		t.Fatalf("Failed to publish topic %d: %v", id, err)
	}
}

func TestInitDB(t *testing.T) {
	ds := setupTestDB(t)

	var categoryCount int
	if err := ds.DB.QueryRow("SELECT COUNT(*) FROM categories").Scan(&categoryCount); err != nil {
		t.Fatalf("Failed to query categories: %v", err)
	}
	if categoryCount == 0 {
		t.Error("Expected categories to be seeded, but count is 0")
	}

	var version uint
	err := ds.DB.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		t.Fatalf("Failed to query schema version: %v", err)
	}
	if want := allMigrations[len(allMigrations)-1].Version; version != want {
		t.Errorf("Expected schema version %d, got %d", want, version)
	}
}

func TestCreateTopicStartsPending(t *testing.T) {
	ds := setupTestDB(t)
	u := seedUser(t, ds, "u1", "alice")

	topic := seedTopic(t, ds, u.UserID, "First topic")
	if topic.Status != models.StatusPending {
		t.Errorf("Expected new topic status %q, got %q", models.StatusPending, topic.Status)
	}

	items, total, err := ds.ListTopics(TopicQuery{Status: models.StatusPublished, Sort: SortLatest, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Errorf("Pending topic leaked into published list: total=%d len=%d", total, len(items))
	}
}

func TestVoteTopicToggleAndFlip(t *testing.T) {
	ds := setupTestDB(t)
	u := seedUser(t, ds, "u1", "alice")
	v := seedUser(t, ds, "u2", "bob")
	topic := seedTopic(t, ds, u.UserID, "Voting")
	publishTopic(t, ds, topic.ID)

	// First upvote lands.
	res, err := ds.VoteTopic(topic.ID, v.UserID, 1)
	if err != nil {
		t.Fatalf("VoteTopic failed: %v", err)
	}
	if res.UserVote != 1 || res.Score != 1 {
		t.Errorf("After upvote: got vote=%d score=%d, want 1/1", res.UserVote, res.Score)
	}

	// Same direction again removes the vote.
	res, err = ds.VoteTopic(topic.ID, v.UserID, 1)
	if err != nil {
		t.Fatalf("VoteTopic failed: %v", err)
	}
	if res.UserVote != 0 || res.Score != 0 {
		t.Errorf("After toggle-off: got vote=%d score=%d, want 0/0", res.UserVote, res.Score)
	}

	// Downvote from neutral, then flip to upvote moves the score by two.
	if _, err := ds.VoteTopic(topic.ID, v.UserID, -1); err != nil {
		t.Fatalf("VoteTopic failed: %v", err)
	}
	res, err = ds.VoteTopic(topic.ID, v.UserID, 1)
	if err != nil {
		t.Fatalf("VoteTopic failed: %v", err)
	}
	if res.UserVote != 1 || res.Score != 1 {
		t.Errorf("After flip: got vote=%d score=%d, want 1/1", res.UserVote, res.Score)
	}

	votes, err := ds.ListUserVotes(v.UserID)
	if err != nil {
		t.Fatalf("ListUserVotes failed: %v", err)
	}
	if votes[topic.ID] != 1 {
		t.Errorf("Expected stored vote 1, got %d", votes[topic.ID])
	}
}

func TestVoteTopicMissingTopic(t *testing.T) {
	ds := setupTestDB(t)
	u := seedUser(t, ds, "u1", "alice")

	if _, err := ds.VoteTopic(9999, u.UserID, 1); err != sql.ErrNoRows {
		t.Errorf("Expected sql.ErrNoRows for missing topic, got %v", err)
	}
	if _, err := ds.VoteTopic(1, u.UserID, 0); err == nil {
		t.Error("Expected error for zero vote value")
	}
}

func TestListTopicsPagination(t *testing.T) {
	ds := setupTestDB(t)
	u := seedUser(t, ds, "u1", "alice")

	for i := 0; i < 25; i++ {
		topic := seedTopic(t, ds, u.UserID, fmt.Sprintf("Topic %02d", i))
		publishTopic(t, ds, topic.ID)
	}

	items, total, err := ds.ListTopics(TopicQuery{Status: models.StatusPublished, Sort: SortLatest, Page: 3, PageSize: 10})
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if total != 25 {
		t.Errorf("Expected total 25, got %d", total)
	}
	if len(items) != 5 {
		t.Errorf("Expected 5 items on last page, got %d", len(items))
	}

	items, _, err = ds.ListTopics(TopicQuery{Status: models.StatusPublished, Sort: SortLatest, Page: 4, PageSize: 10})
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected empty page past the end, got %d items", len(items))
	}
}

func TestListTopicsPinnedFirst(t *testing.T) {
	ds := setupTestDB(t)
	u := seedUser(t, ds, "u1", "alice")

	old := seedTopic(t, ds, u.UserID, "Old but pinned")
	publishTopic(t, ds, old.ID)
	time.Sleep(10 * time.Millisecond)
	fresh := seedTopic(t, ds, u.UserID, "Fresh")
	publishTopic(t, ds, fresh.ID)

	pinned := true
	if _, err := ds.UpdateTopic(old.ID, TopicPatch{IsPinned: &pinned}); err != nil {
		t.Fatalf("Failed to pin topic: %v", err)
	}
	// Bump the unpinned topic so it would win on recency alone.
	if _, err := ds.CreatePost(fresh.ID, u.UserID, "bump"); err != nil {
		t.Fatalf("Failed to create post: %v", err)
	}

	items, _, err := ds.ListTopics(TopicQuery{Status: models.StatusPublished, Sort: SortLatest, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 topics, got %d", len(items))
	}
	if items[0].ID != old.ID {
		t.Errorf("Expected pinned topic first, got topic %d", items[0].ID)
	}
	if items[1].Replies != 1 {
		t.Errorf("Expected reply count 1 on bumped topic, got %d", items[1].Replies)
	}
}

func TestListTopicsSearchEscapesWildcards(t *testing.T) {
	ds := setupTestDB(t)
	u := seedUser(t, ds, "u1", "alice")

	plain := seedTopic(t, ds, u.UserID, "Progress update")
	publishTopic(t, ds, plain.ID)
	literal := seedTopic(t, ds, u.UserID, "100% done")
	publishTopic(t, ds, literal.ID)

	items, total, err := ds.ListTopics(TopicQuery{Status: models.StatusPublished, Search: "100%", Sort: SortLatest, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != literal.ID {
		t.Errorf("Expected only the literal-percent topic, got total=%d len=%d", total, len(items))
	}
}

func TestCreatePostBumpsTopic(t *testing.T) {
	ds := setupTestDB(t)
	u := seedUser(t, ds, "u1", "alice")
	topic := seedTopic(t, ds, u.UserID, "Bump me")
	publishTopic(t, ds, topic.ID)

	before, err := ds.GetTopic(topic.ID)
	if err != nil {
		t.Fatalf("GetTopic failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	post, err := ds.CreatePost(topic.ID, u.UserID, "a reply")
	if err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	if post.Author == nil || post.Author.Username != "alice" {
		t.Error("Expected author profile attached to created post")
	}

	after, err := ds.GetTopic(topic.ID)
	if err != nil {
		t.Fatalf("GetTopic failed: %v", err)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Error("Expected topic updated_at to move forward after reply")
	}
	if after.Replies != 1 {
		t.Errorf("Expected reply count 1, got %d", after.Replies)
	}
}

func TestReportRaisesFlagsCount(t *testing.T) {
	ds := setupTestDB(t)
	u := seedUser(t, ds, "u1", "alice")
	topic := seedTopic(t, ds, u.UserID, "Reported")
	publishTopic(t, ds, topic.ID)

	if _, err := ds.CreateReport(topic.ID, "", "spam", "Post ID: 42"); err != nil {
		t.Fatalf("CreateReport failed: %v", err)
	}
	got, err := ds.GetTopic(topic.ID)
	if err != nil {
		t.Fatalf("GetTopic failed: %v", err)
	}
	if got.FlagsCount != 1 {
		t.Errorf("Expected flags_count 1 after report, got %d", got.FlagsCount)
	}

	reports, err := ds.ListReports(models.ReportOpen, 100)
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("Expected 1 open report, got %d", len(reports))
	}
	if reports[0].ReporterID.Valid {
		t.Error("Expected anonymous report to have NULL reporter")
	}
	if reports[0].TopicTitle != "Reported" {
		t.Errorf("Expected joined topic title, got %q", reports[0].TopicTitle)
	}
}

func TestModerationActionsWriteAudit(t *testing.T) {
	ds := setupTestDB(t)
	u := seedUser(t, ds, "u1", "alice")
	mod := seedUser(t, ds, "m1", "mallory")
	topic := seedTopic(t, ds, u.UserID, "Needs review")

	if err := ds.ApproveTopic(topic.ID, mod.UserID); err != nil {
		t.Fatalf("ApproveTopic failed: %v", err)
	}
	if err := ds.SetTopicPinned(topic.ID, true, mod.UserID); err != nil {
		t.Fatalf("SetTopicPinned failed: %v", err)
	}
	if err := ds.SetTopicLocked(topic.ID, true, mod.UserID); err != nil {
		t.Fatalf("SetTopicLocked failed: %v", err)
	}

	got, err := ds.GetTopic(topic.ID)
	if err != nil {
		t.Fatalf("GetTopic failed: %v", err)
	}
	if got.Status != models.StatusPublished || !got.IsPinned || !got.IsLocked {
		t.Errorf("Unexpected topic state after moderation: status=%q pinned=%v locked=%v",
			got.Status, got.IsPinned, got.IsLocked)
	}

	entries, err := ds.ListRecentAudit(50)
	if err != nil {
		t.Fatalf("ListRecentAudit failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 audit entries, got %d", len(entries))
	}
	actions := map[string]bool{}
	for _, e := range entries {
		actions[e.Action] = true
		if e.ActorID != mod.UserID {
			t.Errorf("Expected actor %q, got %q", mod.UserID, e.ActorID)
		}
	}
	for _, want := range []string{"approve_topic", "pin_topic", "lock_topic"} {
		if !actions[want] {
			t.Errorf("Missing audit action %q", want)
		}
	}
}

func TestModerationQueueOrder(t *testing.T) {
	ds := setupTestDB(t)
	u := seedUser(t, ds, "u1", "alice")

	first := seedTopic(t, ds, u.UserID, "Submitted first")
	time.Sleep(10 * time.Millisecond)
	seedTopic(t, ds, u.UserID, "Submitted second")

	pending, err := ds.ListPendingTopics("", "", 100)
	if err != nil {
		t.Fatalf("ListPendingTopics failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending topics, got %d", len(pending))
	}
	if pending[0].ID != first.ID {
		t.Errorf("Expected oldest pending topic first, got topic %d", pending[0].ID)
	}
}

func TestSoftDeleteHidesTopic(t *testing.T) {
	ds := setupTestDB(t)
	u := seedUser(t, ds, "u1", "alice")
	mod := seedUser(t, ds, "m1", "mallory")
	topic := seedTopic(t, ds, u.UserID, "Doomed")
	publishTopic(t, ds, topic.ID)

	if err := ds.SoftDeleteTopic(topic.ID, mod.UserID); err != nil {
		t.Fatalf("SoftDeleteTopic failed: %v", err)
	}

	_, total, err := ds.ListTopics(TopicQuery{Status: models.StatusPublished, Sort: SortLatest, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Expected deleted topic hidden from list, total=%d", total)
	}

	got, err := ds.GetTopic(topic.ID)
	if err != nil {
		t.Fatalf("GetTopic failed: %v", err)
	}
	if got.Status != models.StatusDeleted {
		t.Errorf("Expected status %q, got %q", models.StatusDeleted, got.Status)
	}
}

func TestResolveReport(t *testing.T) {
	ds := setupTestDB(t)
	u := seedUser(t, ds, "u1", "alice")
	mod := seedUser(t, ds, "m1", "mallory")
	topic := seedTopic(t, ds, u.UserID, "Reported")
	publishTopic(t, ds, topic.ID)

	report, err := ds.CreateReport(topic.ID, u.UserID, "abuse", "")
	if err != nil {
		t.Fatalf("CreateReport failed: %v", err)
	}
	if err := ds.ResolveReport(report.ID, mod.UserID); err != nil {
		t.Fatalf("ResolveReport failed: %v", err)
	}

	open, err := ds.ListReports(models.ReportOpen, 100)
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("Expected no open reports after resolve, got %d", len(open))
	}
	if err := ds.ResolveReport(9999, mod.UserID); err != sql.ErrNoRows {
		t.Errorf("Expected sql.ErrNoRows for missing report, got %v", err)
	}
}

func TestPasswordResetSingleUse(t *testing.T) {
	ds := setupTestDB(t)
	u := seedUser(t, ds, "u1", "alice")

	if err := ds.CreatePasswordReset("tok-1", u.UserID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreatePasswordReset failed: %v", err)
	}
	userID, err := ds.ConsumePasswordReset("tok-1")
	if err != nil {
		t.Fatalf("ConsumePasswordReset failed: %v", err)
	}
	if userID != u.UserID {
		t.Errorf("Expected user %q, got %q", u.UserID, userID)
	}
	if _, err := ds.ConsumePasswordReset("tok-1"); err == nil {
		t.Error("Expected second redemption to fail")
	}

	if err := ds.CreatePasswordReset("tok-2", u.UserID, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("CreatePasswordReset failed: %v", err)
	}
	if _, err := ds.ConsumePasswordReset("tok-2"); err == nil {
		t.Error("Expected expired token to be rejected")
	}
}
