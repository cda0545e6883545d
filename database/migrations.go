// unadulting/database/migrations.go
package database

// migration represents a single database schema migration.
type migration struct {
	Version uint
	Query   string
}

// allMigrations holds all schema changes in order.
var allMigrations = []migration{
	{
		Version: 1,
		Query: `
-- Add content warning support to topics
ALTER TABLE topics ADD COLUMN content_warning BOOLEAN DEFAULT 0;
ALTER TABLE topics ADD COLUMN content_warning_text TEXT DEFAULT '';
		`,
	},
	{
		Version: 2,
		Query: `
-- Pending-queue scans filter on status alone; the composite list index
-- does not help them.
CREATE INDEX IF NOT EXISTS idx_topics_pending ON topics(status, created_at DESC);
		`,
	},
}
