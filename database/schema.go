package database

const schema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME
);
CREATE TABLE IF NOT EXISTS categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	description TEXT DEFAULT '',
	sort_order INTEGER DEFAULT 0
);
CREATE TABLE IF NOT EXISTS profiles (
	user_id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'user',
	created_at DATETIME
);
CREATE TABLE IF NOT EXISTS topics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	category_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	author_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	is_pinned BOOLEAN DEFAULT 0,
	is_locked BOOLEAN DEFAULT 0,
	flags_count INTEGER DEFAULT 0,
	vote_count INTEGER DEFAULT 0,
	created_at DATETIME,
	updated_at DATETIME,
	FOREIGN KEY (category_id) REFERENCES categories(id),
	FOREIGN KEY (author_id) REFERENCES profiles(user_id)
);
CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic_id INTEGER NOT NULL,
	author_id TEXT NOT NULL,
	body TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'published',
	created_at DATETIME,
	updated_at DATETIME,
	FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE,
	FOREIGN KEY (author_id) REFERENCES profiles(user_id)
);
CREATE TABLE IF NOT EXISTS reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic_id INTEGER NOT NULL,
	reporter_id TEXT, -- NULL for anonymous reports
	reason TEXT NOT NULL,
	notes TEXT DEFAULT '',
	status TEXT NOT NULL DEFAULT 'open',
	created_at DATETIME,
	FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE
);
-- One vote per voter per topic; value is strictly up or down, the absence
-- of a row is the neutral state.
CREATE TABLE IF NOT EXISTS topic_votes (
	topic_id INTEGER NOT NULL,
	voter_id TEXT NOT NULL,
	value INTEGER NOT NULL CHECK (value IN (-1, 1)),
	created_at DATETIME,
	updated_at DATETIME,
	PRIMARY KEY (topic_id, voter_id),
	FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE
);
-- Append-only; written inside moderation transactions, read-only elsewhere.
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_id TEXT NOT NULL,
	action TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id INTEGER,
	meta TEXT,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS password_resets (
	token TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	FOREIGN KEY (user_id) REFERENCES profiles(user_id) ON DELETE CASCADE
);

-- Trigger keeps the denormalized report counter on topics current.
CREATE TRIGGER IF NOT EXISTS reports_ai AFTER INSERT ON reports BEGIN
	UPDATE topics SET flags_count = flags_count + 1 WHERE id = new.topic_id;
END;

-- --- INDEXES ---
CREATE INDEX IF NOT EXISTS idx_topics_list ON topics(status, is_pinned DESC, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_topics_category ON topics(category_id);
CREATE INDEX IF NOT EXISTS idx_posts_topic ON posts(topic_id, status, created_at);
CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_votes_voter ON topic_votes(voter_id);
CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(created_at DESC);
`
