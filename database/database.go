// unadulting/database/database.go
package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"unadulting/models"
	"unadulting/utils"

	_ "github.com/mattn/go-sqlite3"
)

// DatabaseService is the central struct for all database operations.
type DatabaseService struct {
	DB            *sql.DB
	logger        *slog.Logger
	dsn           string
	categoryCache map[string]*models.Category
	cacheMu       sync.RWMutex
}

// InitDB connects to the database, runs migrations, and seeds default data.
func InitDB(dataSourceName string, logger *slog.Logger) (*DatabaseService, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}

	// Run the base schema to ensure all tables exist.
	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to execute base schema: %w", err)
	}

	// Run versioned migrations
	if err := runMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	// Seed database if empty
	var categoryCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM categories").Scan(&categoryCount); err == nil && categoryCount == 0 {
		_, err = db.Exec(`INSERT INTO categories (slug, name, description, sort_order) VALUES
			('general', 'General', 'Anything on your mind.', 0),
			('support', 'Support', 'Ask for help and lean on the community.', 1),
			('wins', 'Small Wins', 'Celebrate the little victories.', 2)`)
		if err != nil {
			return nil, fmt.Errorf("failed to seed categories: %w", err)
		}
	}

	logger.Info("Database initialized and cache ready.")

	return &DatabaseService{
		DB:            db,
		logger:        logger,
		dsn:           dataSourceName,
		categoryCache: make(map[string]*models.Category),
	}, nil
}

// runMigrations applies all un-applied migrations.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	var latestVersion uint
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&latestVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("could not get db version: %w", err)
	}

	logger.Info("Current database schema version", "version", latestVersion)

	for _, m := range allMigrations {
		if m.Version > latestVersion {
			logger.Info("Applying migration", "version", m.Version)
			tx, err := db.Begin()
			if err != nil {
				return err
			}

			if _, err := tx.Exec(m.Query); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to apply migration v%d: %w", m.Version, err)
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.Version, utils.GetSQLTime()); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration record", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
			}

			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
			}
			logger.Info("Successfully applied migration", "version", m.Version)
		}
	}
	return nil
}

// GetCategory fetches a category by slug, using the instance's cache.
func (ds *DatabaseService) GetCategory(slug string) (*models.Category, error) {
	ds.cacheMu.RLock()
	cat, ok := ds.categoryCache[slug]
	ds.cacheMu.RUnlock()
	if ok {
		return cat, nil
	}

	var c models.Category
	err := ds.DB.QueryRow("SELECT id, slug, name, description, sort_order FROM categories WHERE slug = ?", slug).Scan(
		&c.ID, &c.Slug, &c.Name, &c.Description, &c.SortOrder,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("category '%s' not found", slug)
		}
		return nil, fmt.Errorf("db error getting category '%s': %w", slug, err)
	}

	ds.cacheMu.Lock()
	ds.categoryCache[slug] = &c
	ds.cacheMu.Unlock()
	return &c, nil
}

// ListCategories returns all categories in display order.
func (ds *DatabaseService) ListCategories() ([]models.Category, error) {
	rows, err := ds.DB.Query("SELECT id, slug, name, description, sort_order FROM categories ORDER BY sort_order, name")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListCategories", "error", err)
		}
	}()

	var cats []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.Description, &c.SortOrder); err != nil {
			ds.logger.Error("Failed to scan category row", "error", err)
			continue
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// ClearCategoryCache is used after admin edits to category metadata.
func (ds *DatabaseService) ClearCategoryCache() {
	ds.cacheMu.Lock()
	ds.categoryCache = make(map[string]*models.Category)
	ds.cacheMu.Unlock()
}

// LogAudit records a moderation action within an existing transaction.
// The entry only becomes visible if the caller commits.
func LogAudit(tx *sql.Tx, actorID, action, targetType string, targetID int64, meta string) error {
	stmt, err := tx.Prepare("INSERT INTO audit_log (actor_id, action, target_type, target_id, meta, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare audit statement: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			slog.Default().Error("Failed to close statement in LogAudit", "error", err)
		}
	}()

	var target sql.NullInt64
	if targetID != 0 {
		target = sql.NullInt64{Int64: targetID, Valid: true}
	}
	var metaField sql.NullString
	if meta != "" {
		metaField = sql.NullString{String: meta, Valid: true}
	}
	if _, err = stmt.Exec(actorID, action, targetType, target, metaField, utils.GetSQLTime()); err != nil {
		return fmt.Errorf("failed to log audit entry: %w", err)
	}
	return nil
}
