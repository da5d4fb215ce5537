package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Sessions and their activity stream
		{
			ID: "001_sessions_activities",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Session{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Activity{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("jules_activities", "jules_sessions")
			},
		},

		// Migration 002: Poll cursors
		{
			ID: "002_poll_cursors",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&PollCursor{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("poll_cursors")
			},
		},

		// Migration 003: Pull request reviews
		{
			ID: "003_pr_reviews",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&PRReview{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("pr_reviews")
			},
		},

		// Migration 004: Stalled-session lookup
		{
			ID: "004_sessions_stall_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_stall_detected
					ON jules_sessions(stall_detected_at)
					WHERE stall_detected_at IS NOT NULL`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_sessions_stall_detected").Error
			},
		},
	})

	return m.Migrate()
}
