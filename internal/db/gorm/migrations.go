package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// migrationList returns every schema migration in order.
func migrationList() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		// Migration 001: archived games
		{
			ID: "001_game_sessions",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&GameSession{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("game_sessions")
			},
		},

		// Migration 002: per-problem records
		{
			ID: "002_game_problems",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&GameProblem{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("game_problems")
			},
		},
	}
}

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrationList())
	return m.Migrate()
}
