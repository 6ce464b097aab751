// Package migrations holds the Postgres schema for the quiz source, applied by the migrate command.
package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_quizzes.sql
var createQuizzesSQL string

// Migrations is the ordered set registered by the files of this package.
var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(up, down)
}

func up(ctx context.Context, db *bun.DB) error {
	_, err := db.ExecContext(ctx, createQuizzesSQL)
	return err
}

func down(ctx context.Context, db *bun.DB) error {
	_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS quizzes`)
	return err
}
