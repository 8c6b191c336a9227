package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed 20240301000003_create_engine.sql
var createEngineSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createEngineSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS contest_answers, contest_participants, contest_questions,
				group_simulacros, rooms, answer_records, area_results, section_results, section_progress, attempts`)
			return err
		},
	)
}
