package migrations

import (
	"context"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(attemptConstraintsSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
DROP INDEX IF EXISTS uq_attempt_quiz_user_no;
DROP INDEX IF EXISTS uq_attempt_one_unfinished;
DROP INDEX IF EXISTS uq_answer_attempt_question`)
			return err
		},
	)
}
