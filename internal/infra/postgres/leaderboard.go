package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-service/internal/domain"
)

// LeaderboardSource ranks finished attempts straight in SQL: DISTINCT ON
// picks each user's best attempt (score desc, earliest finish wins ties),
// then the outer query orders users the same way.
type LeaderboardSource struct {
	pool *pgxpool.Pool
}

func NewLeaderboardSource(pool *pgxpool.Pool) *LeaderboardSource {
	return &LeaderboardSource{pool: pool}
}

const leaderboardQuery = `
SELECT user_id, username, score, attempt_no, finished_at
FROM (
    SELECT DISTINCT ON (a.user_id)
        a.user_id, u.username, a.score, a.attempt_no, a.finished_at
    FROM quiz_attempts a
    JOIN users u ON u.id = a.user_id
    WHERE a.quiz_id = $1 AND a.finished_at IS NOT NULL
    ORDER BY a.user_id, a.score DESC, a.finished_at ASC
) best
ORDER BY score DESC, finished_at ASC
LIMIT $2`

func (s *LeaderboardSource) TopFinished(ctx context.Context, quizID int64, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, leaderboardQuery, quizID, limit)
	if err != nil {
		return nil, domain.Wrap(err, domain.KindInternal, "query leaderboard for quiz %d", quizID)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.Score, &e.AttemptNo, &e.FinishedAt); err != nil {
			return nil, domain.Wrap(err, domain.KindInternal, "scan leaderboard row for quiz %d", quizID)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(err, domain.KindInternal, "read leaderboard for quiz %d", quizID)
	}
	return entries, nil
}
