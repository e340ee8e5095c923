package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/complyhub/guidance-core/internal/domain/achievement"
)

// AchievementRepository implements achievement.Repository for PostgreSQL.
type AchievementRepository struct {
	conn *Connection
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{conn: conn}
}

// FetchOwned returns the user's unlocked achievements, oldest first.
func (r *AchievementRepository) FetchOwned(ctx context.Context, userID string) ([]achievement.Owned, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `
		SELECT achievement_type, achieved_at
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY achieved_at, achievement_type
	`, userID)
	if err != nil {
		return nil, storeError("FetchOwned", err)
	}
	defer rows.Close()

	var out []achievement.Owned
	for rows.Next() {
		var (
			o  achievement.Owned
			id string
		)
		if err := rows.Scan(&id, &o.AchievedAt); err != nil {
			return nil, storeError("FetchOwned", err)
		}
		o.AchievementID = achievement.ID(id)
		out = append(out, o)
	}
	return out, storeError("FetchOwned", rows.Err())
}

// AppendUnlock writes one unlock record. A pair that already exists is
// left untouched and reported as inserted=false.
func (r *AchievementRepository) AppendUnlock(ctx context.Context, u achievement.Unlock) (bool, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := r.conn.Exec(ctx, `
		INSERT INTO user_achievements (id, user_id, achievement_type, achieved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, achievement_type) DO NOTHING
	`, uuid.NewString(), u.UserID, string(u.AchievementID), u.AchievedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, storeError("AppendUnlock", err)
	}
	return tag.RowsAffected() == 1, nil
}
