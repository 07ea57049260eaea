// internal/adapter/storage/user_store.go

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"spark/internal/domain/geo"
	"spark/internal/domain/spark"
)

// userQuery joins each user with their latest location sample
const userQuery = `
	SELECT u.id, u.username, u.interests,
	       ST_Y(l.location::geometry) AS lat, ST_X(l.location::geometry) AS lng,
	       l.accuracy, l.recorded_at
	FROM users u
	LEFT JOIN LATERAL (
		SELECT location, accuracy, recorded_at
		FROM location_samples
		WHERE user_id = u.id
		ORDER BY recorded_at DESC
		LIMIT 1
	) l ON TRUE`

// UserStore implements spark.UserLookup and spark.BlockList on PostgreSQL
type UserStore struct {
	db *pgxpool.Pool
}

// NewUserStore creates a new user store
func NewUserStore(db *pgxpool.Pool) *UserStore {
	return &UserStore{
		db: db,
	}
}

var (
	_ spark.UserLookup = (*UserStore)(nil)
	_ spark.BlockList  = (*UserStore)(nil)
)

// SaveUser upserts a user's profile
func (s *UserStore) SaveUser(ctx context.Context, u spark.User) error {
	interests := u.Interests
	if interests == nil {
		interests = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, username, interests)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET username = $2, interests = $3`,
		u.ID, u.Username, interests,
	)
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}
	return nil
}

// GetUser retrieves a user with their last known location
func (s *UserStore) GetUser(ctx context.Context, id string) (*spark.User, error) {
	row := s.db.QueryRow(ctx, userQuery+` WHERE u.id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, spark.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning user: %w", err)
	}
	return &u, nil
}

// ListUsersWithInterests returns users with a non-empty interest list, by ID
func (s *UserStore) ListUsersWithInterests(ctx context.Context) ([]spark.User, error) {
	rows, err := s.db.Query(ctx, userQuery+` WHERE cardinality(u.interests) > 0 ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var users []spark.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// Block records that blocker blocked blocked
func (s *UserStore) Block(ctx context.Context, blocker, blocked string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_blocks (blocker_id, blocked_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		blocker, blocked,
	)
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}
	return nil
}

// BlockedPairs returns users blocked by or blocking userID
func (s *UserStore) BlockedPairs(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := s.db.Query(ctx, `
		SELECT blocked_id FROM user_blocks WHERE blocker_id = $1
		UNION
		SELECT blocker_id FROM user_blocks WHERE blocked_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	blocked := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning block: %w", err)
		}
		blocked[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocks: %w", err)
	}
	return blocked, nil
}

func scanUser(row pgx.Row) (spark.User, error) {
	var u spark.User
	var lat, lng, accuracy *float64
	var recordedAt *time.Time

	if err := row.Scan(&u.ID, &u.Username, &u.Interests, &lat, &lng, &accuracy, &recordedAt); err != nil {
		return u, err
	}

	if lat != nil && lng != nil && recordedAt != nil {
		loc := geo.Location{
			Latitude:  *lat,
			Longitude: *lng,
			Timestamp: *recordedAt,
		}
		if accuracy != nil {
			loc.Accuracy = *accuracy
		}
		u.LastKnownLocation = &loc
	}
	return u, nil
}
