// internal/adapter/storage/spark_store.go

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"spark/internal/domain/spark"
)

const sparkColumns = `
	id, user1_id, user2_id, type, status, latitude, longitude, distance,
	strength, metadata, user1_accepted, user2_accepted,
	user1_response_at, user2_response_at, expires_at, created_at, updated_at`

// SparkStore implements spark.Store on PostgreSQL
type SparkStore struct {
	db *pgxpool.Pool
}

// NewSparkStore creates a new spark store
func NewSparkStore(db *pgxpool.Pool) *SparkStore {
	return &SparkStore{
		db: db,
	}
}

var _ spark.Store = (*SparkStore)(nil)

// Get retrieves a spark by ID
func (s *SparkStore) Get(ctx context.Context, id string) (*spark.Spark, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sparkColumns+` FROM sparks WHERE id = $1`, id)
	sp, err := scanSpark(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, spark.NotFound("spark %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning spark: %w", err)
	}
	return &sp, nil
}

// ListForUser returns sparks involving userID, newest first
func (s *SparkStore) ListForUser(ctx context.Context, userID string, filter spark.ListFilter) ([]spark.Spark, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + sparkColumns + ` FROM sparks WHERE (user1_id = $1 OR user2_id = $1)`)
	args := []interface{}{userID}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		fmt.Fprintf(&sb, " AND type = $%d", len(args))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	return scanSparks(rows)
}

// CreateGuarded inserts sp after check approves the recent sparks of the
// pair. A transaction-scoped advisory lock on the pair key serializes
// concurrent creators.
func (s *SparkStore) CreateGuarded(ctx context.Context, sp *spark.Spark, lookback time.Duration, check func([]spark.Spark) error) error {
	return s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, spark.PairKey(sp.User1ID, sp.User2ID)); err != nil {
			return fmt.Errorf("error locking pair: %w", err)
		}

		rows, err := tx.Query(ctx, `
			SELECT `+sparkColumns+`
			FROM sparks
			WHERE ((user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1))
			  AND created_at >= $3
			ORDER BY created_at DESC`,
			sp.User1ID, sp.User2ID, sp.CreatedAt.Add(-lookback),
		)
		if err != nil {
			return fmt.Errorf("error executing query: %w", err)
		}
		recent, err := scanSparks(rows)
		if err != nil {
			return err
		}

		if check != nil {
			if err := check(recent); err != nil {
				return err
			}
		}

		return insertSpark(ctx, tx, sp)
	})
}

// Update applies mutate to the row-locked spark and writes it back
func (s *SparkStore) Update(ctx context.Context, id string, mutate func(*spark.Spark) error) (*spark.Spark, error) {
	var updated spark.Spark

	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+sparkColumns+` FROM sparks WHERE id = $1 FOR UPDATE`, id)
		current, err := scanSpark(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return spark.NotFound("spark %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("error scanning spark: %w", err)
		}

		if err := mutate(&current); err != nil {
			return err
		}

		metadataJSON, err := marshalMetadata(current.Metadata)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE sparks SET
				status = $2,
				strength = $3,
				metadata = $4,
				user1_accepted = $5,
				user2_accepted = $6,
				user1_response_at = $7,
				user2_response_at = $8,
				expires_at = $9,
				updated_at = $10
			WHERE id = $1`,
			current.ID,
			string(current.Status),
			current.Strength,
			metadataJSON,
			current.User1Accepted,
			current.User2Accepted,
			current.User1ResponseAt,
			current.User2ResponseAt,
			current.ExpiresAt,
			current.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("error executing query: %w", err)
		}

		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ExpirePending moves overdue pending sparks to expired in one statement
func (s *SparkStore) ExpirePending(ctx context.Context, now time.Time) ([]spark.Spark, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE sparks
		SET status = 'expired', updated_at = $1
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1
		RETURNING `+sparkColumns,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	return scanSparks(rows)
}

func insertSpark(ctx context.Context, tx pgx.Tx, sp *spark.Spark) error {
	metadataJSON, err := marshalMetadata(sp.Metadata)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO sparks (`+sparkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		sp.ID,
		sp.User1ID,
		sp.User2ID,
		string(sp.Type),
		string(sp.Status),
		sp.Latitude,
		sp.Longitude,
		sp.Distance,
		sp.Strength,
		metadataJSON,
		sp.User1Accepted,
		sp.User2Accepted,
		sp.User1ResponseAt,
		sp.User2ResponseAt,
		sp.ExpiresAt,
		sp.CreatedAt,
		sp.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return spark.Conflict("spark %s already exists", sp.ID)
	}
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}
	return nil
}

func marshalMetadata(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("error marshaling metadata: %w", err)
	}
	return data, nil
}

func scanSpark(row pgx.Row) (spark.Spark, error) {
	var sp spark.Spark
	var sparkType, status string
	var metadataJSON []byte

	err := row.Scan(
		&sp.ID, &sp.User1ID, &sp.User2ID, &sparkType, &status,
		&sp.Latitude, &sp.Longitude, &sp.Distance,
		&sp.Strength, &metadataJSON, &sp.User1Accepted, &sp.User2Accepted,
		&sp.User1ResponseAt, &sp.User2ResponseAt, &sp.ExpiresAt, &sp.CreatedAt, &sp.UpdatedAt,
	)
	if err != nil {
		return sp, err
	}

	sp.Type = spark.Type(sparkType)
	sp.Status = spark.Status(status)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &sp.Metadata); err != nil {
			return sp, fmt.Errorf("error unmarshaling metadata: %w", err)
		}
	}
	return sp, nil
}

func scanSparks(rows pgx.Rows) ([]spark.Spark, error) {
	defer rows.Close()

	var sparks []spark.Spark
	for rows.Next() {
		sp, err := scanSpark(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning spark: %w", err)
		}
		sparks = append(sparks, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sparks: %w", err)
	}
	return sparks, nil
}
