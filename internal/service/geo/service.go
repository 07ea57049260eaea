// internal/service/geo/service.go

package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"spark/internal/domain/spark"
)

// GeoSpatialConfig contains configuration for the geospatial service
type GeoSpatialConfig struct {
	// MaxCandidates caps the rows returned by one nearby query
	MaxCandidates int
}

// DefaultGeoSpatialConfig returns the default geospatial parameters
func DefaultGeoSpatialConfig() GeoSpatialConfig {
	return GeoSpatialConfig{
		MaxCandidates: 200,
	}
}

// GeoSpatialService stores location samples in PostGIS and answers
// nearby-user queries
type GeoSpatialService struct {
	db     *pgxpool.Pool
	config GeoSpatialConfig
}

// NewGeoSpatialService creates a new geospatial service
func NewGeoSpatialService(db *pgxpool.Pool, config GeoSpatialConfig) *GeoSpatialService {
	return &GeoSpatialService{
		db:     db,
		config: config,
	}
}

var _ spark.GeoQuery = (*GeoSpatialService)(nil)

// RecordLocation appends a location sample for a user
func (s *GeoSpatialService) RecordLocation(ctx context.Context, sample spark.LocationSample) error {
	if err := sample.Location.Validate(); err != nil {
		return spark.Validation(err, "invalid location for user %s", sample.UserID)
	}

	recordedAt := sample.Location.Timestamp
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO location_samples (user_id, location, accuracy, recorded_at)
		VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography, $4, $5)`,
		sample.UserID,
		sample.Location.Longitude,
		sample.Location.Latitude,
		sample.Location.Accuracy,
		recordedAt,
	)
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}
	return nil
}

// FindNearby returns the closest recent sample per user within the radius,
// ascending by distance
func (s *GeoSpatialService) FindNearby(ctx context.Context, q spark.NearbyQuery) ([]spark.NearbyUser, error) {
	exclude := make([]string, 0, len(q.Exclude))
	for id := range q.Exclude {
		exclude = append(exclude, id)
	}

	// Use PostGIS ST_DWithin for efficient spatial query
	query := `
		SELECT user_id, distance, recorded_at
		FROM (
			SELECT DISTINCT ON (user_id)
			       user_id,
			       ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) AS distance,
			       recorded_at
			FROM location_samples
			WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
			  AND recorded_at >= $4
			  AND user_id <> ALL($5)
			ORDER BY user_id, distance ASC
		) nearest
		ORDER BY distance ASC, user_id ASC
		LIMIT $6
	`

	limit := s.config.MaxCandidates
	if limit <= 0 {
		limit = DefaultGeoSpatialConfig().MaxCandidates
	}

	rows, err := s.db.Query(ctx, query,
		q.Center.Longitude, q.Center.Latitude, q.RadiusMeters, q.Since, exclude, limit)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var users []spark.NearbyUser
	for rows.Next() {
		var u spark.NearbyUser
		if err := rows.Scan(&u.UserID, &u.Distance, &u.LastSeen); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

// PurgeLocationsBefore deletes samples recorded before the cutoff
func (s *GeoSpatialService) PurgeLocationsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM location_samples WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("error executing query: %w", err)
	}
	return tag.RowsAffected(), nil
}
