// internal/adapter/memory/directory.go

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"spark/internal/domain/geo"
	"spark/internal/domain/spark"
)

// Directory keeps users, blocks and location samples in memory. It implements
// spark.UserLookup, spark.BlockList and spark.GeoQuery.
type Directory struct {
	mu      sync.RWMutex
	users   map[string]spark.User
	blocks  map[string]map[string]struct{}
	samples map[string][]geo.Location
	now     func() time.Time
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		users:   make(map[string]spark.User),
		blocks:  make(map[string]map[string]struct{}),
		samples: make(map[string][]geo.Location),
		now:     time.Now,
	}
}

// AddUser registers or replaces a user
func (d *Directory) AddUser(u spark.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// Block records that blocker blocked blocked
func (d *Directory) Block(blocker, blocked string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.blocks[blocker] == nil {
		d.blocks[blocker] = make(map[string]struct{})
	}
	d.blocks[blocker][blocked] = struct{}{}
}

// GetUser returns a user with its last known location
func (d *Directory) GetUser(ctx context.Context, id string) (*spark.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return nil, spark.NotFound("user %s not found", id)
	}
	u = d.populate(u)
	return &u, nil
}

// ListUsersWithInterests returns users with at least one interest, by ID
func (d *Directory) ListUsersWithInterests(ctx context.Context) ([]spark.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []spark.User
	for _, u := range d.users {
		if len(u.Interests) == 0 {
			continue
		}
		out = append(out, d.populate(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// BlockedPairs returns users blocked by or blocking userID
func (d *Directory) BlockedPairs(ctx context.Context, userID string) (map[string]struct{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]struct{})
	for blocked := range d.blocks[userID] {
		out[blocked] = struct{}{}
	}
	for blocker, set := range d.blocks {
		if _, ok := set[userID]; ok {
			out[blocker] = struct{}{}
		}
	}
	return out, nil
}

// RecordLocation appends a location sample for a user. A zero timestamp is
// recorded as now.
func (d *Directory) RecordLocation(ctx context.Context, sample spark.LocationSample) error {
	if err := sample.Location.Validate(); err != nil {
		return spark.Validation(err, "invalid location for user %s", sample.UserID)
	}

	loc := sample.Location
	if loc.Timestamp.IsZero() {
		loc.Timestamp = d.now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.samples[sample.UserID] = append(d.samples[sample.UserID], loc)
	return nil
}

// PurgeLocationsBefore drops samples older than before
func (d *Directory) PurgeLocationsBefore(ctx context.Context, before time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var purged int64
	for userID, samples := range d.samples {
		kept := samples[:0]
		for _, s := range samples {
			if s.Timestamp.Before(before) {
				purged++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(d.samples, userID)
			continue
		}
		d.samples[userID] = kept
	}
	return purged, nil
}

// FindNearby returns the closest recent sample per user within the radius
func (d *Directory) FindNearby(ctx context.Context, q spark.NearbyQuery) ([]spark.NearbyUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []spark.NearbyUser
	for userID, samples := range d.samples {
		if _, excluded := q.Exclude[userID]; excluded {
			continue
		}

		best := -1.0
		var lastSeen time.Time
		for _, s := range samples {
			if s.Timestamp.Before(q.Since) {
				continue
			}
			dist := geo.Distance(q.Center, s)
			if dist > q.RadiusMeters {
				continue
			}
			if best < 0 || dist < best {
				best = dist
				lastSeen = s.Timestamp
			}
		}
		if best >= 0 {
			out = append(out, spark.NearbyUser{UserID: userID, Distance: best, LastSeen: lastSeen})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Distance < out[j].Distance
	})
	return out, nil
}

func (d *Directory) populate(u spark.User) spark.User {
	samples := d.samples[u.ID]
	if len(samples) == 0 {
		return u
	}
	latest := samples[0]
	for _, s := range samples[1:] {
		if !s.Timestamp.Before(latest.Timestamp) {
			latest = s
		}
	}
	u.LastKnownLocation = &latest
	u.Interests = append([]string(nil), u.Interests...)
	return u
}
