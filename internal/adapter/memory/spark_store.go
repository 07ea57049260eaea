// internal/adapter/memory/spark_store.go

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"spark/internal/domain/spark"
)

// SparkStore is an in-process spark.Store. It locks the way the Postgres
// store does: CreateGuarded holds a lock per unordered pair, Update and
// ExpirePending hold a lock per spark row. mu only guards the maps and is
// never held while check or mutate callbacks run.
type SparkStore struct {
	mu        sync.Mutex
	sparks    map[string]spark.Spark
	pairLocks map[string]*sync.Mutex
	rowLocks  map[string]*sync.Mutex
}

// NewSparkStore creates an empty spark store
func NewSparkStore() *SparkStore {
	return &SparkStore{
		sparks:    make(map[string]spark.Spark),
		pairLocks: make(map[string]*sync.Mutex),
		rowLocks:  make(map[string]*sync.Mutex),
	}
}

func (s *SparkStore) lockFor(locks map[string]*sync.Mutex, key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := locks[key]
	if !ok {
		l = &sync.Mutex{}
		locks[key] = l
	}
	return l
}

// Get returns a spark by ID
func (s *SparkStore) Get(ctx context.Context, id string) (*spark.Spark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.sparks[id]
	if !ok {
		return nil, spark.NotFound("spark %s not found", id)
	}
	out := clone(sp)
	return &out, nil
}

// ListForUser returns sparks involving userID, newest first
func (s *SparkStore) ListForUser(ctx context.Context, userID string, filter spark.ListFilter) ([]spark.Spark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []spark.Spark
	for _, sp := range s.sparks {
		if !sp.HasUser(userID) {
			continue
		}
		if filter.Status != "" && sp.Status != filter.Status {
			continue
		}
		if filter.Type != "" && sp.Type != filter.Type {
			continue
		}
		out = append(out, clone(sp))
	}

	sortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CreateGuarded runs check against recent sparks for the pair and inserts on
// approval, holding the pair lock throughout
func (s *SparkStore) CreateGuarded(ctx context.Context, sp *spark.Spark, lookback time.Duration, check func([]spark.Spark) error) error {
	pair := s.lockFor(s.pairLocks, spark.PairKey(sp.User1ID, sp.User2ID))
	pair.Lock()
	defer pair.Unlock()

	since := sp.CreatedAt.Add(-lookback)
	var recent []spark.Spark
	s.mu.Lock()
	for _, existing := range s.sparks {
		if !samePair(existing, sp.User1ID, sp.User2ID) {
			continue
		}
		if existing.CreatedAt.Before(since) {
			continue
		}
		recent = append(recent, clone(existing))
	}
	s.mu.Unlock()
	sortNewestFirst(recent)

	if check != nil {
		if err := check(recent); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sparks[sp.ID]; exists {
		return spark.Conflict("spark %s already exists", sp.ID)
	}
	s.sparks[sp.ID] = clone(*sp)
	return nil
}

// Update applies mutate while holding the spark's row lock
func (s *SparkStore) Update(ctx context.Context, id string, mutate func(*spark.Spark) error) (*spark.Spark, error) {
	row := s.lockFor(s.rowLocks, id)
	row.Lock()
	defer row.Unlock()

	s.mu.Lock()
	current, ok := s.sparks[id]
	s.mu.Unlock()
	if !ok {
		return nil, spark.NotFound("spark %s not found", id)
	}

	working := clone(current)
	if err := mutate(&working); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sparks[id] = clone(working)
	s.mu.Unlock()
	return &working, nil
}

// ExpirePending moves overdue pending sparks to expired. Each candidate is
// re-checked under its row lock, so a concurrent Update wins or loses as a
// whole.
func (s *SparkStore) ExpirePending(ctx context.Context, now time.Time) ([]spark.Spark, error) {
	s.mu.Lock()
	var candidates []string
	for id, sp := range s.sparks {
		if sp.ExpiredAt(now) {
			candidates = append(candidates, id)
		}
	}
	s.mu.Unlock()

	var expired []spark.Spark
	for _, id := range candidates {
		row := s.lockFor(s.rowLocks, id)
		row.Lock()
		s.mu.Lock()
		sp := s.sparks[id]
		if sp.ExpiredAt(now) {
			sp.Status = spark.StatusExpired
			sp.UpdatedAt = now
			s.sparks[id] = sp
			expired = append(expired, clone(sp))
		}
		s.mu.Unlock()
		row.Unlock()
	}
	sortNewestFirst(expired)
	return expired, nil
}

// All returns every stored spark, newest first
func (s *SparkStore) All() []spark.Spark {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]spark.Spark, 0, len(s.sparks))
	for _, sp := range s.sparks {
		out = append(out, clone(sp))
	}
	sortNewestFirst(out)
	return out
}

// Put stores sp as-is, bypassing any guard
func (s *SparkStore) Put(sp spark.Spark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sparks[sp.ID] = clone(sp)
}

func samePair(sp spark.Spark, a, b string) bool {
	return (sp.User1ID == a && sp.User2ID == b) || (sp.User1ID == b && sp.User2ID == a)
}

func sortNewestFirst(sparks []spark.Spark) {
	sort.SliceStable(sparks, func(i, j int) bool {
		if sparks[i].CreatedAt.Equal(sparks[j].CreatedAt) {
			return sparks[i].ID > sparks[j].ID
		}
		return sparks[i].CreatedAt.After(sparks[j].CreatedAt)
	})
}

func clone(sp spark.Spark) spark.Spark {
	if sp.Metadata != nil {
		md := make(map[string]interface{}, len(sp.Metadata))
		for k, v := range sp.Metadata {
			md[k] = v
		}
		sp.Metadata = md
	}
	return sp
}
