package sweep

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"spark/internal/adapter/events"
	"spark/internal/adapter/memory"
	"spark/internal/domain/geo"
	"spark/internal/domain/spark"
	"spark/internal/service/dedup"
)

var clock = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestScoreInterests(t *testing.T) {
	tests := []struct {
		name          string
		a, b          []string
		shared        int
		compatibility float64
		strength      int
	}{
		{"Case insensitive overlap", []string{"Hiking", "Coffee", "Jazz", "Go"}, []string{"hiking", "coffee", "JAZZ", "tea"}, 3, 0.6, 60},
		{"Identical lists", []string{"a", "b", "c", "d", "e", "f"}, []string{"a", "b", "c", "d", "e", "f"}, 6, 1, 100},
		{"Weak overlap", []string{"a", "b", "c", "d", "e", "f", "g"}, []string{"a", "b", "c", "x", "y", "z"}, 3, 0.3, 45},
		{"Nothing shared", []string{"a"}, []string{"b"}, 0, 0, 0},
		{"Empty lists", nil, nil, 0, 0, 0},
		{"Duplicates and blanks", []string{"a", "A", " a ", ""}, []string{"a"}, 1, 1, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreInterests(tt.a, tt.b)
			if len(got.Shared) != tt.shared {
				t.Errorf("Expected %d shared, got %v", tt.shared, got.Shared)
			}
			if math.Abs(got.Compatibility-tt.compatibility) > 1e-9 {
				t.Errorf("Expected compatibility %v, got %v", tt.compatibility, got.Compatibility)
			}
			if got.Strength != tt.strength {
				t.Errorf("Expected strength %d, got %d", tt.strength, got.Strength)
			}
		})
	}
}

type interestFixture struct {
	dir      *memory.Directory
	store    *memory.SparkStore
	recorder *events.Recorder
	sweep    *InterestSweep
}

func newInterestFixture() *interestFixture {
	f := &interestFixture{
		dir:      memory.NewDirectory(),
		store:    memory.NewSparkStore(),
		recorder: events.NewRecorder(),
	}
	f.sweep = NewInterestSweep(f.dir, f.dir, f.store, dedup.NewGuard(dedup.DefaultConfig()), f.recorder, DefaultInterestConfig(), nil)
	f.sweep.now = func() time.Time { return clock }
	return f
}

func (f *interestFixture) addUser(id string, lat, lng float64, interests ...string) {
	f.dir.AddUser(spark.User{ID: id, Username: id, Interests: interests})
	if lat != 0 || lng != 0 {
		f.dir.RecordLocation(context.Background(), spark.LocationSample{
			UserID:   id,
			Location: geo.Location{Latitude: lat, Longitude: lng, Timestamp: clock.Add(-time.Hour)},
		})
	}
}

func TestInterestSweepCreatesSpark(t *testing.T) {
	f := newInterestFixture()
	f.addUser("A", 37.50, 127.00, "hiking", "coffee", "jazz", "go")
	f.addUser("B", 37.60, 127.10, "Hiking", "Coffee", "Jazz", "tea")

	result, err := f.sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.Created != 1 || result.Examined != 1 {
		t.Fatalf("Expected 1 examined and 1 created, got %+v", result)
	}

	all := f.store.All()
	if len(all) != 1 {
		t.Fatalf("Expected 1 spark, got %d", len(all))
	}
	s := all[0]
	if s.Type != spark.TypeInterest || s.Strength != 60 {
		t.Errorf("Expected interest spark of strength 60, got %s/%d", s.Type, s.Strength)
	}
	if math.Abs(s.Latitude-37.55) > 1e-9 || math.Abs(s.Longitude-127.05) > 1e-9 {
		t.Errorf("Expected midpoint location, got %v,%v", s.Latitude, s.Longitude)
	}
	shared, ok := s.Metadata["sharedInterests"].([]string)
	if !ok || len(shared) != 3 {
		t.Errorf("Expected 3 shared interests in metadata, got %v", s.Metadata["sharedInterests"])
	}
	if s.ExpiresAt == nil || !s.ExpiresAt.Equal(clock.Add(72*time.Hour)) {
		t.Errorf("Expected expiry in 72h, got %v", s.ExpiresAt)
	}
	if len(f.recorder.Topic(spark.EventDetected)) != 1 {
		t.Errorf("Expected 1 detected event, got %d", len(f.recorder.Topic(spark.EventDetected)))
	}

	// The live spark suppresses a second run
	result, err = f.sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.Created != 0 || result.Skipped != 1 {
		t.Errorf("Expected the rerun to skip, got %+v", result)
	}
}

func TestInterestSweepSkips(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *interestFixture)
	}{
		{"Too few shared interests", func(f *interestFixture) {
			f.addUser("A", 37.5, 127.0, "a", "b")
			f.addUser("B", 37.5, 127.0, "a", "b")
		}},
		{"Strength below threshold", func(f *interestFixture) {
			f.addUser("A", 37.5, 127.0, "a", "b", "c", "d", "e", "f", "g")
			f.addUser("B", 37.5, 127.0, "a", "b", "c", "x", "y", "z")
		}},
		{"Missing location", func(f *interestFixture) {
			f.addUser("A", 37.5, 127.0, "a", "b", "c")
			f.addUser("B", 0, 0, "a", "b", "c")
		}},
		{"Blocked pair", func(f *interestFixture) {
			f.addUser("A", 37.5, 127.0, "a", "b", "c")
			f.addUser("B", 37.5, 127.0, "a", "b", "c")
			f.dir.Block("B", "A")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newInterestFixture()
			tt.setup(f)

			result, err := f.sweep.Run(context.Background())
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if result.Created != 0 || result.Skipped != 1 {
				t.Errorf("Expected 1 skipped pair, got %+v", result)
			}
			if len(f.store.All()) != 0 {
				t.Errorf("Expected no sparks, got %d", len(f.store.All()))
			}
		})
	}
}

func TestInterestSweepExaminesEveryPair(t *testing.T) {
	f := newInterestFixture()
	for _, id := range []string{"A", "B", "C", "D"} {
		f.addUser(id, 37.5, 127.0, "a", "b", "c")
	}

	result, err := f.sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.Examined != 6 || result.Created != 6 {
		t.Errorf("Expected 6 pairs examined and created, got %+v", result)
	}
}

func TestExpirationSweep(t *testing.T) {
	store := memory.NewSparkStore()
	recorder := events.NewRecorder()

	past := clock.Add(-time.Minute)
	future := clock.Add(time.Hour)
	store.Put(spark.Spark{ID: "overdue", User1ID: "A", User2ID: "B", Type: spark.TypeProximity, Status: spark.StatusPending, ExpiresAt: &past, CreatedAt: clock.Add(-49 * time.Hour)})
	store.Put(spark.Spark{ID: "live", User1ID: "A", User2ID: "C", Type: spark.TypeProximity, Status: spark.StatusPending, ExpiresAt: &future, CreatedAt: clock})
	store.Put(spark.Spark{ID: "matched", User1ID: "A", User2ID: "D", Type: spark.TypeProximity, Status: spark.StatusMatched, ExpiresAt: &past, CreatedAt: clock.Add(-49 * time.Hour)})

	sweep := NewExpirationSweep(store, recorder, nil)
	sweep.now = func() time.Time { return clock }

	expired, err := sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "overdue" {
		t.Fatalf("Expected only the overdue spark to expire, got %v", expired)
	}
	if expired[0].Status != spark.StatusExpired {
		t.Errorf("Expected status expired, got %s", expired[0].Status)
	}
	if len(recorder.Topic(spark.EventStatusChanged)) != 1 {
		t.Errorf("Expected 1 status event, got %d", len(recorder.Topic(spark.EventStatusChanged)))
	}

	// A second run finds nothing to do
	expired, err = sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("Expected no sparks on rerun, got %d", len(expired))
	}
	if len(recorder.Topic(spark.EventStatusChanged)) != 1 {
		t.Errorf("Expected no further events, got %d", len(recorder.Topic(spark.EventStatusChanged)))
	}
}

func TestCleanupSweep(t *testing.T) {
	dir := memory.NewDirectory()
	ctx := context.Background()
	dir.RecordLocation(ctx, spark.LocationSample{UserID: "A", Location: geo.Location{Latitude: 1, Longitude: 1, Timestamp: clock.Add(-25 * time.Hour)}})
	dir.RecordLocation(ctx, spark.LocationSample{UserID: "A", Location: geo.Location{Latitude: 1, Longitude: 1, Timestamp: clock.Add(-time.Hour)}})

	sweep := NewCleanupSweep(dir, 24*time.Hour, nil)
	sweep.now = func() time.Time { return clock }

	purged, err := sweep.Run(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if purged != 1 {
		t.Errorf("Expected 1 purged sample, got %d", purged)
	}
}

type fakeLocker struct {
	held     map[string]string
	err      error
	released int
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.held[key] = "token"
	return "token", true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key, token string) error {
	if l.held[key] == token {
		delete(l.held, key)
		l.released++
	}
	return nil
}

func TestSchedulerRegister(t *testing.T) {
	s, err := NewScheduler(nil, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer s.Stop()

	noop := func(ctx context.Context) error { return nil }
	if err := s.Register("expiration", time.Minute, noop); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := s.Register("expiration", time.Minute, noop); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
	if err := s.Register("interest", 0, noop); err == nil {
		t.Error("Expected zero interval to fail")
	}
	if got := s.Tasks(); len(got) != 1 || got[0] != "expiration" {
		t.Errorf("Expected [expiration], got %v", got)
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Error("Expected unknown task to fail")
	}
}

func TestSchedulerRunNow(t *testing.T) {
	locker := &fakeLocker{held: map[string]string{}}
	s, err := NewScheduler(locker, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer s.Stop()

	runs := 0
	boom := errors.New("boom")
	s.Register("count", time.Minute, func(ctx context.Context) error {
		runs++
		return nil
	})
	s.Register("fail", time.Minute, func(ctx context.Context) error { return boom })

	if err := s.RunNow(context.Background(), "count"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if runs != 1 || locker.released != 1 {
		t.Errorf("Expected 1 run and 1 release, got %d and %d", runs, locker.released)
	}

	// Another replica holds the lock
	locker.held["spark:sweep:count"] = "other"
	if err := s.RunNow(context.Background(), "count"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if runs != 1 {
		t.Errorf("Expected the locked run to be skipped, got %d runs", runs)
	}

	if err := s.RunNow(context.Background(), "fail"); !errors.Is(err, boom) {
		t.Errorf("Expected task error, got %v", err)
	}

	locker.err = errors.New("redis down")
	if err := s.RunNow(context.Background(), "fail"); err == nil || errors.Is(err, boom) {
		t.Errorf("Expected lock error, got %v", err)
	}
}
