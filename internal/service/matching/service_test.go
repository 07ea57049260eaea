package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"spark/internal/adapter/events"
	"spark/internal/adapter/memory"
	"spark/internal/domain/geo"
	"spark/internal/domain/spark"
	"spark/internal/service/dedup"
)

type fixture struct {
	dir      *memory.Directory
	store    *memory.SparkStore
	rooms    *memory.ChatRoomStore
	recorder *events.Recorder
	service  *Service
	clock    time.Time
}

func newFixture() *fixture {
	f := &fixture{
		dir:      memory.NewDirectory(),
		store:    memory.NewSparkStore(),
		rooms:    memory.NewChatRoomStore(),
		recorder: events.NewRecorder(),
		clock:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, id := range []string{"A", "B", "X", "Y", "Z"} {
		f.dir.AddUser(spark.User{ID: id, Username: "user-" + id})
	}
	f.service = NewService(f.store, f.dir, f.dir, NewProvisioner(f.rooms), dedup.NewGuard(dedup.DefaultConfig()), f.recorder, DefaultServiceConfig(), nil)
	f.service.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) proximitySpark(id, user1, user2 string) spark.Spark {
	expires := f.clock.Add(48 * time.Hour)
	distance := 13.0
	sp := spark.Spark{
		ID:        id,
		User1ID:   user1,
		User2ID:   user2,
		Type:      spark.TypeProximity,
		Status:    spark.StatusPending,
		Distance:  &distance,
		Strength:  80,
		ExpiresAt: &expires,
		CreatedAt: f.clock,
		UpdatedAt: f.clock,
	}
	f.store.Put(sp)
	return sp
}

func TestMutualAcceptanceMatchesOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.proximitySpark("s1", "A", "B")

	first, err := f.service.RespondToSpark(ctx, "s1", "A", true)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if first.Spark.Status != spark.StatusPending || !first.Spark.User1Accepted || first.Spark.User1ResponseAt == nil {
		t.Errorf("Expected pending with user1 accepted, got %+v", first.Spark)
	}
	if first.ChatRoomID != "" {
		t.Errorf("Expected no chat room yet, got %s", first.ChatRoomID)
	}

	partial := f.recorder.Topic(spark.EventPartiallyAccepted)
	if len(partial) != 1 {
		t.Fatalf("Expected 1 partiallyAccepted event, got %d", len(partial))
	}
	if ev := partial[0].Payload.(spark.PartiallyAcceptedEvent); ev.AcceptedBy != "A" || ev.WaitingFor != "B" {
		t.Errorf("Expected A waiting for B, got %+v", ev)
	}
	if len(f.recorder.Topic(spark.EventStatusChanged)) != 0 {
		t.Error("Expected no statusChanged for pending to pending")
	}

	f.clock = f.clock.Add(time.Minute)
	second, err := f.service.RespondToSpark(ctx, "s1", "B", true)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if second.Spark.Status != spark.StatusMatched {
		t.Errorf("Expected matched, got %s", second.Spark.Status)
	}
	if second.ChatRoomID == "" {
		t.Error("Expected a chat room ID")
	}
	if f.rooms.Created() != 1 {
		t.Errorf("Expected exactly 1 chat room, got %d", f.rooms.Created())
	}

	matched := f.recorder.Topic(spark.EventMatched)
	if len(matched) != 1 || matched[0].Payload.(spark.MatchedEvent).ChatRoomID != second.ChatRoomID {
		t.Errorf("Expected matched event with room, got %+v", matched)
	}
	if len(f.recorder.Topic(spark.EventStatusChanged)) != 1 {
		t.Errorf("Expected 1 statusChanged event, got %d", len(f.recorder.Topic(spark.EventStatusChanged)))
	}

	// A further response cannot reopen a matched spark
	if _, err := f.service.RespondToSpark(ctx, "s1", "A", false); !errors.Is(err, spark.ErrConflict) {
		t.Errorf("Expected conflict on matched spark, got %v", err)
	}
}

func TestRejectOverridesPriorAcceptance(t *testing.T) {
	tests := []struct {
		name     string
		accepter string
		rejecter string
	}{
		{"User2 rejects after user1 accepted", "A", "B"},
		{"User1 rejects after user2 accepted", "B", "A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			f.proximitySpark("s1", "A", "B")

			if _, err := f.service.RespondToSpark(ctx, "s1", tt.accepter, true); err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			res, err := f.service.RespondToSpark(ctx, "s1", tt.rejecter, false)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if res.Spark.Status != spark.StatusRejected {
				t.Errorf("Expected rejected, got %s", res.Spark.Status)
			}
			if f.rooms.Created() != 0 {
				t.Errorf("Expected no chat room, got %d", f.rooms.Created())
			}
		})
	}
}

func TestRespondErrors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.proximitySpark("s1", "A", "B")

	if _, err := f.service.RespondToSpark(ctx, "missing", "A", true); !errors.Is(err, spark.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
	if _, err := f.service.RespondToSpark(ctx, "s1", "Z", true); !errors.Is(err, spark.ErrForbidden) {
		t.Errorf("Expected forbidden for non participant, got %v", err)
	}

	got, _ := f.store.Get(ctx, "s1")
	if got.User1Accepted || got.User2Accepted || got.Status != spark.StatusPending {
		t.Errorf("Expected spark untouched after failed responses, got %+v", got)
	}
}

func TestManualSparkAsymmetry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	sent, err := f.service.SendManualSpark(ctx, SendRequest{SenderID: "X", ReceiverID: "Y", Message: "  hi there  "})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	for _, accept := range []bool{true, false} {
		_, err := f.service.RespondToSpark(ctx, sent.ID, "X", accept)
		if !errors.Is(err, spark.ErrConflict) {
			t.Errorf("Expected sender response (accept=%v) to fail with conflict, got %v", accept, err)
		}
	}

	res, err := f.service.RespondToSpark(ctx, sent.ID, "Y", true)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if res.Spark.Status != spark.StatusMatched || !res.Spark.User1Accepted || !res.Spark.User2Accepted {
		t.Errorf("Expected matched with both flags, got %+v", res.Spark)
	}
	if res.ChatRoomID == "" {
		t.Error("Expected chat room on manual match")
	}
}

func TestManualSparkReceiverReject(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	sent, _ := f.service.SendManualSpark(ctx, SendRequest{SenderID: "X", ReceiverID: "Y"})
	res, err := f.service.RespondToSpark(ctx, sent.ID, "Y", false)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if res.Spark.Status != spark.StatusRejected {
		t.Errorf("Expected rejected, got %s", res.Spark.Status)
	}
}

func TestSendManualSpark(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.dir.RecordLocation(ctx, spark.LocationSample{UserID: "X", Location: geo.Location{Latitude: 37.5, Longitude: 127.0, Timestamp: f.clock}})

	sent, err := f.service.SendManualSpark(ctx, SendRequest{SenderID: "X", ReceiverID: "Y", Message: "coffee?", RelatedSpotID: "spot-1"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if sent.Type != spark.TypeManual || sent.Status != spark.StatusPending {
		t.Errorf("Expected pending manual spark, got %s/%s", sent.Type, sent.Status)
	}
	if sent.User1ID != "X" || sent.User2ID != "Y" {
		t.Errorf("Expected sender as user1, got %s/%s", sent.User1ID, sent.User2ID)
	}
	if !sent.User1Accepted || sent.User2Accepted {
		t.Errorf("Expected implicit sender acceptance only, got %v/%v", sent.User1Accepted, sent.User2Accepted)
	}
	if sent.Strength != 80 {
		t.Errorf("Expected strength 80, got %d", sent.Strength)
	}
	if sent.Latitude != 37.5 || sent.Longitude != 127.0 {
		t.Errorf("Expected sender location, got (%f, %f)", sent.Latitude, sent.Longitude)
	}
	if sent.ExpiresAt == nil || !sent.ExpiresAt.Equal(f.clock.Add(72*time.Hour)) {
		t.Errorf("Expected 72h expiry, got %v", sent.ExpiresAt)
	}
	if sent.Metadata["message"] != "coffee?" || sent.Metadata["relatedSpotId"] != "spot-1" {
		t.Errorf("Expected message metadata, got %v", sent.Metadata)
	}
	if len(f.recorder.Topic(spark.EventSent)) != 1 {
		t.Errorf("Expected 1 sent event, got %d", len(f.recorder.Topic(spark.EventSent)))
	}

	noLocation, err := f.service.SendManualSpark(ctx, SendRequest{SenderID: "Y", ReceiverID: "Z"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if noLocation.Latitude != 0 || noLocation.Longitude != 0 {
		t.Errorf("Expected (0,0) without a known location, got (%f, %f)", noLocation.Latitude, noLocation.Longitude)
	}
}

func TestSendManualSparkFailures(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.dir.Block("Y", "Z")

	future := f.clock.Add(48 * time.Hour)
	f.store.Put(spark.Spark{ID: "live", User1ID: "A", User2ID: "B", Type: spark.TypeManual, Status: spark.StatusPending, CreatedAt: f.clock.Add(-24 * time.Hour), ExpiresAt: &future})
	f.store.Put(spark.Spark{ID: "expired", User1ID: "A", User2ID: "X", Type: spark.TypeManual, Status: spark.StatusExpired, CreatedAt: f.clock.Add(-24 * time.Hour)})

	tests := []struct {
		name     string
		req      SendRequest
		expected error
	}{
		{"Self spark", SendRequest{SenderID: "X", ReceiverID: "X"}, spark.ErrForbidden},
		{"Unknown sender", SendRequest{SenderID: "ghost", ReceiverID: "X"}, spark.ErrNotFound},
		{"Unknown receiver", SendRequest{SenderID: "X", ReceiverID: "ghost"}, spark.ErrNotFound},
		{"Receiver blocked sender", SendRequest{SenderID: "Z", ReceiverID: "Y"}, spark.ErrForbidden},
		{"Sender blocked receiver", SendRequest{SenderID: "Y", ReceiverID: "Z"}, spark.ErrForbidden},
		{"Live spark within 72h", SendRequest{SenderID: "B", ReceiverID: "A"}, spark.ErrConflict},
		{"Missing receiver", SendRequest{SenderID: "X"}, spark.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.SendManualSpark(ctx, tt.req)
			if !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
		})
	}

	if _, err := f.service.SendManualSpark(ctx, SendRequest{SenderID: "A", ReceiverID: "X"}); err != nil {
		t.Errorf("Expected expired spark not to block, got %v", err)
	}
}

func TestRespondToExpiredSparkFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	past := f.clock.Add(-time.Second)
	f.store.Put(spark.Spark{ID: "s1", User1ID: "A", User2ID: "B", Type: spark.TypeProximity, Status: spark.StatusPending, ExpiresAt: &past, CreatedAt: f.clock.Add(-time.Hour)})

	// Overdue but not yet swept
	if _, err := f.service.RespondToSpark(ctx, "s1", "A", true); !errors.Is(err, spark.ErrConflict) {
		t.Errorf("Expected conflict for overdue spark, got %v", err)
	}

	f.store.ExpirePending(ctx, f.clock)
	if _, err := f.service.RespondToSpark(ctx, "s1", "B", true); !errors.Is(err, spark.ErrConflict) {
		t.Errorf("Expected conflict for expired spark, got %v", err)
	}

	got, _ := f.store.Get(ctx, "s1")
	if got.Status != spark.StatusExpired || got.User1Accepted || got.User2Accepted {
		t.Errorf("Expected expired spark untouched, got %+v", got)
	}
}

func TestProvisionRoomIsIdempotent(t *testing.T) {
	rooms := memory.NewChatRoomStore()
	p := NewProvisioner(rooms)
	ctx := context.Background()

	first, err := p.ProvisionRoom(ctx, "A", "B", "s1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	second, err := p.ProvisionRoom(ctx, "B", "A", "s2")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if first != second {
		t.Errorf("Expected the same room, got %s and %s", first, second)
	}
	if rooms.Created() != 1 {
		t.Errorf("Expected 1 room, got %d", rooms.Created())
	}
}

func TestGetAndListSparks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.proximitySpark("s1", "A", "B")
	f.clock = f.clock.Add(time.Minute)
	f.proximitySpark("s2", "A", "X")

	if _, err := f.service.GetSpark(ctx, "s1", "Z"); !errors.Is(err, spark.ErrForbidden) {
		t.Errorf("Expected forbidden, got %v", err)
	}

	list, err := f.service.ListSparks(ctx, "A", spark.ListFilter{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(list) != 2 || list[0].ID != "s2" {
		t.Errorf("Expected s2 first of 2, got %+v", list)
	}

	if _, err := f.service.ListSparks(ctx, "A", spark.ListFilter{Status: "bogus"}); !errors.Is(err, spark.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestChatRoomFor(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.proximitySpark("s1", "A", "B")

	if _, err := f.service.ChatRoomFor(ctx, "s1", "A"); !errors.Is(err, spark.ErrConflict) {
		t.Errorf("Expected conflict for pending spark, got %v", err)
	}

	f.service.RespondToSpark(ctx, "s1", "A", true)
	res, _ := f.service.RespondToSpark(ctx, "s1", "B", true)

	roomID, err := f.service.ChatRoomFor(ctx, "s1", "B")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if roomID != res.ChatRoomID {
		t.Errorf("Expected %s, got %s", res.ChatRoomID, roomID)
	}
}

type failingRooms struct {
	*memory.ChatRoomStore
	mu       sync.Mutex
	failures int
}

func (r *failingRooms) CreateRoom(ctx context.Context, room spark.ChatRoom) (*spark.ChatRoom, error) {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return nil, errors.New("chat backend unavailable")
	}
	r.mu.Unlock()
	return r.ChatRoomStore.CreateRoom(ctx, room)
}

func TestChatRoomForRecoversFailedProvisioning(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	rooms := &failingRooms{ChatRoomStore: f.rooms, failures: 1}
	f.service.provisioner = NewProvisioner(rooms)
	f.proximitySpark("s1", "A", "B")

	f.service.RespondToSpark(ctx, "s1", "A", true)
	res, err := f.service.RespondToSpark(ctx, "s1", "B", true)
	if err == nil {
		t.Fatal("Expected provisioning error")
	}
	if res == nil || res.Spark.Status != spark.StatusMatched || res.ChatRoomID != "" {
		t.Fatalf("Expected matched spark without a room, got %+v", res)
	}
	if got := len(f.recorder.Topic(spark.EventMatched)); got != 0 {
		t.Errorf("Expected no matched event before the room exists, got %d", got)
	}

	roomID, err := f.service.ChatRoomFor(ctx, "s1", "A")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if roomID == "" || f.rooms.Created() != 1 {
		t.Fatalf("Expected one room, got %q (%d created)", roomID, f.rooms.Created())
	}

	matched := f.recorder.Topic(spark.EventMatched)
	if len(matched) != 1 {
		t.Fatalf("Expected 1 matched event after recovery, got %d", len(matched))
	}
	ev := matched[0].Payload.(spark.MatchedEvent)
	if ev.SparkID != "s1" || ev.ChatRoomID != roomID {
		t.Errorf("Expected matched event for s1 with room %s, got %+v", roomID, ev)
	}

	// The room already exists now; nothing new is announced
	again, err := f.service.ChatRoomFor(ctx, "s1", "B")
	if err != nil || again != roomID {
		t.Errorf("Expected room %s, got %q (%v)", roomID, again, err)
	}
	if got := len(f.recorder.Topic(spark.EventMatched)); got != 1 {
		t.Errorf("Expected still 1 matched event, got %d", got)
	}
}

func TestConcurrentAcceptanceMatchesOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture()
		ctx := context.Background()
		id := fmt.Sprintf("s%d", i)
		f.proximitySpark(id, "A", "B")

		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for _, user := range []string{"A", "B"} {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				if _, err := f.service.RespondToSpark(ctx, id, user, true); err != nil {
					errs <- err
				}
			}(user)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Fatalf("Expected no error, got %v", err)
		}

		got, _ := f.store.Get(ctx, id)
		if got.Status != spark.StatusMatched || !got.User1Accepted || !got.User2Accepted {
			t.Fatalf("Expected matched with both acceptances, got %+v", got)
		}
		if f.rooms.Created() != 1 {
			t.Fatalf("Expected exactly 1 chat room, got %d", f.rooms.Created())
		}
		if n := len(f.recorder.Topic(spark.EventMatched)); n != 1 {
			t.Fatalf("Expected exactly 1 matched event, got %d", n)
		}
		if n := len(f.recorder.Topic(spark.EventPartiallyAccepted)); n != 1 {
			t.Fatalf("Expected exactly 1 partiallyAccepted event, got %d", n)
		}
	}
}

func TestConcurrentProvisioningCreatesOneRoom(t *testing.T) {
	rooms := memory.NewChatRoomStore()
	p := NewProvisioner(rooms)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	created := make([]bool, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, c, err := p.provision(ctx, "A", "B", "s1")
			if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			ids[i], created[i] = id, c
		}(i)
	}
	wg.Wait()

	creators := 0
	for i := range ids {
		if ids[i] != ids[0] {
			t.Errorf("Expected every caller to get room %s, got %s", ids[0], ids[i])
		}
		if created[i] {
			creators++
		}
	}
	if creators != 1 || rooms.Created() != 1 {
		t.Errorf("Expected exactly 1 creator and 1 room, got %d and %d", creators, rooms.Created())
	}
}
