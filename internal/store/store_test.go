package store

import (
	"errors"
	"sync"
	"testing"
)

func record(id string, originalSize, compressedSize int) ImageRecord {
	r := NewRecord(id, id+".jpg", "image/jpeg", make([]byte, originalSize))
	return r.WithArtifact(Artifact{Data: make([]byte, compressedSize), MIMEType: "image/jpeg"}, 10, 10)
}

func ids(images []ImageRecord) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = img.ID
	}
	return out
}

func equalIDs(t *testing.T, got []ImageRecord, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("ids = %v, want %v", g, want)
	}
	for i := range g {
		if g[i] != want[i] {
			t.Fatalf("ids = %v, want %v", g, want)
		}
	}
}

func TestNew_InitialState(t *testing.T) {
	s := New()
	state := s.Snapshot()

	if state.Images == nil || len(state.Images) != 0 {
		t.Errorf("expected empty non-nil images, got %#v", state.Images)
	}
	if state.Quality != 80 || state.Processing {
		t.Errorf("unexpected initial state: %+v", state)
	}
}

func TestNewWithQuality(t *testing.T) {
	if _, err := NewWithQuality(9); !errors.Is(err, ErrInvalidQuality) {
		t.Errorf("expected ErrInvalidQuality, got %v", err)
	}
	s, err := NewWithQuality(60)
	if err != nil {
		t.Fatalf("NewWithQuality: %v", err)
	}
	if s.Quality() != 60 {
		t.Errorf("quality = %d, want 60", s.Quality())
	}
}

func TestSetQuality(t *testing.T) {
	tests := []struct {
		name    string
		quality int
		wantErr bool
	}{
		{"minimum", 10, false},
		{"maximum", 95, false},
		{"middle", 42, false},
		{"too low", 9, true},
		{"too high", 96, true},
		{"zero", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			calls := 0
			s.Subscribe(func(State) { calls++ })

			err := s.SetQuality(tt.quality)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetQuality(%d) error = %v, wantErr %v", tt.quality, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidQuality) {
					t.Errorf("expected ErrInvalidQuality, got %v", err)
				}
				if s.Quality() != DefaultQuality || calls != 0 {
					t.Errorf("rejected quality changed state: quality=%d calls=%d", s.Quality(), calls)
				}
				return
			}
			if s.Quality() != tt.quality || calls != 1 {
				t.Errorf("quality=%d calls=%d, want %d and 1", s.Quality(), calls, tt.quality)
			}
		})
	}
}

func TestAddImage_PreservesOrder(t *testing.T) {
	s := New()
	if err := s.AddImage(record("a", 100, 50)); err != nil {
		t.Fatalf("AddImage a: %v", err)
	}
	if err := s.AddImage(record("b", 100, 50)); err != nil {
		t.Fatalf("AddImage b: %v", err)
	}
	equalIDs(t, s.Snapshot().Images, "a", "b")
}

func TestAddImage_DuplicateID(t *testing.T) {
	s := New()
	if err := s.AddImage(record("a", 100, 50)); err != nil {
		t.Fatalf("AddImage: %v", err)
	}
	if err := s.AddImage(record("a", 200, 10)); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	equalIDs(t, s.Snapshot().Images, "a")
}

func TestAddImages_AllOrNothing(t *testing.T) {
	s := New()
	if err := s.AddImages([]ImageRecord{record("a", 10, 5), record("b", 10, 5)}); err != nil {
		t.Fatalf("AddImages: %v", err)
	}
	if err := s.AddImages([]ImageRecord{record("c", 10, 5), record("a", 10, 5)}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if err := s.AddImages([]ImageRecord{record("d", 10, 5), record("d", 10, 5)}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID for repeated id, got %v", err)
	}
	equalIDs(t, s.Snapshot().Images, "a", "b")

	// c was rejected with its batch, so it can still be added.
	if err := s.AddImage(record("c", 10, 5)); err != nil {
		t.Fatalf("AddImage c: %v", err)
	}
}

func TestRemoveImage(t *testing.T) {
	s := New()
	_ = s.AddImages([]ImageRecord{record("a", 10, 5), record("b", 10, 5), record("c", 10, 5)})

	s.RemoveImage("b")
	equalIDs(t, s.Snapshot().Images, "a", "c")

	s.RemoveImage("missing")
	equalIDs(t, s.Snapshot().Images, "a", "c")

	// A removed id may be reused.
	if err := s.AddImage(record("b", 10, 5)); err != nil {
		t.Fatalf("AddImage after remove: %v", err)
	}
	equalIDs(t, s.Snapshot().Images, "a", "c", "b")
}

func TestReplaceAllAndClear(t *testing.T) {
	s := New()
	_ = s.AddImages([]ImageRecord{record("a", 10, 5), record("b", 10, 5)})

	if err := s.ReplaceAll([]ImageRecord{record("b", 10, 2), record("a", 10, 3)}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	state := s.Snapshot()
	equalIDs(t, state.Images, "b", "a")
	if state.Images[0].CompressedSize != 2 {
		t.Errorf("expected replaced record, got %+v", state.Images[0])
	}

	if err := s.ReplaceAll([]ImageRecord{record("x", 10, 5), record("x", 10, 5)}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	equalIDs(t, s.Snapshot().Images, "b", "a")

	s.Clear()
	if got := s.Snapshot().Images; got == nil || len(got) != 0 {
		t.Errorf("expected empty images after Clear, got %#v", got)
	}
	if err := s.AddImage(record("a", 10, 5)); err != nil {
		t.Errorf("AddImage after Clear: %v", err)
	}
}

func TestSnapshot_IsIsolated(t *testing.T) {
	s := New()
	_ = s.AddImage(record("a", 10, 5))
	before := s.Snapshot()

	_ = s.AddImage(record("b", 10, 5))
	s.RemoveImage("a")

	equalIDs(t, before.Images, "a")
}

func TestSubscribe_NotificationCount(t *testing.T) {
	s := New()
	var got []State
	unsubscribe := s.Subscribe(func(state State) { got = append(got, state) })

	_ = s.SetQuality(50)
	s.SetProcessing(true)
	_ = s.AddImage(record("a", 100, 40))
	_ = s.AddImage(record("b", 100, 60))
	s.RemoveImage("a")
	_ = s.ReplaceAll([]ImageRecord{record("c", 10, 5)})
	s.Clear()
	s.SetProcessing(false)

	if len(got) != 8 {
		t.Fatalf("expected 8 notifications, got %d", len(got))
	}
	if got[0].Quality != 50 {
		t.Errorf("notification 0 quality = %d", got[0].Quality)
	}
	if !got[1].Processing {
		t.Errorf("notification 1 should see processing=true")
	}
	equalIDs(t, got[2].Images, "a")
	equalIDs(t, got[3].Images, "a", "b")
	equalIDs(t, got[4].Images, "b")
	equalIDs(t, got[5].Images, "c")
	equalIDs(t, got[6].Images)
	if got[7].Processing {
		t.Errorf("notification 7 should see processing=false")
	}

	unsubscribe()
	unsubscribe()
	_ = s.SetQuality(60)
	s.Clear()
	if len(got) != 8 {
		t.Errorf("listener called after unsubscribe: %d notifications", len(got))
	}
}

func TestSubscribe_FailedMutationDoesNotNotify(t *testing.T) {
	s := New()
	_ = s.AddImage(record("a", 10, 5))
	calls := 0
	s.Subscribe(func(State) { calls++ })

	_ = s.AddImage(record("a", 10, 5))
	_ = s.SetQuality(200)
	_ = s.ReplaceAll([]ImageRecord{record("x", 1, 1), record("x", 1, 1)})

	if calls != 0 {
		t.Errorf("expected no notifications for rejected mutations, got %d", calls)
	}
}

func TestSubscribe_MultipleListeners(t *testing.T) {
	s := New()
	var first, second int
	unsubFirst := s.Subscribe(func(State) { first++ })
	s.Subscribe(func(State) { second++ })

	s.SetProcessing(true)
	unsubFirst()
	s.SetProcessing(false)

	if first != 1 || second != 2 {
		t.Errorf("first=%d second=%d, want 1 and 2", first, second)
	}
}

func TestSubscribe_ListenerSeesCompletedMutation(t *testing.T) {
	s := New()
	s.Subscribe(func(state State) {
		current := s.Snapshot()
		if len(current.Images) != len(state.Images) {
			t.Errorf("listener observed in-progress mutation: %d vs %d", len(current.Images), len(state.Images))
		}
	})
	_ = s.AddImage(record("a", 10, 5))
	_ = s.AddImage(record("b", 10, 5))
}

func TestSubscribe_ReentrantMutation(t *testing.T) {
	s := New()
	var seen []int
	s.Subscribe(func(state State) {
		seen = append(seen, state.Quality)
		if state.Quality == 30 {
			_ = s.SetQuality(40)
		}
	})

	if err := s.SetQuality(30); err != nil {
		t.Fatalf("SetQuality: %v", err)
	}

	if len(seen) != 2 || seen[0] != 30 || seen[1] != 40 {
		t.Errorf("expected notifications [30 40], got %v", seen)
	}
	if s.Quality() != 40 {
		t.Errorf("quality = %d, want 40", s.Quality())
	}
}

func TestStore_ConcurrentAdds(t *testing.T) {
	s := New()
	var mu sync.Mutex
	notifications := 0
	s.Subscribe(func(State) {
		mu.Lock()
		notifications++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.AddImage(record(string(rune('A'+i)), 10, 5))
		}(i)
	}
	wg.Wait()

	// Every dispatcher drains the queue before returning, so all 50 adds were
	// delivered by the time Wait returns.
	s.SetProcessing(false)

	if got := len(s.Snapshot().Images); got != 50 {
		t.Fatalf("expected 50 images, got %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if notifications != 51 {
		t.Errorf("expected 51 notifications, got %d", notifications)
	}
}

func TestSavingsPercent(t *testing.T) {
	tests := []struct {
		name                 string
		original, compressed int64
		want                 float64
	}{
		{"half", 1000, 500, 50},
		{"rounded", 3000, 1000, 66.7},
		{"growth", 1000, 1234, -23.4},
		{"unchanged", 10, 10, 0},
		{"empty original", 0, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SavingsPercent(tt.original, tt.compressed); got != tt.want {
				t.Errorf("SavingsPercent(%d, %d) = %v, want %v", tt.original, tt.compressed, got, tt.want)
			}
		})
	}
}

func TestWithArtifact_KeepsDerivedFieldsConsistent(t *testing.T) {
	r := NewRecord("id-1", "cat.png", "image/png", make([]byte, 2000))
	if r.Preview != "/api/images/id-1/preview" || r.OriginalSize != 2000 {
		t.Fatalf("unexpected new record: %+v", r)
	}

	updated := r.WithArtifact(Artifact{Data: make([]byte, 500), MIMEType: "image/jpeg"}, 40, 30)
	if updated.CompressedSize != updated.Compressed.Size() || updated.CompressedSize != 500 {
		t.Errorf("compressed size %d does not match artifact", updated.CompressedSize)
	}
	if updated.Savings != SavingsPercent(updated.OriginalSize, updated.CompressedSize) {
		t.Errorf("savings %v inconsistent", updated.Savings)
	}
	if updated.Preview != r.Preview || updated.ID != r.ID {
		t.Errorf("identity fields changed: %+v", updated)
	}
	if r.CompressedSize != 0 {
		t.Errorf("WithArtifact mutated the receiver")
	}
}

func TestTryBeginProcessing(t *testing.T) {
	s := New()
	var flags []bool
	s.Subscribe(func(state State) { flags = append(flags, state.Processing) })

	if !s.TryBeginProcessing() {
		t.Fatal("first claim should succeed")
	}
	if s.TryBeginProcessing() {
		t.Fatal("second claim should fail while processing")
	}
	s.SetProcessing(false)
	if !s.TryBeginProcessing() {
		t.Fatal("claim should succeed once the flag is cleared")
	}

	// a failed claim does not notify
	if len(flags) != 3 || !flags[0] || flags[1] || !flags[2] {
		t.Errorf("unexpected notifications: %v", flags)
	}
}

func TestTryBeginProcessing_Concurrent(t *testing.T) {
	s := New()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryBeginProcessing() {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Errorf("%d goroutines claimed the flag, want 1", won)
	}
}

func TestUpdateAll(t *testing.T) {
	s := New()
	_ = s.AddImages([]ImageRecord{record("a", 100, 80), record("b", 100, 80)})

	notifications := 0
	s.Subscribe(func(State) { notifications++ })

	err := s.UpdateAll(func(current []ImageRecord) []ImageRecord {
		for i, img := range current {
			if img.ID == "b" {
				current[i] = record("b", 100, 20)
			}
		}
		return append(current, record("c", 10, 5))
	})
	if err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}
	images := s.Snapshot().Images
	equalIDs(t, images, "a", "b", "c")
	if images[1].CompressedSize != 20 {
		t.Errorf("b not updated: %d", images[1].CompressedSize)
	}
	if notifications != 1 {
		t.Errorf("notifications = %d, want 1", notifications)
	}

	err = s.UpdateAll(func(current []ImageRecord) []ImageRecord {
		return append(current, record("a", 1, 1))
	})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	equalIDs(t, s.Snapshot().Images, "a", "b", "c")
	if _, ok := s.Image("c"); !ok {
		t.Error("id index out of sync after rejected update")
	}
}

func TestSubscribe_MutationDuringAnotherDelivery(t *testing.T) {
	s := New()
	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		mu  sync.Mutex
		got []int
	)
	s.Subscribe(func(state State) {
		mu.Lock()
		got = append(got, state.Quality)
		first := len(got) == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
	})

	done := make(chan struct{})
	go func() {
		_ = s.SetQuality(20)
		close(done)
	}()
	<-entered

	// returns while the first goroutine is still delivering
	if err := s.SetQuality(30); err != nil {
		t.Fatalf("SetQuality: %v", err)
	}
	mu.Lock()
	delivered := len(got)
	mu.Unlock()
	if delivered != 1 {
		t.Errorf("second mutation delivered by its own caller: %d notifications", delivered)
	}

	close(release)
	<-done
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != 20 || got[1] != 30 {
		t.Errorf("notifications = %v, want [20 30]", got)
	}
}
