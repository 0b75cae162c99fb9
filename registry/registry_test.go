package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	lodelibrary "github.com/justapithecus/lode/lode"

	"github.com/justapithecus/edman/lode"
	"github.com/justapithecus/edman/metrics"
	"github.com/justapithecus/edman/types"
)

var testFiles = types.Config{
	DownloadDirectory:    "/home/u/Downloads",
	DownloadSubdirectory: "edman",
	SaveFileDirectory:    "/data/library",
	AllowedOrigins:       []string{"chrome-extension://abc/"},
}

func memoryStore(t *testing.T, mem lodelibrary.Store) *lode.Store {
	t.Helper()
	s, err := lode.NewStore("edman", func() (lodelibrary.Store, error) { return mem, nil }, "memory")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func startRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = memoryStore(t, lodelibrary.NewMemory())
	}
	if cfg.Files.SaveFileDirectory == "" {
		cfg.Files = testFiles
	}
	r := New(cfg)
	if err := r.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

type failingStore struct {
	files    []types.FileRecord
	loadErr  error
	writeErr error
}

func (s *failingStore) LoadFiles(context.Context) ([]types.FileRecord, error) {
	return s.files, s.loadErr
}

func (s *failingStore) AppendFile(context.Context, types.FileRecord) error {
	return s.writeErr
}

type recordingAdapter struct {
	mu     sync.Mutex
	events []types.FileRegisteredEvent
	err    error
	delay  time.Duration
	closed bool
}

func (a *recordingAdapter) Publish(ctx context.Context, e *types.FileRegisteredEvent) error {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, *e)
	return a.err
}

func (a *recordingAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func TestRegistry_GetConfig(t *testing.T) {
	r := startRegistry(t, Config{})
	cfg, err := r.GetConfig(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SaveFileDirectory != "/data/library" || len(cfg.AllowedOrigins) != 1 {
		t.Errorf("GetConfig = %+v", cfg)
	}
}

func TestRegistry_RegisterAndStates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := metrics.NewCollector("unix", "memory", "")
	r := startRegistry(t, Config{Collector: c, Now: func() time.Time { return now }})
	ctx := t.Context()

	for i, key := range []string{"a", "b"} {
		res, err := r.RegisterFile(ctx, "course/"+key+".pdf", key)
		if err != nil {
			t.Fatalf("RegisterFile(%s): %v", key, err)
		}
		if res.ID != int64(i+1) {
			t.Errorf("RegisterFile(%s) id = %d, want %d", key, res.ID, i+1)
		}
	}

	states, err := r.GetFileStates(ctx, []string{"b", "x", "a", "a"})
	if err != nil {
		t.Fatal(err)
	}
	want := []bool{true, false, true, true}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("GetFileStates = %v, want %v", states, want)
		}
	}

	if got := c.Snapshot().FilesRegistered; got != 2 {
		t.Errorf("FilesRegistered = %d, want 2", got)
	}
}

func TestRegistry_EmptyQuery(t *testing.T) {
	r := startRegistry(t, Config{})
	states, err := r.GetFileStates(t.Context(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 0 {
		t.Errorf("states = %v, want empty", states)
	}
}

func TestRegistry_DuplicateKey(t *testing.T) {
	r := startRegistry(t, Config{})
	if _, err := r.RegisterFile(t.Context(), "a.pdf", "k"); err != nil {
		t.Fatal(err)
	}
	_, err := r.RegisterFile(t.Context(), "other.pdf", "k")
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
	if err.Error() != "Unique key violation" {
		t.Errorf("message = %q", err.Error())
	}

	// The rejected call must not consume an id.
	res, err := r.RegisterFile(t.Context(), "b.pdf", "k2")
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != 2 {
		t.Errorf("next id = %d, want 2", res.ID)
	}
}

func TestRegistry_RebuildsIndexOnStart(t *testing.T) {
	mem := lodelibrary.NewMemory()

	first := startRegistry(t, Config{Store: memoryStore(t, mem)})
	for _, key := range []string{"a", "b", "c"} {
		if _, err := first.RegisterFile(t.Context(), key+".pdf", key); err != nil {
			t.Fatal(err)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := startRegistry(t, Config{Store: memoryStore(t, mem)})
	states, err := second.GetFileStates(t.Context(), []string{"a", "c", "d"})
	if err != nil {
		t.Fatal(err)
	}
	if !states[0] || !states[1] || states[2] {
		t.Errorf("states after restart = %v, want [true true false]", states)
	}
	if _, err := second.RegisterFile(t.Context(), "a.pdf", "a"); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("re-registering a stored key: err = %v", err)
	}
	res, err := second.RegisterFile(t.Context(), "d.pdf", "d")
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != 4 {
		t.Errorf("id after restart = %d, want 4", res.ID)
	}
}

func TestRegistry_StartContinuesAfterHighestID(t *testing.T) {
	store := &failingStore{files: []types.FileRecord{{ID: 9, Key: "x"}, {ID: 3, Key: "y"}}}
	r := startRegistry(t, Config{Store: store})
	res, err := r.RegisterFile(t.Context(), "z.pdf", "z")
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != 10 {
		t.Errorf("id = %d, want 10", res.ID)
	}
}

func TestRegistry_StoreFailureLeavesIndexUnchanged(t *testing.T) {
	store := &failingStore{writeErr: errors.New("disk full")}
	adapter := &recordingAdapter{}
	r := startRegistry(t, Config{Store: store, Adapter: adapter})

	_, err := r.RegisterFile(t.Context(), "a.pdf", "a")
	if err == nil || !errors.Is(err, store.writeErr) {
		t.Fatalf("err = %v, want the store error", err)
	}

	states, err := r.GetFileStates(t.Context(), []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	if states[0] {
		t.Error("key indexed after a failed store write")
	}

	store.writeErr = nil
	res, err := r.RegisterFile(t.Context(), "a.pdf", "a")
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != 1 {
		t.Errorf("id after recovery = %d, want 1", res.ID)
	}

	_ = r.Close()
	if len(adapter.events) != 1 {
		t.Errorf("published %d events, want 1 (failed writes are not announced)", len(adapter.events))
	}
}

func TestRegistry_StartFailsOnLoadError(t *testing.T) {
	r := New(Config{Files: testFiles, Store: &failingStore{loadErr: errors.New("bucket missing")}})
	defer func() { _ = r.Close() }()
	if err := r.Start(t.Context()); err == nil {
		t.Fatal("Start succeeded with a failing store")
	}
}

func TestRegistry_ConcurrentRegistrationsGetUniqueIDs(t *testing.T) {
	r := startRegistry(t, Config{})

	const n = 50
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.RegisterFile(t.Context(), fmt.Sprintf("f%d.pdf", i), fmt.Sprintf("k%d", i))
			if err != nil {
				t.Errorf("RegisterFile: %v", err)
				return
			}
			ids[i] = res.ID
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, id := range ids {
		if id < 1 || id > n || seen[id] {
			t.Fatalf("ids = %v, want a permutation of 1..%d", ids, n)
		}
		seen[id] = true
	}
}

func TestRegistry_PublishesEvents(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &recordingAdapter{delay: 20 * time.Millisecond}
	c := metrics.NewCollector("unix", "memory", "recording")
	r := New(Config{
		Files:     testFiles,
		Store:     memoryStore(t, lodelibrary.NewMemory()),
		Adapter:   a,
		Collector: c,
		Now:       func() time.Time { return now },
	})
	if err := r.Start(t.Context()); err != nil {
		t.Fatal(err)
	}

	if _, err := r.RegisterFile(t.Context(), "physics/lecture.pdf", "course:42"); err != nil {
		t.Fatal(err)
	}
	// Close waits for the in-flight publish.
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	if len(a.events) != 1 {
		t.Fatalf("events = %d, want 1", len(a.events))
	}
	e := a.events[0]
	if e.ID != 1 || e.Key != "course:42" || e.Path != "physics/lecture.pdf" || !e.RegisteredAt.Equal(now) {
		t.Errorf("event = %+v", e)
	}
	if !a.closed {
		t.Error("adapter not closed")
	}
	if got := c.Snapshot().PublishSuccess; got != 1 {
		t.Errorf("PublishSuccess = %d, want 1", got)
	}
}

func TestRegistry_PublishFailureDoesNotFailRegistration(t *testing.T) {
	a := &recordingAdapter{err: errors.New("webhook down")}
	c := metrics.NewCollector("unix", "memory", "recording")
	r := New(Config{Files: testFiles, Store: memoryStore(t, lodelibrary.NewMemory()), Adapter: a, Collector: c})
	if err := r.Start(t.Context()); err != nil {
		t.Fatal(err)
	}

	if _, err := r.RegisterFile(t.Context(), "a.pdf", "a"); err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	_ = r.Close()
	if got := c.Snapshot().PublishFailure; got != 1 {
		t.Errorf("PublishFailure = %d, want 1", got)
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := New(Config{Files: testFiles, Store: memoryStore(t, lodelibrary.NewMemory())})
	if _, err := r.GetFileStates(t.Context(), []string{"a"}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("before Start: err = %v, want ErrNotStarted", err)
	}
	if err := r.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(t.Context()); err == nil {
		t.Error("second Start succeeded")
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := r.RegisterFile(t.Context(), "a.pdf", "a"); !errors.Is(err, ErrClosed) {
		t.Errorf("after Close: err = %v, want ErrClosed", err)
	}
	if _, err := r.GetConfig(t.Context()); !errors.Is(err, ErrClosed) {
		t.Errorf("GetConfig after Close: err = %v, want ErrClosed", err)
	}
}

func TestRegistry_CloseBeforeStart(t *testing.T) {
	r := New(Config{Files: testFiles, Store: &failingStore{}})
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(t.Context()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close: err = %v, want ErrClosed", err)
	}
}
