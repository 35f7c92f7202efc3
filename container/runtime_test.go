package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
	"ocirt/linux"
	"ocirt/store"
)

type sentSignal struct {
	id  string
	sig unix.Signal
	all bool
}

// fakeLauncher stands in for the Engine. Its "init process" is the test
// process itself, and it exits when the test says so.
type fakeLauncher struct {
	mu        sync.Mutex
	createErr error
	startErr  error
	created   []string
	started   []string
	signals   []sentSignal
	destroyed []string
	exits     map[string]chan int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{exits: make(map[string]chan int)}
}

func (f *fakeLauncher) exitChan(id string) chan int {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.exits[id]
	if !ok {
		ch = make(chan int, 1)
		f.exits[id] = ch
	}
	return ch
}

// exit makes the container's process exit with status.
func (f *fakeLauncher) exit(id string, status int) {
	select {
	case f.exitChan(id) <- status:
	default:
	}
}

func (f *fakeLauncher) Create(_ context.Context, c *Container, _ *CreateOptions) (Launched, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return Launched{}, f.createErr
	}
	f.created = append(f.created, c.ID())
	c.owned = true
	start, err := linux.StartTime(linux.CurrentPid())
	if err != nil {
		return Launched{}, err
	}
	return Launched{Pid: os.Getpid(), PidStartTime: start, CgroupPath: "ocirt/" + c.ID()}, nil
}

func (f *fakeLauncher) Start(_ context.Context, c *Container) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, c.ID())
	return f.startErr
}

func (f *fakeLauncher) Signal(c *Container, sig unix.Signal, all bool) error {
	f.mu.Lock()
	f.signals = append(f.signals, sentSignal{c.ID(), sig, all})
	f.mu.Unlock()
	if sig == unix.SIGKILL {
		f.exit(c.ID(), 128+int(sig))
	}
	return nil
}

func (f *fakeLauncher) Wait(ctx context.Context, c *Container) (int, error) {
	select {
	case status := <-f.exitChan(c.ID()):
		return status, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (f *fakeLauncher) Destroy(c *Container) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, c.ID())
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeBundle(t *testing.T, s *config.Spec) string {
	t.Helper()
	dir := t.TempDir()
	if s == nil {
		s = config.Default()
	}
	if err := s.Save(filepath.Join(dir, config.ConfigFile)); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestRuntime(t *testing.T, st store.Store, l Launcher) *Runtime {
	t.Helper()
	r, err := NewRuntime(Options{
		Root:     t.TempDir(),
		Store:    st,
		Launcher: l,
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func waitStopped(t *testing.T, r *Runtime, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.Wait(ctx, id); err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
	st, err := r.State(id)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != config.StatusStopped {
		t.Fatalf("status after exit = %s, want stopped", st.Status)
	}
}

func TestLifecycle(t *testing.T) {
	f := newFakeLauncher()
	r := newTestRuntime(t, store.NewMemory(), f)
	ctx := context.Background()
	bundle := writeBundle(t, nil)

	st, err := r.Create(ctx, "web", bundle, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != config.StatusCreated || st.Pid != os.Getpid() || st.Bundle != bundle {
		t.Errorf("state after create = %+v", st)
	}

	if err := r.Start(ctx, "web"); err != nil {
		t.Fatal(err)
	}
	if st, _ := r.State("web"); st.Status != config.StatusRunning {
		t.Errorf("status after start = %s, want running", st.Status)
	}

	err = r.Start(ctx, "web")
	if !rterrors.IsKind(err, rterrors.ErrInvalidTransition) {
		t.Errorf("second Start = %v, want InvalidTransition", err)
	}
	if st, _ := r.State("web"); st.Status != config.StatusRunning {
		t.Errorf("failed start changed status to %s", st.Status)
	}
	if len(f.started) != 1 {
		t.Errorf("barrier released %d times, want 1", len(f.started))
	}

	err = r.Delete(ctx, "web", false)
	if !rterrors.IsKind(err, rterrors.ErrInvalidTransition) || !errors.Is(err, rterrors.ErrNotStopped) {
		t.Errorf("Delete of a running container = %v, want NotStopped", err)
	}

	f.exit("web", 3)
	status, err := r.Wait(ctx, "web")
	if err != nil || status != 3 {
		t.Errorf("Wait = %d, %v, want 3", status, err)
	}
	waitStopped(t, r, "web")
	if st, _ := r.State("web"); st.Pid != 0 {
		t.Errorf("stopped state has pid %d", st.Pid)
	}

	if err := r.Delete(ctx, "web", false); err != nil {
		t.Fatal(err)
	}
	if _, err := r.State("web"); !rterrors.IsKind(err, rterrors.ErrNotFound) {
		t.Errorf("State after Delete = %v, want NotFound", err)
	}
	if len(f.destroyed) != 1 {
		t.Errorf("destroyed = %v", f.destroyed)
	}
	if _, err := os.Stat(filepath.Join(r.Root(), "web")); !os.IsNotExist(err) {
		t.Errorf("state directory left behind: %v", err)
	}
}

// deleteFailStore fails Delete while err is set.
type deleteFailStore struct {
	store.Store
	err error
}

func (s *deleteFailStore) Delete(id string) error {
	if s.err != nil {
		return s.err
	}
	return s.Store.Delete(id)
}

func TestDeleteStoreFailureKeepsContainer(t *testing.T) {
	f := newFakeLauncher()
	st := &deleteFailStore{Store: store.NewMemory(), err: errors.New("disk gone")}
	r := newTestRuntime(t, st, f)
	ctx := context.Background()

	if _, err := r.Create(ctx, "web", writeBundle(t, nil), nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(ctx, "web"); err != nil {
		t.Fatal(err)
	}
	f.exit("web", 0)
	waitStopped(t, r, "web")

	r.mu.Lock()
	before := r.containers["web"]
	r.mu.Unlock()

	if err := r.Delete(ctx, "web", false); err == nil {
		t.Fatal("Delete succeeded with a failing store")
	}
	r.mu.Lock()
	after, ok := r.containers["web"]
	r.mu.Unlock()
	if !ok || after != before {
		t.Error("failed Delete dropped the container from the table")
	}
	if _, err := st.Store.Get("web"); err != nil {
		t.Errorf("record lost after failed Delete: %v", err)
	}

	st.err = nil
	if err := r.Delete(ctx, "web", false); err != nil {
		t.Fatal(err)
	}
	if _, err := r.State("web"); !rterrors.IsKind(err, rterrors.ErrNotFound) {
		t.Errorf("State after Delete = %v, want NotFound", err)
	}
}

func TestCreateStoresCompactConfig(t *testing.T) {
	r := newTestRuntime(t, store.NewMemory(), newFakeLauncher())
	if _, err := r.Create(context.Background(), "web", writeBundle(t, nil), nil); err != nil {
		t.Fatal(err)
	}
	recs, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("List = %d records, want 1", len(recs))
	}
	raw := recs[0].Config
	if !json.Valid(raw) {
		t.Fatalf("stored config is not JSON: %s", raw)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		t.Fatal(err)
	}
	if compact.String() != string(raw) {
		t.Errorf("stored config is not compact: %s", raw)
	}
}

func TestCreateDuplicateID(t *testing.T) {
	f := newFakeLauncher()
	r := newTestRuntime(t, store.NewMemory(), f)
	bundle := writeBundle(t, nil)

	if _, err := r.Create(context.Background(), "dup", bundle, nil); err != nil {
		t.Fatal(err)
	}
	_, err := r.Create(context.Background(), "dup", bundle, nil)
	if !rterrors.IsKind(err, rterrors.ErrDuplicateID) {
		t.Fatalf("second Create = %v, want DuplicateID", err)
	}
	list, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("List has %d records, want 1", len(list))
	}
	if len(f.created) != 1 {
		t.Errorf("launched %d processes, want 1", len(f.created))
	}
}

func TestConcurrentCreateSameID(t *testing.T) {
	f := newFakeLauncher()
	r := newTestRuntime(t, store.NewMemory(), f)
	bundle := writeBundle(t, nil)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create(context.Background(), "race", bundle, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case rterrors.IsKind(err, rterrors.ErrDuplicateID):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != n-1 {
		t.Errorf("%d creates succeeded and %d were duplicates", ok, dup)
	}
}

func TestConcurrentCreateDistinctIDs(t *testing.T) {
	r := newTestRuntime(t, store.NewMemory(), newFakeLauncher())
	bundle := writeBundle(t, nil)

	ids := []string{"a", "b", "c", "d", "e", "f"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := r.Create(context.Background(), id, bundle, nil); err != nil {
				t.Errorf("Create(%s): %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	list, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != len(ids) {
		t.Fatalf("List has %d records, want %d", len(list), len(ids))
	}
	for i, rec := range list {
		if rec.ID != ids[i] {
			t.Errorf("List[%d] = %s, want %s", i, rec.ID, ids[i])
		}
	}
}

func TestCreateFailureLeavesNoRecord(t *testing.T) {
	f := newFakeLauncher()
	f.createErr = rterrors.ErrNoMountNamespace
	r := newTestRuntime(t, store.NewMemory(), f)

	_, err := r.Create(context.Background(), "broken", writeBundle(t, nil), nil)
	if !rterrors.IsKind(err, rterrors.ErrCreateFailed) {
		t.Fatalf("Create = %v, want CreateFailed", err)
	}
	if !errors.Is(err, rterrors.ErrNoMountNamespace) {
		t.Errorf("cause lost: %v", err)
	}
	if _, err := r.State("broken"); !rterrors.IsKind(err, rterrors.ErrNotFound) {
		t.Errorf("State after failed Create = %v, want NotFound", err)
	}
	if _, err := os.Stat(filepath.Join(r.Root(), "broken")); !os.IsNotExist(err) {
		t.Errorf("state directory left behind: %v", err)
	}

	// The id is free again.
	f.createErr = nil
	if _, err := r.Create(context.Background(), "broken", writeBundle(t, nil), nil); err != nil {
		t.Errorf("Create after failure = %v", err)
	}
}

func TestCreateMissingConfig(t *testing.T) {
	r := newTestRuntime(t, store.NewMemory(), newFakeLauncher())
	_, err := r.Create(context.Background(), "empty", t.TempDir(), nil)
	if !rterrors.IsKind(err, rterrors.ErrCreateFailed) || !errors.Is(err, rterrors.ErrMissingConfig) {
		t.Errorf("Create without config.json = %v", err)
	}
}

func TestCreateInvalidID(t *testing.T) {
	r := newTestRuntime(t, store.NewMemory(), newFakeLauncher())
	for _, id := range []string{"", "../escape", "a b"} {
		if _, err := r.Create(context.Background(), id, writeBundle(t, nil), nil); !rterrors.IsKind(err, rterrors.ErrInvalidValue) {
			t.Errorf("Create(%q) = %v, want InvalidValue", id, err)
		}
	}
}

func TestKill(t *testing.T) {
	f := newFakeLauncher()
	r := newTestRuntime(t, store.NewMemory(), f)
	if _, err := r.Create(context.Background(), "k", writeBundle(t, nil), nil); err != nil {
		t.Fatal(err)
	}

	if err := r.Kill("k", unix.SIGTERM, false); err != nil {
		t.Fatal(err)
	}
	if err := r.Kill("k", unix.SIGUSR1, true); err != nil {
		t.Fatal(err)
	}
	want := []sentSignal{{"k", unix.SIGTERM, false}, {"k", unix.SIGUSR1, true}}
	if len(f.signals) != len(want) {
		t.Fatalf("signals = %v, want %v", f.signals, want)
	}
	for i := range want {
		if f.signals[i] != want[i] {
			t.Errorf("signal %d = %v, want %v", i, f.signals[i], want[i])
		}
	}
	// Kill does not change the status by itself.
	if st, _ := r.State("k"); st.Status != config.StatusCreated {
		t.Errorf("status after kill = %s, want created", st.Status)
	}

	f.exit("k", 0)
	waitStopped(t, r, "k")
	err := r.Kill("k", unix.SIGTERM, false)
	if !rterrors.IsKind(err, rterrors.ErrInvalidTransition) || !errors.Is(err, rterrors.ErrNotLive) {
		t.Errorf("Kill of a stopped container = %v, want NotLive", err)
	}

	if err := r.Kill("nope", unix.SIGTERM, false); !rterrors.IsKind(err, rterrors.ErrNotFound) {
		t.Errorf("Kill of a missing container = %v, want NotFound", err)
	}
}

func TestDeleteForce(t *testing.T) {
	f := newFakeLauncher()
	r := newTestRuntime(t, store.NewMemory(), f)
	ctx := context.Background()
	if _, err := r.Create(ctx, "f", writeBundle(t, nil), nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(ctx, "f"); err != nil {
		t.Fatal(err)
	}

	if err := r.Delete(ctx, "f", true); err != nil {
		t.Fatal(err)
	}
	if len(f.signals) != 1 || f.signals[0] != (sentSignal{"f", unix.SIGKILL, true}) {
		t.Errorf("signals = %v, want one SIGKILL to all", f.signals)
	}
	if _, err := r.State("f"); !rterrors.IsKind(err, rterrors.ErrNotFound) {
		t.Errorf("State after forced Delete = %v, want NotFound", err)
	}
}

func TestStartNotCreated(t *testing.T) {
	r := newTestRuntime(t, store.NewMemory(), newFakeLauncher())
	if err := r.Start(context.Background(), "ghost"); !rterrors.IsKind(err, rterrors.ErrNotFound) {
		t.Errorf("Start of a missing container = %v, want NotFound", err)
	}
}

func TestRunDeletesOnStartFailure(t *testing.T) {
	f := newFakeLauncher()
	f.startErr = errors.New("container process exited before start")
	r := newTestRuntime(t, store.NewMemory(), f)

	_, err := r.Run(context.Background(), "r", writeBundle(t, nil), nil)
	if err == nil {
		t.Fatal("Run succeeded")
	}
	if _, err := r.State("r"); !rterrors.IsKind(err, rterrors.ErrNotFound) {
		t.Errorf("State after failed Run = %v, want NotFound", err)
	}
}

func TestRunStarts(t *testing.T) {
	r := newTestRuntime(t, store.NewMemory(), newFakeLauncher())
	st, err := r.Run(context.Background(), "ok", writeBundle(t, nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != config.StatusRunning {
		t.Errorf("status after Run = %s, want running", st.Status)
	}
}

func TestPoststartHook(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	out := filepath.Join(t.TempDir(), "state.json")
	s := config.Default()
	s.Hooks.Poststart = []config.Hook{{Path: "/bin/sh", Args: []string{"sh", "-c", `IFS= read -r line; printf '%s' "$line" > ` + out}}}

	r := newTestRuntime(t, store.NewMemory(), newFakeLauncher())
	if _, err := r.Run(context.Background(), "hooked", writeBundle(t, s), nil); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var st struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if st.ID != "hooked" || st.Status != "running" {
		t.Errorf("hook saw state %+v", st)
	}
}

func TestAdoptFromStore(t *testing.T) {
	st := store.NewMemory()
	f := newFakeLauncher()
	first := newTestRuntime(t, st, f)
	ctx := context.Background()
	if _, err := first.Run(ctx, "live", writeBundle(t, nil), nil); err != nil {
		t.Fatal(err)
	}
	dead := &store.Record{
		ID:     "dead",
		Bundle: t.TempDir(),
		Status: config.StatusRunning,
		// Beyond any pid_max.
		Pid:     1 << 30,
		Created: time.Now(),
		Config:  []byte(`{"ociVersion":"1.2.0","root":{"path":"rootfs"},"process":{"args":["sh"]}}`),
	}
	if err := st.Create(dead); err != nil {
		t.Fatal(err)
	}

	// A second runtime over the same store sees what the first left.
	second := newTestRuntime(t, st, newFakeLauncher())
	s, err := second.State("live")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != config.StatusRunning {
		t.Errorf("adopted live container is %s, want running", s.Status)
	}
	s, err = second.State("dead")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != config.StatusStopped {
		t.Errorf("adopted dead container is %s, want stopped", s.Status)
	}
	rec, err := st.Get("dead")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != config.StatusStopped {
		t.Errorf("stored status = %s, want stopped", rec.Status)
	}
	if err := second.Delete(ctx, "dead", false); err != nil {
		t.Errorf("Delete of the stopped container = %v", err)
	}
	if err := second.Recover(); err != nil {
		t.Fatal(err)
	}
}
