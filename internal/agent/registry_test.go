package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/config"
	"github.com/basket/forager/internal/coord"
	"github.com/basket/forager/internal/scheduler"
	"github.com/basket/forager/internal/world"
)

type fakeConn struct {
	caps []string

	mu      sync.Mutex
	actions []world.Action

	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(caps ...string) *fakeConn {
	return &fakeConn{caps: caps, done: make(chan struct{}), closed: make(chan struct{})}
}

func (f *fakeConn) Snapshot() world.Snapshot {
	return world.Snapshot{Health: 20, Food: 20, TimeOfDay: 1000}
}

func (f *fakeConn) Connected() bool {
	select {
	case <-f.closed:
		return false
	default:
		return true
	}
}

func (f *fakeConn) Do(_ context.Context, a world.Action) (world.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
	return world.Reply{ID: a.ID, Success: true}, nil
}

func (f *fakeConn) Capabilities() []string { return f.caps }
func (f *fakeConn) Done() <-chan struct{}  { return f.done }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) sent() []world.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]world.Action(nil), f.actions...)
}

type dialer struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
	err   error
}

func (d *dialer) dial(_ context.Context, cfg config.AgentConfig) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn("move_to", "gather_wood", "mine", "evade", "dance")
	if d.conns == nil {
		d.conns = make(map[string]*fakeConn)
	}
	d.conns[cfg.ID] = c
	return c, nil
}

func (d *dialer) conn(id string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[id]
}

func setupTestRegistry(t *testing.T) (*Registry, *dialer) {
	t.Helper()
	tuning := scheduler.DefaultTuning()
	tuning.BaseDelay = 10 * time.Millisecond
	d := &dialer{}
	reg := NewRegistry(Deps{
		Bus:    bus.New(),
		Claims: coord.New(time.Now),
		Tuning: tuning,
		Dial:   d.dial,
	})
	t.Cleanup(func() { reg.DrainAll(time.Second) })
	return reg, d
}

func TestCreateAgent(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	if err := reg.CreateAgent(context.Background(), config.AgentConfig{ID: "steve"}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	ra := reg.GetAgent("steve")
	if ra == nil {
		t.Fatal("agent not found in registry")
	}
	if ra.Scheduler.AgentID() != "steve" {
		t.Fatalf("scheduler agent = %q, want steve", ra.Scheduler.AgentID())
	}
	if ra.StartedAt().IsZero() {
		t.Fatal("expected start time to be set")
	}
}

func TestCreateAgent_SkipsUnknownActionsAndWiresEvade(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	if err := reg.CreateAgent(context.Background(), config.AgentConfig{ID: "alex"}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	ra := reg.GetAgent("alex")
	got := map[string]bool{}
	for _, s := range ra.Skipped {
		got[s] = true
	}
	if !got["evade"] || !got["dance"] || len(ra.Skipped) != 2 {
		t.Fatalf("skipped = %v, want evade and dance", ra.Skipped)
	}
}

func TestCreateAgentDuplicate(t *testing.T) {
	reg, _ := setupTestRegistry(t)
	ctx := context.Background()

	cfg := config.AgentConfig{ID: "dup"}
	if err := reg.CreateAgent(ctx, cfg); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := reg.CreateAgent(ctx, cfg); err == nil {
		t.Fatal("expected error on duplicate, got nil")
	}
}

func TestCreateAgentEmptyID(t *testing.T) {
	reg, _ := setupTestRegistry(t)
	if err := reg.CreateAgent(context.Background(), config.AgentConfig{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestCreateAgentDialError(t *testing.T) {
	reg, d := setupTestRegistry(t)
	d.err = errors.New("connection refused")

	err := reg.CreateAgent(context.Background(), config.AgentConfig{ID: "steve"})
	if err == nil || !errors.Is(err, d.err) {
		t.Fatalf("expected wrapped dial error, got %v", err)
	}
	if reg.GetAgent("steve") != nil {
		t.Fatal("failed agent should not be registered")
	}
}

func TestRemoveAgent(t *testing.T) {
	reg, d := setupTestRegistry(t)
	ctx := context.Background()

	if err := reg.CreateAgent(ctx, config.AgentConfig{ID: "steve"}); err != nil {
		t.Fatal(err)
	}
	ra := reg.GetAgent("steve")
	if err := reg.RemoveAgent(ctx, "steve", 2*time.Second); err != nil {
		t.Fatalf("RemoveAgent: %v", err)
	}
	select {
	case <-ra.Scheduler.Done():
	default:
		t.Fatal("scheduler still running after RemoveAgent")
	}
	select {
	case <-d.conn("steve").closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed after removal")
	}
	if reg.GetAgent("steve") != nil {
		t.Fatal("agent still registered")
	}
	if err := reg.RemoveAgent(ctx, "steve", time.Second); err == nil {
		t.Fatal("expected error removing unknown agent")
	}
}

func TestListRunningAgentsSorted(t *testing.T) {
	reg, _ := setupTestRegistry(t)
	ctx := context.Background()
	for _, id := range []string{"zed", "alex", "mia"} {
		if err := reg.CreateAgent(ctx, config.AgentConfig{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	agents := reg.ListRunningAgents()
	if len(agents) != 3 || agents[0].Config.ID != "alex" || agents[2].Config.ID != "zed" {
		t.Fatalf("unexpected order: %v", agents)
	}
	if sts := reg.Statuses(); len(sts) != 3 || sts[1].AgentID != "mia" {
		t.Fatalf("unexpected statuses: %+v", sts)
	}
	if s := reg.Schedulers(); len(s) != 3 {
		t.Fatalf("expected 3 schedulers, got %d", len(s))
	}
}

func TestDrainAll(t *testing.T) {
	reg, _ := setupTestRegistry(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := reg.CreateAgent(ctx, config.AgentConfig{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	reg.DrainAll(2 * time.Second)
	for _, ra := range reg.ListRunningAgents() {
		select {
		case <-ra.Scheduler.Done():
		default:
			t.Fatalf("agent %s still running after DrainAll", ra.Config.ID)
		}
	}
}

func TestReconcile(t *testing.T) {
	reg, _ := setupTestRegistry(t)
	ctx := context.Background()
	for _, id := range []string{"keep", "drop"} {
		if err := reg.CreateAgent(ctx, config.AgentConfig{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	tuning := scheduler.DefaultTuning()
	tuning.BaseDelay = 20 * time.Millisecond
	res := reg.Reconcile(ctx, []config.AgentConfig{{ID: "keep"}, {ID: "new"}}, tuning, 2*time.Second)

	if res.Retuned != 1 {
		t.Fatalf("retuned = %d, want 1", res.Retuned)
	}
	if len(res.Removed) != 1 || res.Removed[0] != "drop" {
		t.Fatalf("removed = %v, want [drop]", res.Removed)
	}
	if len(res.Started) != 1 || res.Started[0] != "new" {
		t.Fatalf("started = %v, want [new]", res.Started)
	}
	if len(res.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", res.Failed)
	}
	if reg.GetAgent("drop") != nil || reg.GetAgent("new") == nil {
		t.Fatal("registry does not match reconciled config")
	}
}

func TestChatAnnouncer(t *testing.T) {
	conn := newFakeConn()
	ChatAnnouncer{Handle: conn}.Announce(context.Background(), "steve", "Collected 5 wood")

	sent := conn.sent()
	if len(sent) != 1 || sent[0].Name != "chat" || sent[0].Params["message"] != "Collected 5 wood" {
		t.Fatalf("unexpected actions: %+v", sent)
	}

	_ = conn.Close()
	ChatAnnouncer{Handle: conn}.Announce(context.Background(), "steve", "ignored")
	if len(conn.sent()) != 1 {
		t.Fatal("announcer should skip a disconnected handle")
	}
}
