package hypervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustURI(t *testing.T, raw string) *URI {
	t.Helper()
	u, err := ParseURI(raw)
	if err != nil {
		t.Fatalf("ParseURI(%q) returned error: %v", raw, err)
	}
	return u
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnection_OpenActivates(t *testing.T) {
	conn := NewConnection(mustURI(t, "test:///default"), nil)

	states := make(chan State, 8)
	conn.OnStateChanged(func() { states <- conn.currentState() })

	var gotTick PollParams
	tickFired := make(chan struct{}, 1)
	conn.OnPriorityTick(func(p PollParams) {
		gotTick = p
		select {
		case tickFired <- struct{}{}:
		default:
		}
	})

	if !conn.IsDisconnected() {
		t.Fatal("new connection should start disconnected")
	}
	conn.Open(context.Background())

	if s := <-states; s != StateConnecting {
		t.Fatalf("first state change = %v, want connecting", s)
	}
	if s := <-states; s != StateActive {
		t.Fatalf("second state change = %v, want active", s)
	}

	<-tickFired
	if !gotTick.StatsUpdate || !gotTick.PollVMs {
		t.Fatalf("activation tick params = %+v, want full poll", gotTick)
	}

	// Opening an already-open connection is a no-op.
	conn.Open(context.Background())
	select {
	case s := <-states:
		t.Fatalf("unexpected state change %v after redundant Open", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnection_OpenFailureReportsError(t *testing.T) {
	conn := NewConnection(mustURI(t, "test:///nosuch"), nil)

	errs := make(chan ConnectError, 1)
	conn.OnConnectError(func(e ConnectError) { errs <- e })

	conn.Open(context.Background())

	e := <-errs
	if !strings.Contains(e.Msg, "test:///nosuch") {
		t.Errorf("error msg = %q, want it to name the uri", e.Msg)
	}
	if !strings.Contains(e.Details, "unknown test instance") {
		t.Errorf("error details = %q, want driver diagnostic", e.Details)
	}
	waitFor(t, "disconnected state", conn.IsDisconnected)
}

func TestConnection_UnknownSchemeReportsError(t *testing.T) {
	conn := NewConnection(mustURI(t, "vbox:///session"), nil)

	errs := make(chan ConnectError, 1)
	conn.OnConnectError(func(e ConnectError) { errs <- e })

	conn.Open(context.Background())

	e := <-errs
	if !strings.Contains(e.Details, "no driver registered") {
		t.Errorf("error details = %q, want unregistered-scheme diagnostic", e.Details)
	}
}

func openShared(t *testing.T, scheme string) (*Connection, *TestDriver) {
	t.Helper()
	drv := NewTestDriver(mustURI(t, "test:///default"))
	RegisterDriver(scheme, func(u *URI) Driver { return drv })

	conn := NewConnection(mustURI(t, scheme+":///default"), nil)
	conn.Open(context.Background())
	waitFor(t, "active state", conn.IsActive)
	return conn, drv
}

func TestConnection_OpenPopulatesGuests(t *testing.T) {
	conn, _ := openShared(t, "testopen")

	// The initial poll runs before the active state is announced, so
	// the predefined guest is already known here.
	vm, ok := conn.GetVM("test")
	if !ok {
		t.Fatal("GetVM(test) not found after open")
	}
	if vm.RunState() != DomainRunning {
		t.Errorf("vm state = %v, want running", vm.RunState())
	}
	if vm.Stats().SampledAt.IsZero() {
		t.Error("vm stats not sampled by initial poll")
	}
	if info, ok := conn.HostInfo(); !ok || info.Hostname == "" {
		t.Errorf("HostInfo = %+v ok=%v, want populated", info, ok)
	}
}

func TestConnection_TickDiscoversAndRemovesVMs(t *testing.T) {
	conn, drv := openShared(t, "testtick")

	var added, removed []string
	conn.OnVMAdded(func(key string) { added = append(added, key) })
	conn.OnVMRemoved(func(key string) { removed = append(removed, key) })

	drv.AddDomain(DomainRecord{ID: 2, Name: "extra", UUID: uuid.New(), State: DomainShutoff})
	if err := conn.TickFromEngine(context.Background(), PollParams{PollVMs: true}); err != nil {
		t.Fatalf("TickFromEngine returned error: %v", err)
	}
	if len(added) != 1 || added[0] != "extra" {
		t.Fatalf("added = %v, want [extra]", added)
	}
	if got := conn.ListVMs(); len(got) != 2 {
		t.Fatalf("ListVMs = %d entries, want 2", len(got))
	}

	drv.RemoveDomain("test")
	drv.RemoveDomain("extra")
	if err := conn.TickFromEngine(context.Background(), PollParams{PollVMs: true}); err != nil {
		t.Fatalf("TickFromEngine returned error: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %v, want both guests", removed)
	}
	if got := conn.ListVMs(); len(got) != 0 {
		t.Fatalf("ListVMs after removal = %d entries, want 0", len(got))
	}
}

func TestConnection_TickDetectsRename(t *testing.T) {
	conn, drv := openShared(t, "testrename")

	if err := conn.TickFromEngine(context.Background(), PollParams{PollVMs: true}); err != nil {
		t.Fatalf("initial poll returned error: %v", err)
	}
	before, _ := conn.GetVM("test")

	var renames []Rename
	var added, removed []string
	conn.OnVMRenamed(func(r Rename) { renames = append(renames, r) })
	conn.OnVMAdded(func(key string) { added = append(added, key) })
	conn.OnVMRemoved(func(key string) { removed = append(removed, key) })

	drv.RenameDomain("test", "renamed")
	if err := conn.TickFromEngine(context.Background(), PollParams{PollVMs: true}); err != nil {
		t.Fatalf("TickFromEngine returned error: %v", err)
	}

	if len(renames) != 1 || renames[0] != (Rename{OldKey: "test", NewKey: "renamed"}) {
		t.Fatalf("renames = %v, want one test->renamed", renames)
	}
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("rename produced add/remove events: added=%v removed=%v", added, removed)
	}
	after, ok := conn.GetVM("renamed")
	if !ok {
		t.Fatal("GetVM(renamed) not found after rename")
	}
	if after != before {
		t.Error("rename should move the existing record, not rebuild it")
	}
	if _, ok := conn.GetVM("test"); ok {
		t.Error("old key still resolves after rename")
	}
}

func TestConnection_TickSkipsInactive(t *testing.T) {
	conn := NewConnection(mustURI(t, "test:///default"), nil)
	if err := conn.TickFromEngine(context.Background(), PollParams{PollVMs: true}); err != nil {
		t.Fatalf("tick on disconnected conn = %v, want nil", err)
	}
}

func TestConnection_CloseResets(t *testing.T) {
	conn, _ := openShared(t, "testclose")
	if err := conn.TickFromEngine(context.Background(), PollParams{PollVMs: true}); err != nil {
		t.Fatalf("TickFromEngine returned error: %v", err)
	}

	changed := make(chan struct{}, 1)
	conn.OnStateChanged(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	conn.Close()
	<-changed
	if !conn.IsDisconnected() {
		t.Error("connection still not disconnected after Close")
	}
	if got := conn.ListVMs(); len(got) != 0 {
		t.Errorf("ListVMs after Close = %d entries, want 0", len(got))
	}
}

func TestConnection_AutoconnectFlag(t *testing.T) {
	conn := NewConnection(mustURI(t, "test:///default"), nil)
	if conn.Autoconnect() {
		t.Error("autoconnect should default to false")
	}
	conn.SetAutoconnect(true)
	if !conn.Autoconnect() {
		t.Error("SetAutoconnect(true) not observed")
	}
}

func TestConnection_UnsubscribeStopsDelivery(t *testing.T) {
	conn := NewConnection(mustURI(t, "test:///default"), nil)
	calls := 0
	off := conn.OnPriorityTick(func(PollParams) { calls++ })
	conn.RequestPriorityTick(PollParams{})
	off()
	conn.RequestPriorityTick(PollParams{})
	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
}

func TestTestDriver_StateOverride(t *testing.T) {
	drv := NewTestDriver(mustURI(t, "test:///default"))
	if err := drv.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	drv.AddDomain(DomainRecord{ID: -1, Name: "idle", UUID: uuid.New(), State: DomainShutoff})
	drv.SetDomainState("idle", DomainRunning)

	records, err := drv.Domains(context.Background())
	if err != nil {
		t.Fatalf("Domains returned error: %v", err)
	}
	var found bool
	for _, rec := range records {
		if rec.Name == "idle" && rec.State == DomainRunning {
			found = true
		}
	}
	if !found {
		t.Fatalf("records = %v, want idle running", records)
	}
}
