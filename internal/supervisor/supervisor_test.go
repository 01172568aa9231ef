package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rdfitted/hive-manager/internal/cliprofile"
	"github.com/rdfitted/hive-manager/internal/event"
	"github.com/rdfitted/hive-manager/internal/hive"
	"github.com/rdfitted/hive-manager/internal/logging"
	"github.com/rdfitted/hive-manager/internal/process"
)

type fakePty struct {
	mu      sync.Mutex
	output  chan []byte
	writes  bytes.Buffer
	resizes []string
	closed  chan struct{}
	once    sync.Once
}

func newFakePty() *fakePty {
	return &fakePty{
		output: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *fakePty) Read(data []byte) (int, error) {
	select {
	case chunk, ok := <-p.output:
		if !ok {
			return 0, io.EOF
		}
		return copy(data, chunk), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePty) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes.Write(data)
}

func (p *fakePty) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePty) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resizes = append(p.resizes, "resize")
	return nil
}

func (p *fakePty) emit(text string) {
	p.output <- []byte(text)
}

func (p *fakePty) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes.String()
}

type fakeFactory struct {
	mu    sync.Mutex
	ptys  map[string]*fakePty
	specs []StartSpec
	err   error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{ptys: make(map[string]*fakePty)}
}

func (f *fakeFactory) Start(spec StartSpec) (Pty, *exec.Cmd, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	pty := newFakePty()
	f.specs = append(f.specs, spec)
	f.ptys[spec.Command] = pty
	return pty, nil, nil
}

type statusRecord struct {
	agentID string
	status  hive.AgentStatus
}

func newTestSupervisor(t *testing.T, factory PtyFactory) (*Supervisor, chan statusRecord) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	bus := event.NewBus[event.Event](ctx, event.BusOptions{Name: "test"})
	t.Cleanup(bus.Close)
	statuses := make(chan statusRecord, 32)
	sup := New(Options{
		Factory:  factory,
		Registry: process.NewRegistry(),
		Bus:      bus,
		Logger:   logging.NewLogger(logging.LevelError),
		OnStatus: func(sessionID, agentID string, status hive.AgentStatus) {
			statuses <- statusRecord{agentID: agentID, status: status}
		},
	})
	return sup, statuses
}

func waitForStatus(t *testing.T, statuses chan statusRecord, kind hive.StatusKind) statusRecord {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case rec := <-statuses:
			if rec.status.Kind == kind {
				return rec
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s status", kind)
		}
	}
}

func markerProfile() cliprofile.Profile {
	return cliprofile.Profile{
		Name:     "fakecli",
		Command:  "fakecli",
		Behavior: cliprofile.BehaviorInstructionFollowing,
	}
}

func TestSpawnRunsAndCompletesOnMarker(t *testing.T) {
	factory := newFakeFactory()
	sup, statuses := newTestSupervisor(t, factory)

	_, err := sup.Spawn(context.Background(), SpawnSpec{
		SessionID: "sess",
		AgentID:   "sess-worker-0",
		Profile:   markerProfile(),
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !sup.Running("sess-worker-0") {
		t.Fatal("agent should be running after spawn")
	}

	pty := factory.ptys["fakecli"]
	pty.emit("starting up\n")
	waitForStatus(t, statuses, hive.StatusRunning)

	pty.emit("HIVE_STATUS: COMPLETED\n")
	waitForStatus(t, statuses, hive.StatusCompleted)

	status, err := sup.Status("sess-worker-0")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Kind != hive.StatusCompleted {
		t.Fatalf("status = %s, want completed", status.Kind)
	}

	// Inferred statuses must not regress a terminal one.
	pty.emit("Apply changes? [y/n]\n")
	time.Sleep(50 * time.Millisecond)
	status, _ = sup.Status("sess-worker-0")
	if status.Kind != hive.StatusCompleted {
		t.Fatalf("status regressed to %s", status.Kind)
	}
}

func TestSpawnPublishesOutputEvents(t *testing.T) {
	factory := newFakeFactory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := event.NewBus[event.Event](ctx, event.BusOptions{Name: "test"})
	defer bus.Close()
	sup := New(Options{
		Factory:  factory,
		Registry: process.NewRegistry(),
		Bus:      bus,
		Logger:   logging.NewLogger(logging.LevelError),
	})

	events, cancelSub := bus.SubscribeTypes(event.TypePtyOutput)
	defer cancelSub()

	if _, err := sup.Spawn(context.Background(), SpawnSpec{
		SessionID: "sess",
		AgentID:   "sess-queen",
		Profile:   markerProfile(),
	}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	factory.ptys["fakecli"].emit("hello from queen\n")

	select {
	case evt := <-events:
		pe, ok := evt.(event.PtyEvent)
		if !ok {
			t.Fatalf("event type %T", evt)
		}
		if pe.AgentID != "sess-queen" || !strings.Contains(pe.Data, "hello from queen") {
			t.Fatalf("unexpected event %+v", pe)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no pty-output event")
	}
}

func TestSendPromptChunksAndSubmits(t *testing.T) {
	factory := newFakeFactory()
	sup, _ := newTestSupervisor(t, factory)

	profile := markerProfile()
	profile.SubmitSequence = "\r"
	prompt := strings.Repeat("x", promptChunkSize*2+5)
	if _, err := sup.Spawn(context.Background(), SpawnSpec{
		SessionID: "sess",
		AgentID:   "sess-queen",
		Profile:   profile,
	}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := sup.SendPrompt(context.Background(), "sess-queen", prompt); err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	if got := factory.ptys["fakecli"].written(); got != prompt+"\r" {
		t.Fatalf("written = %q", got)
	}
}

func TestWriteToUnknownAgent(t *testing.T) {
	sup, _ := newTestSupervisor(t, newFakeFactory())
	err := sup.Write("nobody", []byte("hi"))
	if !errors.Is(err, ErrAgentNotRunning) {
		t.Fatalf("err = %v, want ErrAgentNotRunning", err)
	}
	if _, err := sup.Status("nobody"); !errors.Is(err, ErrAgentNotRunning) {
		t.Fatalf("Status err = %v", err)
	}
}

func TestSpawnFailure(t *testing.T) {
	factory := newFakeFactory()
	factory.err = errors.New("no such binary")
	sup, _ := newTestSupervisor(t, factory)

	_, err := sup.Spawn(context.Background(), SpawnSpec{
		SessionID: "sess",
		AgentID:   "sess-queen",
		Profile:   markerProfile(),
	})
	var spawnErr *ProcessSpawnFailureError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("err = %v, want ProcessSpawnFailureError", err)
	}
	if spawnErr.AgentID != "sess-queen" {
		t.Fatalf("AgentID = %s", spawnErr.AgentID)
	}
	if sup.Running("sess-queen") {
		t.Fatal("failed spawn must not be tracked")
	}
}

func TestStopRemovesAgent(t *testing.T) {
	factory := newFakeFactory()
	sup, _ := newTestSupervisor(t, factory)

	if _, err := sup.Spawn(context.Background(), SpawnSpec{
		SessionID: "sess",
		AgentID:   "sess-queen",
		Profile:   markerProfile(),
	}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := sup.Stop(context.Background(), "sess-queen"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sup.Running("sess-queen") {
		t.Fatal("agent still tracked after stop")
	}
	if err := sup.Stop(context.Background(), "sess-queen"); !errors.Is(err, ErrAgentNotRunning) {
		t.Fatalf("second stop err = %v", err)
	}
}

func TestOutputTail(t *testing.T) {
	factory := newFakeFactory()
	sup, statuses := newTestSupervisor(t, factory)

	if _, err := sup.Spawn(context.Background(), SpawnSpec{
		SessionID: "sess",
		AgentID:   "sess-queen",
		Profile:   markerProfile(),
	}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	pty := factory.ptys["fakecli"]
	pty.emit("line one\nline two\nline three\n")
	waitForStatus(t, statuses, hive.StatusRunning)

	tail, err := sup.OutputTail("sess-queen", 2)
	if err != nil {
		t.Fatalf("OutputTail: %v", err)
	}
	if len(tail) != 2 || tail[0] != "line two" || tail[1] != "line three" {
		t.Fatalf("tail = %v", tail)
	}
}
