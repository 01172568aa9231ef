package supervisor

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rdfitted/hive-manager/internal/buffer"
	"github.com/rdfitted/hive-manager/internal/cliprofile"
	"github.com/rdfitted/hive-manager/internal/event"
	"github.com/rdfitted/hive-manager/internal/hive"
	"github.com/rdfitted/hive-manager/internal/logging"
)

const (
	readBufferSize = 4096
	tailLines      = 200
	idlePollEvery  = 2 * time.Second
)

// agentRuntime owns the PTY of a single spawned agent: it pumps
// output into the event bus, keeps a rolling tail of plain-text
// lines, and serializes status inference so terminal statuses never
// regress.
type agentRuntime struct {
	id        string
	sessionID string
	pty       Pty
	cmd       *exec.Cmd
	pid       int
	matcher   StatusMatcher
	logger    *logging.Logger
	bus       *event.Bus[event.Event]
	onStatus  func(agentID string, status hive.AgentStatus)
	onExit    func(agentID string, exitErr error)

	mu         sync.Mutex
	status     hive.AgentStatus
	tail       *buffer.Ring[string]
	partial    strings.Builder
	lastOutput time.Time

	done     chan struct{}
	doneOnce sync.Once
	exited   chan struct{}
	exitErr  error
}

func newAgentRuntime(sessionID, agentID string, pty Pty, cmd *exec.Cmd, behavior cliprofile.Behavior, bus *event.Bus[event.Event], logger *logging.Logger) *agentRuntime {
	a := &agentRuntime{
		id:         agentID,
		sessionID:  sessionID,
		pty:        pty,
		cmd:        cmd,
		matcher:    MatcherFor(behavior),
		logger:     logger.With(map[string]string{"agent": agentID}),
		bus:        bus,
		status:     hive.Starting(),
		tail:       buffer.NewRing[string](tailLines),
		lastOutput: time.Now(),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	if cmd != nil && cmd.Process != nil {
		a.pid = cmd.Process.Pid
	}
	return a
}

func (a *agentRuntime) start() {
	go a.readLoop()
	go a.idleLoop()
	if a.cmd != nil {
		go a.waitLoop()
	}
}

// readLoop pumps raw PTY output to subscribers and feeds completed
// lines to the status matcher. Partial lines are held until a newline
// arrives.
func (a *agentRuntime) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := a.pty.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			a.bus.Publish(event.NewPtyOutputEvent(a.sessionID, a.id, chunk))
			a.consume(chunk)
		}
		if err != nil {
			if err != io.EOF {
				a.logger.Debug("pty read ended", map[string]string{"error": err.Error()})
			}
			a.markDone()
			return
		}
	}
}

func (a *agentRuntime) consume(chunk string) {
	a.mu.Lock()
	a.lastOutput = time.Now()
	a.partial.WriteString(chunk)
	text := a.partial.String()
	var lines []string
	for {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, StripControl(text[:idx]))
		text = text[idx+1:]
	}
	a.partial.Reset()
	a.partial.WriteString(text)
	for _, line := range lines {
		a.tail.Add(line)
	}
	firstOutput := a.status.Kind == hive.StatusStarting
	a.mu.Unlock()

	if firstOutput {
		a.setStatus(hive.Running(), false)
	}
	for _, line := range lines {
		if status, ok := a.matcher.Observe(line); ok {
			a.setStatus(status, status.Kind == hive.StatusCompleted || status.Kind == hive.StatusError)
		}
	}
}

// idleLoop gives quiet-period matchers a chance to flag completion or
// a blocked prompt when the CLI prints nothing for a while.
func (a *agentRuntime) idleLoop() {
	ticker := time.NewTicker(idlePollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
		}
		a.mu.Lock()
		quiet := time.Since(a.lastOutput)
		tail := a.tail.List()
		terminal := a.status.Terminal()
		a.mu.Unlock()
		if terminal {
			return
		}
		if status, ok := a.matcher.Idle(quiet, tail); ok {
			a.setStatus(status, false)
		}
	}
}

// waitLoop reaps the child and resolves the final status: a clean
// exit completes the agent, anything else is an error. An explicit
// status observed before exit stands.
func (a *agentRuntime) waitLoop() {
	err := a.cmd.Wait()
	a.exitErr = err
	close(a.exited)
	a.markDone()

	a.mu.Lock()
	terminal := a.status.Terminal()
	a.mu.Unlock()
	if !terminal {
		if err != nil {
			a.setStatus(hive.StatusErrorOf(err.Error()), true)
		} else {
			a.setStatus(hive.Completed(), true)
		}
	}
	if a.onExit != nil {
		a.onExit(a.id, err)
	}
}

// setStatus applies a status change if it is not a regression.
// Inferred statuses never overwrite a terminal status; authoritative
// ones (explicit markers, process exit) may replace Completed with
// Error but not the other way around.
func (a *agentRuntime) setStatus(status hive.AgentStatus, authoritative bool) {
	a.mu.Lock()
	current := a.status
	if current.Kind == status.Kind && current.Line == status.Line {
		a.mu.Unlock()
		return
	}
	if current.Terminal() && (!authoritative || status.Kind != hive.StatusError) {
		a.mu.Unlock()
		return
	}
	a.status = status
	a.mu.Unlock()

	a.logger.Debug("agent status changed", map[string]string{
		"from": string(current.Kind),
		"to":   string(status.Kind),
	})
	a.bus.Publish(event.NewPtyStatusEvent(a.sessionID, a.id, string(status.Kind), status.Line))
	if a.onStatus != nil {
		a.onStatus(a.id, status)
	}
}

func (a *agentRuntime) currentStatus() hive.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *agentRuntime) outputTail(n int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tail.Tail(n)
}

func (a *agentRuntime) markDone() {
	a.doneOnce.Do(func() { close(a.done) })
}

// waitExit blocks until the child has been reaped or the context
// expires. Agents started without a child process resolve on read
// EOF instead.
func (a *agentRuntime) waitExit(ctx context.Context) error {
	exited := a.exited
	if a.cmd == nil {
		exited = a.done
	}
	select {
	case <-exited:
		return a.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *agentRuntime) running() bool {
	if a.cmd == nil {
		select {
		case <-a.done:
			return false
		default:
			return true
		}
	}
	select {
	case <-a.exited:
		return false
	default:
		return true
	}
}
