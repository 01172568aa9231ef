package coord

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rdfitted/hive-manager/internal/event"
	"github.com/rdfitted/hive-manager/internal/logging"
)

// Router is the append-only coordination log of one session plus a
// live fan-out bus. Appends are serialized and idempotent on message
// id; the dedup set is rebuilt from the log on open, so replaying a
// stored log is safe.
type Router struct {
	mu        sync.Mutex
	sessionID string
	logPath   string
	seen      map[string]struct{}
	bus       *event.Bus[Message]
	logger    *logging.Logger
}

type RouterOptions struct {
	SessionID  string
	LogPath    string
	Logger     *logging.Logger
	BusOptions event.BusOptions
}

// OpenRouter opens (or creates) the coordination log and rebuilds the
// dedup set from its contents.
func OpenRouter(ctx context.Context, options RouterOptions) (*Router, error) {
	if options.LogPath == "" {
		return nil, errors.New("coordination log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(options.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create coordination dir: %w", err)
	}

	busOptions := options.BusOptions
	if busOptions.Name == "" {
		busOptions.Name = "coordination"
	}

	router := &Router{
		sessionID: options.SessionID,
		logPath:   options.LogPath,
		seen:      make(map[string]struct{}),
		bus:       event.NewBus[Message](ctx, busOptions),
		logger:    options.Logger,
	}
	if err := router.rebuildSeen(); err != nil {
		return nil, err
	}
	return router, nil
}

func (r *Router) rebuildSeen() error {
	file, err := os.Open(r.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open coordination log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		msg, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		r.seen[msg.ID] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan coordination log: %w", err)
	}
	return nil
}

// Append writes the message to the log and publishes it to
// subscribers. A message whose id was already appended is a no-op
// returning false.
func (r *Router) Append(msg Message) (bool, error) {
	if msg.ID == "" {
		msg.ID = msg.digest()
	}
	msg.Content = sanitizeContent(msg.Content)

	r.mu.Lock()
	if _, dup := r.seen[msg.ID]; dup {
		r.mu.Unlock()
		return false, nil
	}
	if _, dup := r.seen[msg.digest()]; dup {
		r.mu.Unlock()
		return false, nil
	}

	file, err := os.OpenFile(r.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		r.mu.Unlock()
		return false, fmt.Errorf("open coordination log: %w", err)
	}
	_, writeErr := file.WriteString(msg.formatLine() + "\n")
	closeErr := file.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		r.mu.Unlock()
		return false, fmt.Errorf("append coordination log: %w", writeErr)
	}
	r.seen[msg.ID] = struct{}{}
	r.seen[msg.digest()] = struct{}{}
	r.mu.Unlock()

	r.bus.Publish(msg)
	return true, nil
}

// Subscribe returns a live feed of appended messages.
func (r *Router) Subscribe() (<-chan Message, func()) {
	return r.bus.Subscribe()
}

// SubscribeFor returns messages addressed to agentID or broadcast.
func (r *Router) SubscribeFor(agentID string) (<-chan Message, func()) {
	return r.bus.SubscribeFiltered(func(msg Message) bool {
		return msg.To == agentID || msg.To == Broadcast
	})
}

// Messages reads the whole log back in order. Malformed lines are
// skipped with a warning. limit <= 0 returns everything; otherwise
// the most recent limit entries.
func (r *Router) Messages(limit int) ([]Message, error) {
	file, err := os.Open(r.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open coordination log: %w", err)
	}
	defer file.Close()

	var messages []Message
	skipped := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		msg, ok := parseLine(line)
		if !ok {
			skipped++
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan coordination log: %w", err)
	}
	if skipped > 0 && r.logger != nil {
		r.logger.Warn("skipped malformed coordination lines", map[string]string{
			"session": r.sessionID,
			"skipped": fmt.Sprintf("%d", skipped),
		})
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (r *Router) Close() {
	r.bus.Close()
}
