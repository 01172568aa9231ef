package coord

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Kind classifies a coordination message.
type Kind string

const (
	KindTask       Kind = "task"
	KindProgress   Kind = "progress"
	KindCompletion Kind = "completion"
	KindError      Kind = "error"
	KindSystem     Kind = "system"
	KindJudge      Kind = "judge"
)

// Message is one coordination log entry. To may name an agent id or
// "all" for broadcast.
type Message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
}

// Broadcast is the To address that fans out to every subscriber.
const Broadcast = "all"

const maxContentLength = 2000

// Wire format: [RFC3339] KIND FROM → TO: content. Legacy lines carry
// no kind and default to TASK.
var (
	lineRegex       = regexp.MustCompile(`^\[([^\]]+)\] (TASK|PROGRESS|COMPLETION|ERROR|SYSTEM|JUDGE) ([^ ]+) → ([^:]+): (.*)$`)
	legacyLineRegex = regexp.MustCompile(`^\[([^\]]+)\] ([^ ]+) → ([^:]+): (.*)$`)
)

func NewMessage(kind Kind, from, to, content string) Message {
	msg := Message{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		From:      from,
		To:        to,
		Content:   sanitizeContent(content),
	}
	msg.ID = msg.digest()
	return msg
}

// digest is a deterministic fingerprint of the wire line. It doubles
// as the message id for entries parsed back from disk, which keeps
// idempotency across restarts without changing the log format.
func (m Message) digest() string {
	sum := sha256.Sum256([]byte(m.formatLine()))
	return hex.EncodeToString(sum[:16])
}

func (m Message) formatLine() string {
	return fmt.Sprintf("[%s] %s %s → %s: %s",
		m.Timestamp.UTC().Format(time.RFC3339),
		kindToWire(m.Kind),
		m.From,
		m.To,
		m.Content,
	)
}

func kindToWire(kind Kind) string {
	switch kind {
	case KindProgress:
		return "PROGRESS"
	case KindCompletion:
		return "COMPLETION"
	case KindError:
		return "ERROR"
	case KindSystem:
		return "SYSTEM"
	case KindJudge:
		return "JUDGE"
	default:
		return "TASK"
	}
}

func kindFromWire(value string) Kind {
	switch strings.ToUpper(value) {
	case "PROGRESS":
		return KindProgress
	case "COMPLETION":
		return KindCompletion
	case "ERROR":
		return KindError
	case "SYSTEM":
		return KindSystem
	case "JUDGE":
		return KindJudge
	default:
		return KindTask
	}
}

// parseLine decodes one log line. Malformed lines return false and
// are skipped by readers.
func parseLine(line string) (Message, bool) {
	if caps := lineRegex.FindStringSubmatch(line); caps != nil {
		timestamp, err := time.Parse(time.RFC3339, caps[1])
		if err != nil {
			return Message{}, false
		}
		msg := Message{
			Timestamp: timestamp.UTC(),
			Kind:      kindFromWire(caps[2]),
			From:      caps[3],
			To:        strings.TrimSpace(caps[4]),
			Content:   caps[5],
		}
		msg.ID = msg.digest()
		return msg, true
	}

	caps := legacyLineRegex.FindStringSubmatch(line)
	if caps == nil {
		return Message{}, false
	}
	timestamp, err := time.Parse(time.RFC3339, caps[1])
	if err != nil {
		return Message{}, false
	}
	msg := Message{
		Timestamp: timestamp.UTC(),
		Kind:      KindTask,
		From:      caps[2],
		To:        strings.TrimSpace(caps[3]),
		Content:   caps[4],
	}
	msg.ID = msg.digest()
	return msg, true
}

// sanitizeContent flattens newlines and tabs, collapses runs of
// spaces and truncates oversized content so one message stays one log
// line.
func sanitizeContent(content string) string {
	replacer := strings.NewReplacer("\n", " ", "\r", " ", "\t", " ")
	flattened := replacer.Replace(content)

	builder := strings.Builder{}
	builder.Grow(len(flattened))
	lastWasSpace := false
	for _, r := range flattened {
		if r == ' ' {
			if !lastWasSpace {
				builder.WriteRune(r)
			}
			lastWasSpace = true
			continue
		}
		builder.WriteRune(r)
		lastWasSpace = false
	}

	trimmed := strings.TrimSpace(builder.String())
	if len(trimmed) > maxContentLength {
		return trimmed[:maxContentLength-3] + "..."
	}
	return trimmed
}
