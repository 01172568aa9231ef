package taskfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Status
	}{
		{"completed", "# Task\n\n## Status: COMPLETED\n", StatusCompleted},
		{"blocked", "## Status: BLOCKED\nneed credentials\n", StatusBlocked},
		{"active", "## Status: ACTIVE\n", StatusActive},
		{"lowercase", "## status is not a header\n## Status: completed\n", StatusCompleted},
		{"missing", "# Task with no status line\n", StatusActive},
		{"unknown value", "## Status: DONEISH\n", StatusActive},
		{"indented does not count", "  ## Status: COMPLETED\n", StatusActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseStatus(tt.content); got != tt.want {
				t.Fatalf("ParseStatus = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWriteAndReadStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker-0-task.md")
	if err := Write(path, "Implement the parser", "Build the tokenizer first."); err != nil {
		t.Fatalf("Write: %v", err)
	}
	status, err := ReadStatus(path)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if status != StatusActive {
		t.Fatalf("fresh task status = %s", status)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	updated := statusLineRegex.ReplaceAll(content, []byte("## Status: COMPLETED"))
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	status, err = ReadStatus(path)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if status != StatusCompleted {
		t.Fatalf("flipped task status = %s", status)
	}
}

func TestReadStatusMissingFile(t *testing.T) {
	if _, err := ReadStatus(filepath.Join(t.TempDir(), "nope.md")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
