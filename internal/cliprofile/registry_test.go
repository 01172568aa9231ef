package cliprofile

import (
	"errors"
	"reflect"
	"testing"
)

func TestBuildCommandClaude(t *testing.T) {
	registry := DefaultRegistry()
	profile, err := registry.Get("claude")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	built := profile.BuildCommand("sonnet")
	if built.Command != "claude" {
		t.Fatalf("command = %q", built.Command)
	}
	want := []string{"--dangerously-skip-permissions", "--model", "sonnet"}
	if !reflect.DeepEqual(built.Args, want) {
		t.Fatalf("args = %v, want %v", built.Args, want)
	}
}

func TestBuildCommandDefaultModel(t *testing.T) {
	registry := DefaultRegistry()
	profile, err := registry.Get("qwen")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	built := profile.BuildCommand("", "--verbose")
	want := []string{"-y", "-m", "qwen3-coder", "--verbose"}
	if !reflect.DeepEqual(built.Args, want) {
		t.Fatalf("args = %v, want %v", built.Args, want)
	}
}

func TestBuildCommandEnv(t *testing.T) {
	registry := DefaultRegistry()
	profile, err := registry.Get("opencode")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	built := profile.BuildCommand("")
	if built.Env["OPENCODE_YOLO"] != "true" {
		t.Fatalf("env = %v", built.Env)
	}
}

func TestGetUnknownCli(t *testing.T) {
	registry := DefaultRegistry()
	_, err := registry.Get("vim")
	var unknown *UnknownCliError
	if !errors.As(err, &unknown) || unknown.Name != "vim" {
		t.Fatalf("err = %v, want UnknownCliError", err)
	}
}

func TestRegisterValidates(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(Profile{Name: "custom", Command: "custom"})
	if err == nil {
		t.Fatal("expected validation error for missing behavior")
	}

	err = registry.Register(Profile{Name: "custom", Command: "custom", Behavior: BehaviorActionProne})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := registry.Get("custom"); err != nil {
		t.Fatalf("Get after Register: %v", err)
	}
}

func TestSubmitDefaults(t *testing.T) {
	profile := Profile{}
	if got := profile.Submit(); got != "\r" {
		t.Fatalf("Submit() = %q, want carriage return", got)
	}
	profile.SubmitSequence = "\r\n"
	if got := profile.Submit(); got != "\r\n" {
		t.Fatalf("Submit() = %q", got)
	}
}
