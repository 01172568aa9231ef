package cliprofile

import (
	"fmt"
	"strings"
	"time"
)

// Behavior classifies how a coding CLI signals that it finished or is
// waiting for input. It selects the status matcher used by the
// supervisor.
type Behavior string

const (
	// BehaviorActionProne CLIs act immediately and drop back to an idle
	// prompt when done. Idle detection over the output tail is the only
	// usable signal.
	BehaviorActionProne Behavior = "action-prone"
	// BehaviorInstructionFollowing CLIs reliably echo status markers
	// they were instructed to print.
	BehaviorInstructionFollowing Behavior = "instruction-following"
	// BehaviorExplicitPolling CLIs emit no markers; the supervisor
	// polls the tail for quiet periods and completion phrases.
	BehaviorExplicitPolling Behavior = "explicit-polling"
	// BehaviorInteractive CLIs block on menus and confirmations.
	BehaviorInteractive Behavior = "interactive"
)

// Profile describes how to launch and talk to one coding CLI.
type Profile struct {
	Name            string            `json:"name"`
	Command         string            `json:"command"`
	AutoApproveFlag string            `json:"auto_approve_flag,omitempty"`
	ModelFlag       string            `json:"model_flag,omitempty"`
	DefaultModel    string            `json:"default_model,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	PromptFlag      string            `json:"prompt_flag,omitempty"`
	Behavior        Behavior          `json:"behavior"`
	// SubmitSequence is written after a prompt to make the CLI accept
	// it. SubmitDelay separates the prompt text from the sequence for
	// TUIs that debounce paste input.
	SubmitSequence string        `json:"submit_sequence,omitempty"`
	SubmitDelay    time.Duration `json:"submit_delay,omitempty"`
}

type UnknownCliError struct {
	Name string
}

func (e *UnknownCliError) Error() string {
	return fmt.Sprintf("unknown cli %q", e.Name)
}

func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("cli profile name is required")
	}
	if strings.TrimSpace(p.Command) == "" {
		return fmt.Errorf("cli profile %s: command is required", p.Name)
	}
	switch p.Behavior {
	case BehaviorActionProne, BehaviorInstructionFollowing, BehaviorExplicitPolling, BehaviorInteractive:
	case "":
		return fmt.Errorf("cli profile %s: behavior is required", p.Name)
	default:
		return fmt.Errorf("cli profile %s: unknown behavior %q", p.Name, p.Behavior)
	}
	return nil
}

// Submit returns the byte sequence that makes the CLI accept a typed
// prompt.
func (p Profile) Submit() string {
	if p.SubmitSequence != "" {
		return p.SubmitSequence
	}
	return "\r"
}

// BuiltCommand is a launch-ready command line with environment.
type BuiltCommand struct {
	Command string
	Args    []string
	Env     map[string]string
}

// BuildCommand assembles the launch command for a profile. model
// overrides the profile default when non-empty; extraFlags append
// verbatim.
func (p Profile) BuildCommand(model string, extraFlags ...string) BuiltCommand {
	args := make([]string, 0, 4+len(extraFlags))
	if p.AutoApproveFlag != "" {
		args = append(args, p.AutoApproveFlag)
	}
	if p.ModelFlag != "" {
		selected := model
		if selected == "" {
			selected = p.DefaultModel
		}
		if selected != "" {
			args = append(args, p.ModelFlag, selected)
		}
	}
	args = append(args, extraFlags...)

	env := make(map[string]string, len(p.Env))
	for key, value := range p.Env {
		env[key] = value
	}
	return BuiltCommand{
		Command: p.Command,
		Args:    args,
		Env:     env,
	}
}
