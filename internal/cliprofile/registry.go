package cliprofile

import (
	"sort"
	"sync"
	"time"
)

// Registry holds the known CLI profiles. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewRegistry(profiles ...Profile) *Registry {
	registry := &Registry{
		profiles: make(map[string]Profile, len(profiles)),
	}
	for _, profile := range profiles {
		registry.profiles[profile.Name] = profile
	}
	return registry
}

// DefaultRegistry returns the built-in coding CLI profiles.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Profile{
			Name:            "claude",
			Command:         "claude",
			AutoApproveFlag: "--dangerously-skip-permissions",
			ModelFlag:       "--model",
			DefaultModel:    "opus",
			PromptFlag:      "-p",
			Behavior:        BehaviorInstructionFollowing,
			SubmitDelay:     150 * time.Millisecond,
		},
		Profile{
			Name:            "gemini",
			Command:         "gemini",
			AutoApproveFlag: "-y",
			ModelFlag:       "-m",
			DefaultModel:    "gemini-2.5-pro",
			Behavior:        BehaviorInstructionFollowing,
			SubmitDelay:     150 * time.Millisecond,
		},
		Profile{
			Name:            "codex",
			Command:         "codex",
			AutoApproveFlag: "--dangerously-bypass-approvals-and-sandbox",
			ModelFlag:       "-m",
			DefaultModel:    "gpt-5-codex",
			Behavior:        BehaviorActionProne,
			SubmitDelay:     150 * time.Millisecond,
		},
		Profile{
			Name:         "opencode",
			Command:      "opencode",
			ModelFlag:    "-m",
			DefaultModel: "opencode/grok-code",
			Env:          map[string]string{"OPENCODE_YOLO": "true"},
			Behavior:     BehaviorActionProne,
		},
		Profile{
			Name:            "qwen",
			Command:         "qwen",
			AutoApproveFlag: "-y",
			ModelFlag:       "-m",
			DefaultModel:    "qwen3-coder",
			Behavior:        BehaviorExplicitPolling,
		},
		Profile{
			Name:         "droid",
			Command:      "droid",
			DefaultModel: "glm-4.6",
			Behavior:     BehaviorInteractive,
		},
		Profile{
			Name:            "cursor",
			Command:         "cursor-agent",
			AutoApproveFlag: "--force",
			DefaultModel:    "composer-1",
			Behavior:        BehaviorInteractive,
		},
	)
}

func (r *Registry) Get(name string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.profiles[name]
	if !ok {
		return Profile{}, &UnknownCliError{Name: name}
	}
	return profile, nil
}

// Register adds or replaces a profile after validation.
func (r *Registry) Register(profile Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.Name] = profile
	return nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
