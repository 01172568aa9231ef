package supervisor

import "os/exec"

type Pty interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	Resize(cols, rows uint16) error
}

// StartSpec describes the process to attach to a fresh PTY. Env
// entries are appended to the inherited environment; Dir, when set,
// becomes the working directory (fusion variants run in their own
// worktrees).
type StartSpec struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
}

type PtyFactory interface {
	Start(spec StartSpec) (Pty, *exec.Cmd, error)
}

type defaultPtyFactory struct{}

func (defaultPtyFactory) Start(spec StartSpec) (Pty, *exec.Cmd, error) {
	return startPty(spec)
}

func DefaultPtyFactory() PtyFactory {
	return defaultPtyFactory{}
}
