//go:build !windows

package process

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// gracePeriod bounds how long a SIGTERM'd agent gets to flush and
// exit before the group is killed.
const gracePeriod = 5 * time.Second

const pollInterval = 50 * time.Millisecond

// GroupID resolves the process group of pid, 0 when unknown. Agents
// are spawned with Setsid, so signalling the group reaps their child
// CLIs too.
func GroupID(pid int) int {
	if pid <= 0 {
		return 0
	}
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return 0
	}
	return pgid
}

// terminate stops one tracked agent process: SIGTERM to the group,
// wait up to the grace period, SIGKILL whatever is left.
func terminate(ctx context.Context, e Entry) error {
	if e.PID <= 0 {
		return nil
	}
	if !alive(e.PID) {
		return ErrProcessNotFound
	}

	termErr := signalGroup(e, syscall.SIGTERM)
	if awaitExit(ctx, e) == nil {
		return termErr
	}

	killErr := signalGroup(e, syscall.SIGKILL)
	waitErr := awaitExit(ctx, e)
	return errors.Join(termErr, waitErr, killErr)
}

// signalGroup signals the whole process group, falling back to the
// single pid when no group was recorded. A group that already exited
// is not an error.
func signalGroup(e Entry, sig syscall.Signal) error {
	target := e.PID
	if e.PGID > 0 {
		target = -e.PGID
	}
	err := syscall.Kill(target, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// awaitExit blocks until the process is gone. Entries that carry a
// Wait func (processes we spawned) reap through it; resumed entries
// with no Wait are polled for liveness instead.
func awaitExit(ctx context.Context, e Entry) error {
	if e.Wait != nil {
		err := e.Wait(ctx)
		if err == nil || killedBySignal(err) {
			return nil
		}
		return err
	}
	return pollExit(ctx, e.PID)
}

func pollExit(ctx context.Context, pid int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := gracePeriod
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ctx.Err()
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(timeout)
	for {
		if !alive(pid) {
			return nil
		}
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// alive probes with signal 0. EPERM means the process exists but
// belongs to another user, which still counts as alive.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// killedBySignal reports whether err is the ExitError of a process we
// signalled ourselves, which terminate treats as a clean exit.
func killedBySignal(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	return status.Signaled()
}
