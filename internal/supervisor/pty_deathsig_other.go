//go:build !linux && !windows

package supervisor

import "syscall"

func setPtyDeathSignal(attr *syscall.SysProcAttr) {
}
