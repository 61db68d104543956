//go:build !windows

package framework

import "syscall"

// detachedProcAttr starts the child in its own session so it survives the
// parent exiting and does not receive the parent's terminal signals.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
