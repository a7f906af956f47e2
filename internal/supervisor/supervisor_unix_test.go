//go:build !windows
// +build !windows

package supervisor

import "golang.org/x/sys/unix"

func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
