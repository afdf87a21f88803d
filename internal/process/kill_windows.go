//go:build windows

// Package process holds the OS-specific bits of browser process cleanup.
package process

import (
	"os"
	"os/exec"
	"strconv"
)

// KillProcessGroup kills pid and its whole process tree with taskkill.
// /F forces, /T walks the tree.
func KillProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}

// Alive reports whether a process with the given pid exists.
// On Windows FindProcess opens a handle and fails for unknown pids.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
