package home

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// WritePID records the current process ID in the PID file.
func (d *Dir) WritePID() error {
	return os.WriteFile(d.PIDPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// RemovePID removes the PID file.
func (d *Dir) RemovePID() {
	_ = os.Remove(d.PIDPath())
}

// RunningPID returns the PID of a live server recorded in the PID file.
// A stale file is removed and reported as not running.
func (d *Dir) RunningPID() (int, bool) {
	pid, err := readPID(d.PIDPath())
	if err != nil {
		return 0, false
	}
	if pid == os.Getpid() || !processAlive(pid) {
		d.RemovePID()
		return 0, false
	}
	return pid, true
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file contents: %w", err)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without sending a real signal.
	return proc.Signal(syscall.Signal(0)) == nil
}
