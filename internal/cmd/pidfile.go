package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// pidFilePath returns the path flowline uses to record the pid of a running
// run command, so a separate `flowline stop` invocation can signal it.
func pidFilePath(repoPath string) string {
	return filepath.Join(repoPath, ".flowline", "flowline.pid")
}

// writePIDFile records the current process id, creating the parent
// directory if needed. Returns a cleanup func that removes it.
func writePIDFile(repoPath string) (func(), error) {
	path := pidFilePath(repoPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create .flowline directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return func() { _ = os.Remove(path) }, nil
}

// readPID reads and parses the pid file left by a running run command.
func readPID(repoPath string) (int, error) {
	data, err := os.ReadFile(pidFilePath(repoPath))
	if err != nil {
		return 0, fmt.Errorf("no running flowline session found: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", pidFilePath(repoPath), err)
	}
	return pid, nil
}
