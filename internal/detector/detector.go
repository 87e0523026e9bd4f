// Package detector tells whether the sibyld recorded in a pid file is
// still running, so a second daemon does not take over its socket.
package detector

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrRunning is returned by Claim when another live daemon owns the file.
var ErrRunning = errors.New("sibyld already running")

// PIDFile is a pid file holding the daemon pid on the first line and,
// when known, its start time in Unix seconds on the second.
type PIDFile struct {
	Path string
}

// Read returns the recorded pid and start time. start is 0 when the file
// carries no start time.
func (p PIDFile) Read() (pid int, start int64, err error) {
	// #nosec G304 -- operator-supplied path
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, 0, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err = strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pid in %s: %w", p.Path, err)
	}
	if len(lines) > 1 {
		if v, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64); err == nil {
			start = v
		}
	}
	return pid, start, nil
}

// Alive reports whether the recorded process is still running. A missing
// file is not an error. A recorded start time that no longer matches the
// live process means the pid was reused.
func (p PIDFile) Alive() (int, bool, error) {
	pid, start, err := p.Read()
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if start > 0 {
		if cur := procStartUnix(pid); cur > 0 && cur != start {
			return pid, false, nil
		}
	}
	return pid, pidAlive(pid), nil
}

// Write records pid together with its start time.
func (p PIDFile) Write(pid int) error {
	content := strconv.Itoa(pid) + "\n"
	if start := procStartUnix(pid); start > 0 {
		content += strconv.FormatInt(start, 10) + "\n"
	}
	// #nosec G306 -- world readable by convention
	return os.WriteFile(p.Path, []byte(content), 0o644)
}

// Claim writes pid unless a different live process already owns the file.
// A file left behind by a dead daemon is overwritten.
func (p PIDFile) Claim(pid int) error {
	owner, alive, err := p.Alive()
	if err != nil {
		return err
	}
	if alive && owner != pid {
		return fmt.Errorf("%w (pid %d, %s)", ErrRunning, owner, p.Path)
	}
	return p.Write(pid)
}

// Remove deletes the file. An empty path or a missing file is a no-op.
func (p PIDFile) Remove() error {
	if p.Path == "" {
		return nil
	}
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
