// Package logstore manages the directory of per-invocation log files that
// capture the standard output of programs started by sibyld.
//
// Entries live only as long as the daemon; the files themselves are never
// rotated, pruned or reconciled with anything after a restart.
package logstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// Extension is appended to every derived log name.
const Extension = ".slog"

// timestampLayout keeps nanoseconds so repeated identical invocations
// rarely collide. It contains no spaces or path separators.
const timestampLayout = "2006-01-02T15-04-05.000000000"

// maxHintLen bounds the command-derived part of a file name so that the
// full name stays under the usual 255 byte limit.
const maxHintLen = 180

// ErrNoLogs is returned by Latest when the root holds no log files.
var ErrNoLogs = errors.New("no logs exist")

// Namer is implemented by commands that produce log files.
type Namer interface {
	// LogName returns the command-derived part of the file name,
	// without timestamp or extension.
	LogName() string
}

// LogFile is one per-invocation log on disk.
type LogFile struct {
	path string
}

// Path returns the file's location.
func (f *LogFile) Path() string { return f.path }

// Open returns an append-mode handle, creating the file if it is missing.
// Repeated opens never truncate.
func (f *LogFile) Open() (*os.File, error) {
	// #nosec G304 -- path is derived inside the store's root
	return os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
}

// Store owns the log root and the name → LogFile map.
type Store struct {
	dir  string
	logs map[string]*LogFile
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source used for log names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store rooted at dir. The directory is not touched until
// the first Create.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:  dir,
		logs: make(map[string]*LogFile),
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Directory returns the root path.
func (s *Store) Directory() string { return s.dir }

// Len reports how many log entries were created during this lifetime.
func (s *Store) Len() int { return len(s.logs) }

// Create derives a log name from n, makes sure the root exists and
// records the entry. The file itself is created by the first Open.
func (s *Store) Create(n Namer) (*LogFile, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", s.dir, err)
	}
	name := s.name(n.LogName())
	f := &LogFile{path: filepath.Join(s.dir, name+Extension)}
	s.logs[name] = f
	slog.Debug("log file registered", "path", f.path)
	return f, nil
}

// Lookup returns the entry recorded under name, if any.
func (s *Store) Lookup(name string) (*LogFile, bool) {
	f, ok := s.logs[name]
	return f, ok
}

func (s *Store) name(hint string) string {
	hint = strings.TrimSpace(hint)
	if len(hint) > maxHintLen {
		cut := maxHintLen
		for cut > 0 && !utf8.RuneStart(hint[cut]) {
			cut--
		}
		hint = hint[:cut]
	}
	stamp := s.now().Format(timestampLayout)
	if hint == "" {
		return stamp
	}
	return hint + "_" + stamp
}

// JoinName builds a name hint from a program and its arguments, joined
// with underscores. Path separators are replaced so every part stays
// inside the root.
func JoinName(program string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, sanitize(program))
	for _, a := range args {
		parts = append(parts, sanitize(a))
	}
	return strings.Join(parts, "_")
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '-'
		case ' ', '\t', '\n', '\r':
			return '-'
		}
		return r
	}, s)
}

// Latest returns the path of the regular file in the root with the most
// recent modification time.
func (s *Store) Latest() (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoLogs
		}
		return "", fmt.Errorf("read log directory %s: %w", s.dir, err)
	}
	var (
		newest   string
		newestAt time.Time
	)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		if newest == "" || info.ModTime().After(newestAt) {
			newest = filepath.Join(s.dir, e.Name())
			newestAt = info.ModTime()
		}
	}
	if newest == "" {
		return "", ErrNoLogs
	}
	return newest, nil
}

// ReadLatest returns the full contents of the newest log file.
func (s *Store) ReadLatest() (string, error) {
	path, err := s.Latest()
	if err != nil {
		return "", err
	}
	// #nosec G304 -- path comes from listing the store's own root
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}
