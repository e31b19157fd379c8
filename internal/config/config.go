// Package config provides the daemon and client's key=value configuration
// file: parsing, default path derivation, and the monotonically-increasing
// job id allocator.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
)

// maxID is the job id wrap boundary; NextID wraps 10000 back to 0.
const maxID = 10000

// Store holds the daemon's persisted configuration. Store is not safe for
// concurrent use; it is owned by the single-threaded event loop.
type Store struct {
	path string

	NTask      int
	NextID     uint
	SocketFile string
	LogDir     string
	OutputDir  string

	dirty bool
}

// Load reads the configuration file at path, if present, and fills in
// defaults for anything missing. A missing file is not an error; Load
// fails if an existing file cannot be read or parsed, or if required
// directories cannot be created.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	s.setDefaults()

	b, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err == nil {
		if err := s.parse(b); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	for _, dir := range []string{filepath.Dir(s.SocketFile), s.LogDir, s.OutputDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create required directory %s: %w", dir, err)
		}
	}

	return s, nil
}

func (s *Store) setDefaults() {
	uid := os.Getuid()
	host, _ := os.Hostname()
	base := fmt.Sprintf("/tmp/suq-%d", uid)

	s.NTask = runtime.NumCPU()
	if s.NTask < 1 {
		s.NTask = 1
	}
	s.NextID = 0
	s.SocketFile = filepath.Join(base, host+".socket")
	s.OutputDir = base + "/"
	s.LogDir = defaultLogDir()
}

func defaultLogDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "suq")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "state", "suq")
	}
	return "/tmp/suq-state"
}

// parse fills in s from the NAME = VALUE lines in b. Unknown keys and blank
// or comment (#) lines are ignored.
func (s *Store) parse(b []byte) error {
	scanner := bufio.NewScanner(strings.NewReader(string(b)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("malformed line: %q", line)
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		switch name {
		case "ntask":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return fmt.Errorf("ntask must be a positive integer: %q", value)
			}
			s.NTask = n
		case "next_id":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return fmt.Errorf("next_id must be an unsigned integer: %q", value)
			}
			s.NextID = uint(n)
		case "socket_filename":
			s.SocketFile = value
		case "log_dir":
			s.LogDir = value
		case "output_dir":
			s.OutputDir = value
		}
	}
	return scanner.Err()
}

// AllocateID pre-increments the counter and returns the new value,
// wrapping from 10000 back to 0, marking the store dirty. The daemon's
// very first allocated id is therefore 1, not 0, matching
// srv_config.c:suq_config_get_next_id's "ret = ++next_id".
func (s *Store) AllocateID() uint {
	s.NextID++
	if s.NextID > maxID {
		s.NextID = 0
	}
	s.dirty = true
	return s.NextID
}

// SetNTask updates the task budget, marking the store dirty.
func (s *Store) SetNTask(n int) {
	if n == s.NTask {
		return
	}
	s.NTask = n
	s.dirty = true
}

// Dirty reports whether the store has unsaved changes.
func (s *Store) Dirty() bool {
	return s.dirty
}

// Save atomically rewrites the configuration file if the store is dirty.
func (s *Store) Save() error {
	if !s.dirty {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ntask = %d\n", s.NTask)
	fmt.Fprintf(&b, "next_id = %d\n", s.NextID)
	fmt.Fprintf(&b, "socket_filename = %s\n", s.SocketFile)
	fmt.Fprintf(&b, "log_dir = %s\n", s.LogDir)
	fmt.Fprintf(&b, "output_dir = %s\n", s.OutputDir)

	if err := renameio.WriteFile(s.path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("write config file %s: %w", s.path, err)
	}
	s.dirty = false
	return nil
}

// DefaultPath returns the configuration file path derived from
// SUQ_CONFIG_FILE, falling back to $XDG_CONFIG_HOME/suq/config or
// $HOME/.config/suq/config.
func DefaultPath() string {
	if p := os.Getenv("SUQ_CONFIG_FILE"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "suq", "config")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "suq", "config")
}
