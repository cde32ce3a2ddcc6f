package session

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vibetunnel/server/src/errs"
)

// Store owns the control directory tree: one subdirectory per session, named
// by its UUID, holding session.json plus the stdin/control FIFOs and
// stream-out log. It is constructed explicitly and passed to collaborators
// rather than reached through a package global.
type Store struct {
	root string

	mu       sync.RWMutex
	sessions map[string]*Info
}

// NewStore creates the control root directory if needed and returns a Store
// bound to it.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindFileSystemError, "create control root", err)
	}
	s := &Store{root: root, sessions: make(map[string]*Info)}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the absolute path of a session's control directory.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.root, id)
}

// scan walks the control root at startup, loading every session.json found
// and reconciling zombies, so a listing survives a server crash.
func (s *Store) scan() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return errs.Wrap(errs.KindFileSystemError, "scan control root", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		info, err := LoadInfo(s.Dir(id))
		if err != nil {
			logrus.WithError(err).WithField("session", id).Warn("store: skipping unreadable session directory")
			continue
		}
		reconcile(info)
		s.sessions[id] = info
	}
	return nil
}

// reconcile rewrites a "running" row whose pid is no longer alive, is a
// zombie, or has been recycled by an unrelated process to "exited". The
// liveness and command checks are best-effort probes rather than trusting
// the persisted status across a server restart.
func reconcile(info *Info) {
	if info.Status != StatusRunning && info.Status != StatusStarting {
		return
	}
	if info.Pid > 0 && isAlive(info.Pid) && commandMatches(info.Pid, firstArg(info.Cmdline)) {
		return
	}
	info.Status = StatusExited
	if info.ExitCode == nil {
		code := 1
		info.ExitCode = &code
	}
}

// firstArg returns cmdline's argv[0], or "" if cmdline is empty.
func firstArg(cmdline []string) string {
	if len(cmdline) == 0 {
		return ""
	}
	return cmdline[0]
}

// Create registers a brand new session: allocates an ID, builds the control
// directory, writes the initial session.json, and creates the stdin/control
// FIFOs an external CLI writes into.
func (s *Store) Create(info *Info) (*Info, error) {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	if info.Status == "" {
		info.Status = StatusStarting
	}

	dir := s.Dir(info.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindFileSystemError, "create session directory", err)
	}
	if err := mkfifo(filepath.Join(dir, "stdin")); err != nil {
		return nil, errs.Wrap(errs.KindFileSystemError, "create stdin fifo", err)
	}
	if err := mkfifo(filepath.Join(dir, "control")); err != nil {
		return nil, errs.Wrap(errs.KindFileSystemError, "create control fifo", err)
	}
	if err := WriteHeader(filepath.Join(dir, "stream-out"), info.Width, info.Height); err != nil {
		return nil, errs.Wrap(errs.KindFileSystemError, "write stream-out header", err)
	}
	if err := info.Save(dir); err != nil {
		return nil, errs.Wrap(errs.KindFileSystemError, "save session.json", err)
	}

	s.mu.Lock()
	s.sessions[info.ID] = info
	s.mu.Unlock()

	return info, nil
}

// Get returns the store's own in-memory row for id (not a copy), re-checking liveness so a
// dead process is reflected even between scans.
func (s *Store) Get(id string) (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.sessions[id]
	if !ok {
		return nil, errs.New(errs.KindSessionNotFound, "no such session: "+id)
	}
	reconcile(info)
	return info, nil
}

// List returns every known session sorted newest-first by StartedAt, the
// order the Session API exposes to GET /api/sessions.
func (s *Store) List() []*Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Info, 0, len(s.sessions))
	for _, info := range s.sessions {
		reconcile(info)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// UpdateStatus transitions a session's status/exit code and persists the
// change to disk.
func (s *Store) UpdateStatus(id string, status Status, exitCode *int) error {
	s.mu.Lock()
	info, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return errs.New(errs.KindSessionNotFound, "no such session: "+id)
	}
	info.Status = status
	info.ExitCode = exitCode
	dir := s.Dir(id)
	s.mu.Unlock()

	return info.Save(dir)
}

// Remove deletes a session's control directory. It does not signal the
// process; callers (the PTY host) are responsible for killing it first.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	if err := os.RemoveAll(s.Dir(id)); err != nil {
		return errs.Wrap(errs.KindFileSystemError, "remove session directory", err)
	}
	return nil
}

// RemoveAllExited prunes every session currently in the "exited" state,
// returning the ids removed. Used by the cleanup-exited endpoint.
func (s *Store) RemoveAllExited() ([]string, error) {
	var removed []string
	for _, info := range s.List() {
		if info.Status != StatusExited {
			continue
		}
		if err := s.Remove(info.ID); err != nil {
			return removed, err
		}
		removed = append(removed, info.ID)
	}
	return removed, nil
}

// register adds or overwrites an externally-discovered session (the Control
// Directory Watcher's entry point) without creating FIFOs; the directory
// already exists on disk.
func (s *Store) register(info *Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reconcile(info)
	s.sessions[info.ID] = info
}
