// Package outlock guards an output directory against a second replay-orch
// process converting into it at the same time.
package outlock

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// FileName is the lock file created inside the output directory
const FileName = ".replay-orch.lock"

// ErrLocked is returned when another process holds the directory
var ErrLocked = errors.New("output directory is in use by another replay-orch process")

// Lock is an acquired output directory lock
type Lock struct {
	dir  string
	lock *flock.Flock
}

// Acquire takes the lock for outputDir without waiting
func Acquire(outputDir string) (*Lock, error) {
	path := filepath.Join(outputDir, FileName)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", outputDir, ErrLocked)
	}
	return &Lock{dir: outputDir, lock: fl}, nil
}

// Dir returns the locked directory
func (l *Lock) Dir() string {
	return l.dir
}

// Release unlocks the directory. The lock file itself is left in place.
func (l *Lock) Release() error {
	return l.lock.Unlock()
}

// Set holds directory locks on behalf of one process. Several batches in
// the same process may share an output directory; the file lock is taken
// for the first and released after the last.
type Set struct {
	mu   sync.Mutex
	held map[string]*ref
}

type ref struct {
	lock  *Lock
	count int
}

// NewSet creates an empty lock set
func NewSet() *Set {
	return &Set{held: make(map[string]*ref)}
}

// Acquire takes or shares the lock for dir
func (s *Set) Acquire(dir string) error {
	key := filepath.Clean(dir)

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.held[key]; ok {
		r.count++
		return nil
	}
	l, err := Acquire(key)
	if err != nil {
		return err
	}
	s.held[key] = &ref{lock: l, count: 1}
	return nil
}

// Release drops one reference to dir, unlocking it when none remain
func (s *Set) Release(dir string) error {
	key := filepath.Clean(dir)

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.held[key]
	if !ok {
		return nil
	}
	r.count--
	if r.count > 0 {
		return nil
	}
	delete(s.held, key)
	return r.lock.Release()
}

// Held reports whether this set currently holds dir
func (s *Set) Held(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.held[filepath.Clean(dir)]
	return ok
}

// ReleaseAll unlocks every held directory
func (s *Set) ReleaseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for key, r := range s.held {
		if err := r.lock.Release(); err != nil {
			errs = append(errs, err)
		}
		delete(s.held, key)
	}
	return errors.Join(errs...)
}
