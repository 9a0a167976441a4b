package outlock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquire_SecondHolderFails(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := Acquire(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("second Acquire() error = %v, want ErrLocked", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	again.Release()

	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Errorf("lock file missing: %v", err)
	}
}

func TestSet_SharesWithinProcess(t *testing.T) {
	dir := t.TempDir()
	s := NewSet()

	if err := s.Acquire(dir); err != nil {
		t.Fatal(err)
	}
	if err := s.Acquire(dir + string(filepath.Separator)); err != nil {
		t.Fatalf("second Acquire() through the set error = %v", err)
	}

	s.Release(dir)
	if !s.Held(dir) {
		t.Fatal("lock released while a reference remains")
	}
	if _, err := Acquire(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("outside Acquire() error = %v, want ErrLocked", err)
	}

	s.Release(dir)
	if s.Held(dir) {
		t.Error("lock still held after last release")
	}
	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() after set release error = %v", err)
	}
	l.Release()
}

func TestSet_ReleaseAll(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	s := NewSet()
	s.Acquire(a)
	s.Acquire(b)

	if err := s.ReleaseAll(); err != nil {
		t.Fatalf("ReleaseAll() error = %v", err)
	}
	if s.Held(a) || s.Held(b) {
		t.Error("locks still held after ReleaseAll")
	}
}
