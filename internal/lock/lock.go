package lock

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	// ErrUnavailable is returned when another holder has the lock.
	ErrUnavailable = errors.New("lock unavailable")
	// ErrNotExist is returned when the file to lock does not exist.
	ErrNotExist = errors.New("file does not exist")
)

// Handle is a held advisory lock on one file.
type Handle struct {
	path    string
	file    *os.File
	created bool

	mu       sync.Mutex
	released bool
}

// TryExclusive opens path and takes an exclusive lock on it without
// blocking. With create set the file is created if absent, and Created
// reports whether this call did so.
func TryExclusive(path string, create bool) (*Handle, error) {
	var (
		f       *os.File
		created bool
		err     error
	)
	if create {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		created = err == nil
		if errors.Is(err, os.ErrExist) {
			f, err = os.OpenFile(path, os.O_RDWR, 0)
		}
	} else {
		f, err = os.OpenFile(path, os.O_RDWR, 0)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := flock(f, unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	// A concurrent delete may have unlinked the file between open and lock.
	if !linked(f, path) {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, ErrUnavailable)
	}
	return &Handle{path: path, file: f, created: created}, nil
}

// TryShared opens an existing file read-only and takes a shared lock on it
// without blocking.
func TryShared(path string) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := flock(f, unix.LOCK_SH); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !linked(f, path) {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
	}
	return &Handle{path: path, file: f}, nil
}

// linked reports whether path still names the open file f.
func linked(f *os.File, path string) bool {
	opened, err := f.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(opened, current)
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EWOULDBLOCK):
			return ErrUnavailable
		default:
			return err
		}
	}
}

// Path returns the locked file's path.
func (h *Handle) Path() string { return h.path }

// Created reports whether acquiring the lock created the file.
func (h *Handle) Created() bool { return h.created }

// ReadAll reads the whole file from the start.
func (h *Handle) ReadAll() ([]byte, error) {
	if _, err := h.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(h.file)
}

// Replace truncates the file, writes content and syncs it to disk.
func (h *Handle) Replace(content []byte) error {
	if err := h.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate %s: %w", h.path, err)
	}
	if _, err := h.file.WriteAt(content, 0); err != nil {
		return fmt.Errorf("write %s: %w", h.path, err)
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", h.path, err)
	}
	return nil
}

// Remove unlinks the locked file. The lock itself is still held until
// Release.
func (h *Handle) Remove() error {
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", h.path, err)
	}
	return nil
}

// Release unlocks and closes the file. It is safe to call more than once.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true

	unlockErr := unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	closeErr := h.file.Close()
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", h.path, unlockErr)
	}
	return closeErr
}
