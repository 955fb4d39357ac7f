// Package lock provides an advisory cross-process file lock.
//
// Acquisition creates the lock file with O_EXCL, so holding the file is
// holding the lock. A lock whose file has not been refreshed within the
// staleness threshold is presumed abandoned and may be reclaimed by the
// next acquirer. When one operation needs more than one lock, the main
// store lock must be acquired before any per-source lock.
package lock

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

// Defaults for Options fields left zero.
const (
	DefaultStale       = 30 * time.Second
	DefaultMaxAttempts = 1000
	DefaultMinDelay    = 5 * time.Millisecond
	DefaultMaxDelay    = 50 * time.Millisecond
)

// ErrTimeout is returned when the retry budget is exhausted.
var ErrTimeout = errors.New("lock acquisition timed out")

// Options configures acquisition behavior.
type Options struct {
	Stale       time.Duration // holder considered dead after this long without refresh
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Stale <= 0 {
		o.Stale = DefaultStale
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MinDelay <= 0 {
		o.MinDelay = DefaultMinDelay
	}
	if o.MaxDelay <= o.MinDelay {
		o.MaxDelay = o.MinDelay + DefaultMaxDelay - DefaultMinDelay
	}
	return o
}

// Lock is a held advisory lock. Release it on every exit path, typically
// via defer immediately after a successful Acquire.
type Lock struct {
	path     string
	released bool
}

// Acquire takes the lock at path, creating parent directories as needed.
// It retries with jittered backoff until the lock is held or the attempt
// budget runs out, reclaiming stale lock files along the way.
func Acquire(path string, opts Options) (*Lock, error) {
	opts = opts.withDefaults()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d %d\n", os.Getpid(), time.Now().UnixMilli())
			f.Close()
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}
		if isStale(path, opts.Stale) {
			// Reclaim and retry immediately. A racing reclaimer is fine:
			// at most one O_EXCL create wins afterward.
			os.Remove(path)
			continue
		}
		time.Sleep(jitter(opts.MinDelay, opts.MaxDelay))
	}
	return nil, fmt.Errorf("%w: %s", ErrTimeout, path)
}

// Refresh bumps the lock file's mtime so a long-running holder is not
// mistaken for a dead one.
func (l *Lock) Refresh() error {
	if l.released {
		return fmt.Errorf("refresh released lock %s", l.path)
	}
	now := time.Now()
	if err := os.Chtimes(l.path, now, now); err != nil {
		return fmt.Errorf("refresh lock %s: %w", l.path, err)
	}
	return nil
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	os.Remove(l.path)
}

func isStale(path string, stale time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > stale
}

func jitter(min, max time.Duration) time.Duration {
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
