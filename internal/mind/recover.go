package mind

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clawmem/mindstore/internal/engine"
)

// Classifier decides whether a store-open error indicates recoverable
// corruption (quarantine and recreate) rather than a fatal condition
// (propagate). Plugging a predicate keeps the recovery logic independent
// of how the store reports corruption.
type Classifier func(error) bool

// corruptionSignatures are substrings of known corruption errors from
// the store layer. Structured error codes would be sturdier; until the
// store exposes them, message matching is the boundary we have.
var corruptionSignatures = []string{
	"corrupt",
	"not a database",
	"malformed",
	"invalid format",
	"unexpected variant",
	"version mismatch",
	"deserialization",
	"validation failed",
	"unrecoverable",
	"table of contents",
	"incompatible",
}

// DefaultClassifier matches the known corruption signatures.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range corruptionSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// OpenSafely opens the store at path, creating it when absent and
// recovering from corruption or pathological size by quarantining the
// file and starting fresh. isNew reports whether the returned handle is
// backed by a freshly created (empty) store. Errors the classifier does
// not recognize are fatal and propagate unchanged. The caller must hold
// the store's advisory lock.
func OpenSafely(path string, cfg Config) (e *engine.Engine, isNew bool, err error) {
	cfg = cfg.withDefaults()

	info, statErr := os.Stat(path)
	if errors.Is(statErr, fs.ErrNotExist) {
		e, err = engine.Create(path)
		if err != nil {
			return nil, false, err
		}
		pruneBackups(path, cfg.MaxBackups, cfg.Logger)
		return e, true, nil
	}
	if statErr != nil {
		return nil, false, fmt.Errorf("stat store: %w", statErr)
	}

	// Pathological growth means a write-amplification bug, not data.
	if info.Size() > cfg.MaxStoreBytes {
		cfg.Logger.Warn("store exceeds size ceiling, quarantining",
			"path", path, "size", info.Size(), "ceiling", cfg.MaxStoreBytes)
		return recreate(path, cfg)
	}

	e, err = engine.Open(path)
	if err == nil {
		pruneBackups(path, cfg.MaxBackups, cfg.Logger)
		return e, false, nil
	}
	if !cfg.Classifier(err) {
		return nil, false, err
	}

	cfg.Logger.Warn("store corrupt, quarantining", "path", path, "error", err)
	return recreate(path, cfg)
}

func recreate(path string, cfg Config) (*engine.Engine, bool, error) {
	quarantine(path, cfg.Logger)
	e, err := engine.Create(path)
	if err != nil {
		return nil, false, fmt.Errorf("recreate store: %w", err)
	}
	pruneBackups(path, cfg.MaxBackups, cfg.Logger)
	return e, true, nil
}

// quarantine moves the suspect file aside for forensic inspection,
// deleting it when the rename itself fails.
func quarantine(path string, logger *slog.Logger) {
	backup := backupName(path)
	if err := os.Rename(path, backup); err != nil {
		logger.Warn("backup rename failed, deleting store", "path", path, "error", err)
		os.Remove(path)
		return
	}
	// SQLite sidecars would poison the fresh store if left behind.
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
	logger.Info("store quarantined", "backup", backup)
}

// backupName returns an unused <path>.backup-<epochMillis> name, bumping
// the stamp when recoveries land inside one millisecond.
func backupName(path string) string {
	stamp := time.Now().UnixMilli()
	for {
		name := fmt.Sprintf("%s.backup-%d", path, stamp)
		if _, err := os.Stat(name); errors.Is(err, fs.ErrNotExist) {
			return name
		}
		stamp++
	}
}

// pruneBackups keeps the newest limit backups for path, by embedded
// timestamp. Failures are non-fatal.
func pruneBackups(path string, limit int, logger *slog.Logger) {
	prefix := path + ".backup-"
	names, err := filepath.Glob(prefix + "*")
	if err != nil || len(names) <= limit {
		return
	}

	type backup struct {
		name  string
		stamp int64
	}
	var backups []backup
	for _, name := range names {
		stamp, err := strconv.ParseInt(strings.TrimPrefix(name, prefix), 10, 64)
		if err != nil {
			continue
		}
		backups = append(backups, backup{name: name, stamp: stamp})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].stamp > backups[j].stamp })

	for _, b := range backups[min(limit, len(backups)):] {
		if err := os.Remove(b.name); err != nil {
			logger.Warn("backup prune failed", "backup", b.name, "error", err)
		}
	}
}
