// Package dedup suppresses duplicate tool events across processes with a
// small persisted fingerprint ledger. The ledger is advisory: losing it
// can at worst admit a duplicate, never drop an observation.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/clawmem/mindstore/internal/lock"
)

// DefaultWindow is the span within which an identical fingerprint is a
// duplicate.
const DefaultWindow = 60 * time.Second

// fingerprintPrefixLen bounds how much of the canonicalized input feeds
// the digest; beyond this, inputs are considered equivalent.
const fingerprintPrefixLen = 200

// LedgerFile is the ledger's file name beside the store.
const LedgerFile = "mind-dedup.json"

// Ledger is a persisted fingerprint ledger under one directory.
type Ledger struct {
	Dir         string
	Window      time.Duration
	LockOptions lock.Options
	Logger      *slog.Logger
}

func (l *Ledger) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (l *Ledger) window() time.Duration {
	if l.Window > 0 {
		return l.Window
	}
	return DefaultWindow
}

func (l *Ledger) path() string {
	return filepath.Join(l.Dir, LedgerFile)
}

// IsDuplicate reports whether the same (tool, input) was recorded within
// the dedup window for scopeKey, and records the fingerprint otherwise.
// Check and record happen in one locked critical section so two racing
// processes cannot both see "not duplicate".
func (l *Ledger) IsDuplicate(scopeKey, toolName string, toolInput any) (bool, error) {
	fp, err := Fingerprint(toolName, toolInput)
	if err != nil {
		return false, err
	}
	key := scopeKey + ":" + fp

	held, err := lock.Acquire(l.path()+".lock", l.LockOptions)
	if err != nil {
		return false, fmt.Errorf("lock dedup ledger: %w", err)
	}
	defer held.Release()

	entries := l.load()
	now := time.Now().UnixMilli()
	windowMillis := l.window().Milliseconds()

	if last, ok := entries[key]; ok && now-last <= windowMillis {
		return true, nil
	}

	entries[key] = now
	for k, ts := range entries {
		if now-ts > windowMillis {
			delete(entries, k)
		}
	}
	if err := l.save(entries); err != nil {
		// Losing the record only risks a future duplicate.
		l.logger().Warn("dedup ledger write failed", "error", err)
	}
	return false, nil
}

// load reads the ledger, treating a missing or unreadable file as empty.
func (l *Ledger) load() map[string]int64 {
	b, err := os.ReadFile(l.path())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger().Warn("dedup ledger unreadable, starting empty", "error", err)
		}
		return map[string]int64{}
	}
	entries := map[string]int64{}
	if err := json.Unmarshal(b, &entries); err != nil {
		l.logger().Warn("dedup ledger corrupt, starting empty", "error", err)
		return map[string]int64{}
	}
	return entries
}

func (l *Ledger) save(entries map[string]int64) error {
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(l.path(), b, 0o644)
}

// Fingerprint digests a tool name plus a truncated canonical rendering of
// its input, so logically identical inputs fingerprint identically
// regardless of field order.
func Fingerprint(toolName string, toolInput any) (string, error) {
	raw, err := json.Marshal(toolInput)
	if err != nil {
		return "", fmt.Errorf("serialize tool input: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize tool input: %w", err)
	}
	if len(canonical) > fingerprintPrefixLen {
		canonical = canonical[:fingerprintPrefixLen]
	}

	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{'\n'})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
