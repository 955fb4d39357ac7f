// Package session tracks per-source session identity across process
// invocations. Each (directory, source) pair owns one JSON record file,
// replaced wholesale on every session start and read under the same
// advisory lock discipline as the main store.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/clawmem/mindstore/internal/lock"
	"github.com/clawmem/mindstore/internal/model"
)

// Known source identifiers.
const (
	SourceClaudeCode = "claude-code"
	SourceOpenCode   = "opencode"
)

// Environment signals for source detection, highest precedence first.
const (
	EnvOpenCodeSessionID = "OPENCODE_SESSION_ID"
	EnvOpenCodeDir       = "OPENCODE"
	EnvClaudeProjectDir  = "CLAUDE_PROJECT_DIR"
)

// Registry reads and writes session records under a directory.
type Registry struct {
	Dir string

	// PersistGenerated controls whether GetSessionID writes a freshly
	// synthesized id back to the registry before returning it. When
	// false the generated id is ephemeral.
	PersistGenerated bool

	LockOptions lock.Options
	Logger      *slog.Logger
}

func (r *Registry) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (r *Registry) filePath(source string) string {
	return filepath.Join(r.Dir, "mind-session-"+source+".json")
}

// Write persists a session record for source, fully replacing any prior
// record for the same (directory, source).
func (r *Registry) Write(sessionID, source string) error {
	rec := model.SessionRecord{
		SessionID: sessionID,
		Source:    source,
		StartTime: time.Now().UnixMilli(),
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	path := r.filePath(source)
	l, err := lock.Acquire(path+".lock", r.LockOptions)
	if err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	defer l.Release()

	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Read returns the session record for source, or nil when no record
// exists for this directory.
func (r *Registry) Read(source string) (*model.SessionRecord, error) {
	path := r.filePath(source)
	l, err := lock.Acquire(path+".lock", r.LockOptions)
	if err != nil {
		return nil, fmt.Errorf("lock session file: %w", err)
	}
	defer l.Release()

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var rec model.SessionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode session file %s: %w", path, err)
	}
	return &rec, nil
}

// DetectSource inspects environment signals and returns the originating
// tool. Opencode signals always win over claude-code signals.
func DetectSource() string {
	if os.Getenv(EnvOpenCodeSessionID) != "" {
		return SourceOpenCode
	}
	if os.Getenv(EnvOpenCodeDir) != "" {
		return SourceOpenCode
	}
	if os.Getenv(EnvClaudeProjectDir) != "" {
		return SourceClaudeCode
	}
	return SourceClaudeCode
}

// GetSessionID resolves the session id for the detected source: the
// registered record wins, then the caller's fallback, then a synthesized
// id of the form <source>-<epochMillis>-<suffix>. Session file errors
// are not fatal; they are logged and the pipeline continues with a
// generated id.
func (r *Registry) GetSessionID(fallback string) string {
	source := DetectSource()

	rec, err := r.Read(source)
	if err != nil {
		r.logger().Warn("session file unreadable, generating id", "source", source, "error", err)
	}
	if rec != nil && rec.SessionID != "" {
		return rec.SessionID
	}
	if fallback != "" {
		return fallback
	}

	id := GenerateID(source)
	if r.PersistGenerated {
		if err := r.Write(id, source); err != nil {
			r.logger().Warn("persist generated session id failed", "source", source, "error", err)
		}
	}
	return id
}

// GenerateID synthesizes a session id: <source>-<epochMillis>-<base36>.
func GenerateID(source string) string {
	suffix := strconv.FormatInt(rand.Int63(), 36)
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return strings.Join([]string{source, strconv.FormatInt(time.Now().UnixMilli(), 10), suffix}, "-")
}
