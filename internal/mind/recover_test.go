package mind

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/clawmem/mindstore/internal/engine"
)

func listBackups(t *testing.T, path string) []string {
	t.Helper()
	names, err := filepath.Glob(path + ".backup-*")
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	sort.Strings(names)
	return names
}

func corruptStore(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("garbage: not a sqlite database at all, long enough to get past the header check"), 0o644); err != nil {
		t.Fatalf("corrupt store: %v", err)
	}
	// Stale sqlite sidecars would mask the corruption on reopen.
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
}

func TestOpenSafelyCreatesFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mind.mv2")

	e, isNew, err := OpenSafely(path, Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	if !isNew {
		t.Error("expected isNew for a missing file")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("store file not created: %v", err)
	}
}

func TestOpenSafelyExisting(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mind.mv2")

	e, _, err := OpenSafely(path, Config{})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := e.Put(ctx, engine.Frame{Title: "keep me", Text: "x"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	e.Close()

	e2, isNew, err := OpenSafely(path, Config{})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer e2.Close()

	if isNew {
		t.Error("existing healthy store must not report isNew")
	}
	st, _ := e2.Stats(ctx)
	if st.FrameCount != 1 {
		t.Errorf("expected data to survive reopen, got %d frames", st.FrameCount)
	}
}

func TestCorruptionRecovery(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mind.mv2")

	e, _, err := OpenSafely(path, Config{})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	e.Close()
	corruptStore(t, path)

	e2, isNew, err := OpenSafely(path, Config{})
	if err != nil {
		t.Fatalf("recovery open: %v", err)
	}
	defer e2.Close()

	if !isNew {
		t.Error("recovered store must report isNew")
	}
	backups := listBackups(t, path)
	if len(backups) != 1 {
		t.Fatalf("expected 1 backup, got %v", backups)
	}

	// The fresh store must be usable.
	if _, err := e2.Put(ctx, engine.Frame{Title: "after recovery", Text: "x"}); err != nil {
		t.Errorf("put after recovery: %v", err)
	}
}

func TestOversizedQuarantine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mind.mv2")

	// A perfectly healthy store, but over the (tiny) ceiling.
	e, _, err := OpenSafely(path, Config{})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	e.Close()

	e2, isNew, err := OpenSafely(path, Config{MaxStoreBytes: 16})
	if err != nil {
		t.Fatalf("oversized open: %v", err)
	}
	defer e2.Close()

	if !isNew {
		t.Error("oversized store must be quarantined and recreated")
	}
	if backups := listBackups(t, path); len(backups) != 1 {
		t.Errorf("expected 1 backup after oversized quarantine, got %v", backups)
	}
}

func TestBackupRetention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mind.mv2")

	seen := map[int64]bool{}
	for i := 0; i < 5; i++ {
		e, _, err := OpenSafely(path, Config{})
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		e.Close()
		corruptStore(t, path)

		e2, _, err := OpenSafely(path, Config{})
		if err != nil {
			t.Fatalf("recovery %d: %v", i, err)
		}
		e2.Close()

		for _, name := range listBackups(t, path) {
			stamp, _ := strconv.ParseInt(strings.TrimPrefix(name, path+".backup-"), 10, 64)
			seen[stamp] = true
		}
	}

	backups := listBackups(t, path)
	if len(backups) > 3 {
		t.Fatalf("expected at most 3 backups retained, got %d: %v", len(backups), backups)
	}

	// The survivors must be the newest stamps ever seen.
	var allStamps []int64
	for stamp := range seen {
		allStamps = append(allStamps, stamp)
	}
	sort.Slice(allStamps, func(i, j int) bool { return allStamps[i] > allStamps[j] })
	newest := map[string]bool{}
	for i := 0; i < 3 && i < len(allStamps); i++ {
		newest[fmt.Sprintf("%s.backup-%d", path, allStamps[i])] = true
	}
	for _, name := range backups {
		if !newest[name] {
			t.Errorf("retained backup %s is not among the newest", name)
		}
	}
}

func TestFatalErrorPropagates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mind.mv2")
	corruptStore(t, path)

	// A classifier that recognizes nothing: every open failure is fatal.
	rejectAll := func(error) bool { return false }

	_, _, err := OpenSafely(path, Config{Classifier: rejectAll})
	if err == nil {
		t.Fatal("expected unclassified error to propagate")
	}
	if backups := listBackups(t, path); len(backups) != 0 {
		t.Errorf("fatal path must not quarantine, got %v", backups)
	}
}

func TestClassifierPluggable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mind.mv2")
	corruptStore(t, path)

	// A custom classifier that accepts anything recovers even errors the
	// default signatures would miss.
	acceptAll := func(error) bool { return true }

	e, isNew, err := OpenSafely(path, Config{Classifier: acceptAll})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()
	if !isNew {
		t.Error("custom classifier should have triggered recovery")
	}
}

func TestDefaultClassifier(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("file is not a database"), true},
		{errors.New("database disk image is malformed"), true},
		{errors.New("open store: invalid format: frames table missing"), true},
		{errors.New("data corrupt beyond repair"), true},
		{errors.New("schema version mismatch"), true},
		{errors.New("table of contents error"), true},
		{errors.New("permission denied"), false},
		{errors.New("no space left on device"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := DefaultClassifier(tc.err); got != tc.want {
			t.Errorf("DefaultClassifier(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
