package dedup

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	a, err := Fingerprint("Bash", map[string]any{"command": "ls", "timeout": 5})
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	b, err := Fingerprint("Bash", map[string]any{"timeout": 5, "command": "ls"})
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if a != b {
		t.Error("canonicalization must make key order irrelevant")
	}

	c, _ := Fingerprint("Bash", map[string]any{"command": "pwd"})
	if a == c {
		t.Error("different inputs must fingerprint differently")
	}

	d, _ := Fingerprint("Edit", map[string]any{"command": "ls", "timeout": 5})
	if a == d {
		t.Error("different tools must fingerprint differently")
	}
}

func TestDuplicateWithinWindow(t *testing.T) {
	l := &Ledger{Dir: t.TempDir()}

	dup, err := l.IsDuplicate("proj", "Bash", map[string]any{"command": "go vet"})
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if dup {
		t.Fatal("first sighting must not be a duplicate")
	}

	dup, err = l.IsDuplicate("proj", "Bash", map[string]any{"command": "go vet"})
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !dup {
		t.Fatal("second sighting within the window must be a duplicate")
	}
}

func TestWindowExpiry(t *testing.T) {
	l := &Ledger{Dir: t.TempDir(), Window: 30 * time.Millisecond}

	if dup, _ := l.IsDuplicate("proj", "Bash", "x"); dup {
		t.Fatal("first sighting flagged duplicate")
	}
	time.Sleep(60 * time.Millisecond)
	if dup, _ := l.IsDuplicate("proj", "Bash", "x"); dup {
		t.Fatal("expired entry must not suppress a new observation")
	}
}

func TestScopeSeparation(t *testing.T) {
	l := &Ledger{Dir: t.TempDir()}

	l.IsDuplicate("proj-a", "Bash", "x")
	if dup, _ := l.IsDuplicate("proj-b", "Bash", "x"); dup {
		t.Fatal("scopes must not share fingerprints")
	}
}

func TestSurvivesProcessBoundary(t *testing.T) {
	dir := t.TempDir()

	// Two separate Ledger values simulate two hook processes sharing
	// only the filesystem.
	first := &Ledger{Dir: dir}
	second := &Ledger{Dir: dir}

	first.IsDuplicate("proj", "Write", map[string]any{"path": "main.go"})
	dup, err := second.IsDuplicate("proj", "Write", map[string]any{"path": "main.go"})
	if err != nil {
		t.Fatalf("second process check: %v", err)
	}
	if !dup {
		t.Fatal("dedup must work across process boundaries via the ledger file")
	}
}

func TestConcurrentCheckAdmitsOne(t *testing.T) {
	dir := t.TempDir()

	var wg sync.WaitGroup
	accepted := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := &Ledger{Dir: dir}
			dup, err := l.IsDuplicate("proj", "Bash", map[string]any{"command": "make"})
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			if !dup {
				accepted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(accepted)

	if n := len(accepted); n != 1 {
		t.Fatalf("expected exactly 1 acceptance, got %d", n)
	}
}

func TestCorruptLedgerIsAdvisory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, LedgerFile), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("plant corrupt ledger: %v", err)
	}

	l := &Ledger{Dir: dir}
	dup, err := l.IsDuplicate("proj", "Bash", "x")
	if err != nil {
		t.Fatalf("corrupt ledger must not fail the check: %v", err)
	}
	if dup {
		t.Fatal("corrupt ledger must reset to empty, not report duplicates")
	}
}
