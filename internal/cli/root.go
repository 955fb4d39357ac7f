// Package cli implements the mindstore CLI commands. Hook adapters call
// these commands as short-lived processes; all coordination happens in
// the packages underneath.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clawmem/mindstore/internal/mind"
)

var (
	dirFlag     string
	sessionFlag string
	verboseFlag bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "mindstore",
	Short: "Durable observation memory for coding-assistant hooks",
	Long:  "A file-backed observation store shared safely across hook processes. Text in, JSON out.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "d", "", "Store directory (default: $MINDSTORE_DIR or ~/.mindstore)")
	RootCmd.PersistentFlags().StringVarP(&sessionFlag, "session", "s", "", "Explicit session id (default: registry lookup)")
	RootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log diagnostics to stderr")
}

func storeDir() string {
	if dirFlag != "" {
		return dirFlag
	}
	if env := os.Getenv("MINDSTORE_DIR"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mindstore")
}

func logger() *slog.Logger {
	if verboseFlag {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openSession() (*mind.Session, error) {
	return mind.Open(mind.Config{
		Dir:       storeDir(),
		SessionID: sessionFlag,
		Logger:    logger(),
	})
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
