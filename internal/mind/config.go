package mind

import (
	"io"
	"log/slog"

	"github.com/clawmem/mindstore/internal/lock"
)

// Defaults for Config fields left zero.
const (
	DefaultStoreFile              = "mind.mv2"
	DefaultMaxBackups             = 3
	DefaultMaxStoreBytes          = 100 << 20 // 100 MB
	DefaultMaxContextObservations = 10
	DefaultTokenBudget            = 2000
)

// Config configures a Session.
type Config struct {
	// Dir is the directory holding the store file and its siblings.
	Dir string

	// StoreFile is the store file name within Dir.
	StoreFile string

	// SessionID overrides the generated controller session identifier.
	SessionID string

	// MaxBackups bounds retained quarantine backups per store path.
	MaxBackups int

	// MaxStoreBytes is the plausibility ceiling; a larger file is
	// quarantined even if it would open.
	MaxStoreBytes int64

	// MaxContextObservations caps the recent list in GetContext.
	MaxContextObservations int

	// TokenBudget caps the estimated tokens accumulated by GetContext.
	TokenBudget int

	// Classifier decides whether a store-open error is recoverable
	// corruption. Nil means DefaultClassifier.
	Classifier Classifier

	LockOptions lock.Options
	Logger      *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.StoreFile == "" {
		c.StoreFile = DefaultStoreFile
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = DefaultMaxBackups
	}
	if c.MaxStoreBytes <= 0 {
		c.MaxStoreBytes = DefaultMaxStoreBytes
	}
	if c.MaxContextObservations <= 0 {
		c.MaxContextObservations = DefaultMaxContextObservations
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = DefaultTokenBudget
	}
	if c.Classifier == nil {
		c.Classifier = DefaultClassifier
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}
