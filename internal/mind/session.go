// Package mind coordinates cross-process access to one observation
// store: every read or write takes the store's advisory lock, re-opens a
// fresh handle, operates, and releases. Recovery from corrupt or
// oversized store files happens on that open path only; an operation
// failing after a successful open surfaces as an error. Recovering
// mid-operation could lose in-flight writes, so it is deliberately not
// attempted.
package mind

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/clawmem/mindstore/internal/engine"
	"github.com/clawmem/mindstore/internal/lock"
	"github.com/clawmem/mindstore/internal/model"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("mind session is closed")

// secondsThreshold separates second-resolution timestamps from
// millisecond ones: anything below it is treated as seconds.
const secondsThreshold = 100_000_000_000

// Stats summarizes the store.
type Stats struct {
	TotalObservations int   `json:"total_observations"`
	OldestTimestamp   int64 `json:"oldest_timestamp,omitempty"`
	NewestTimestamp   int64 `json:"newest_timestamp,omitempty"`
	FileSizeBytes     int64 `json:"file_size_bytes"`
}

// Session is a caller-owned handle over one store path. It keeps no
// store handle between operations; each one re-opens fresh under the
// lock so writes from other processes are never shadowed by cached
// state.
type Session struct {
	cfg       Config
	path      string
	sessionID string
	entropy   *rand.Rand
	closed    bool
}

// Open resolves the store path, ensures its directory, and verifies the
// store opens (recovering if needed) under the store lock.
func Open(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, errors.New("mind: Dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &Session{
		cfg:       cfg,
		path:      filepath.Join(cfg.Dir, cfg.StoreFile),
		sessionID: cfg.SessionID,
		entropy:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if s.sessionID == "" {
		s.sessionID = uuid.NewString()
	}

	err := s.withStore(func(*engine.Engine) error { return nil })
	if err != nil {
		return nil, err
	}
	return s, nil
}

// MemoryPath returns the store file path.
func (s *Session) MemoryPath() string {
	return s.path
}

// SessionID returns the controller's effective session identifier.
func (s *Session) SessionID() string {
	return s.sessionID
}

// Close marks the session unusable. There is no live handle to release;
// the method exists so callers own an explicit lifecycle instead of
// process-wide singleton state.
func (s *Session) Close() error {
	s.closed = true
	return nil
}

// withStore runs fn against a freshly opened store under the store lock.
// The fresh re-open per operation is the cross-process anti-staleness
// mechanism; do not cache the handle across calls.
func (s *Session) withStore(fn func(*engine.Engine) error) error {
	if s.closed {
		return ErrClosed
	}
	held, err := lock.Acquire(s.path+".lock", s.cfg.LockOptions)
	if err != nil {
		return err
	}
	defer held.Release()

	eng, _, err := OpenSafely(s.path, s.cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	return fn(eng)
}

// Remember persists one observation and returns its frame id. Write
// failures are not retried here; the lock's retry covers contention and
// store errors propagate as fatal.
func (s *Session) Remember(ctx context.Context, in model.ObservationInput) (string, error) {
	obs := s.buildObservation(in)

	var frameID string
	err := s.withStore(func(eng *engine.Engine) error {
		id, err := eng.Put(ctx, observationFrame(obs))
		if err != nil {
			return fmt.Errorf("write observation: %w", err)
		}
		frameID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return frameID, nil
}

// buildObservation constructs the full envelope: assigned id and
// timestamp, validated type and source, and metadata carrying the
// effective session id.
func (s *Session) buildObservation(in model.ObservationInput) model.Observation {
	now := time.Now()

	metadata := make(map[string]string, len(in.Metadata)+2)
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	if metadata[model.MetaSessionID] == "" {
		metadata[model.MetaSessionID] = s.sessionID
	}
	if !model.KnownSources[metadata[model.MetaSource]] {
		metadata[model.MetaSource] = model.SourceFallback
	}
	if in.Tool != "" {
		metadata[model.MetaTool] = in.Tool
	}

	obsType := in.Type
	if !model.ValidTypes[obsType] {
		obsType = model.TypeFallback
	}

	return model.Observation{
		ID:        ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
		Timestamp: now.UnixMilli(),
		Type:      obsType,
		Tool:      in.Tool,
		Summary:   in.Summary,
		Content:   in.Content,
		Metadata:  metadata,
	}
}

// Search returns observations ranked by lexical relevance.
func (s *Session) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	var results []model.SearchResult
	err := s.withStore(func(eng *engine.Engine) error {
		matches, err := eng.Find(ctx, query, engine.FindOptions{K: limit})
		if err != nil {
			return fmt.Errorf("search store: %w", err)
		}
		for _, m := range matches {
			results = append(results, model.SearchResult{
				Observation: frameObservation(m.Frame),
				Score:       m.Score,
				Snippet:     m.Snippet,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// NoAnswer is returned by Ask when the store yields nothing relevant.
const NoAnswer = "No relevant memories found."

// Ask answers a question from stored observations, best effort.
func (s *Session) Ask(ctx context.Context, question string) (string, error) {
	var answer string
	err := s.withStore(func(eng *engine.Engine) error {
		a, err := eng.Ask(ctx, question, engine.AskOptions{})
		if err != nil {
			return fmt.Errorf("ask store: %w", err)
		}
		answer = a
		return nil
	})
	if err != nil {
		return "", err
	}
	if answer == "" {
		answer = NoAnswer
	}
	return answer, nil
}

// GetContext assembles recent observations within the token budget, plus
// observations relevant to query when one is given. Accumulation stops
// once the budget is exceeded; what is already included stays whole.
func (s *Session) GetContext(ctx context.Context, query string) (*model.ContextBundle, error) {
	bundle := &model.ContextBundle{}
	err := s.withStore(func(eng *engine.Engine) error {
		frames, err := eng.Timeline(ctx, engine.TimelineOptions{
			Limit:   s.cfg.MaxContextObservations,
			Reverse: true,
		})
		if err != nil {
			return fmt.Errorf("timeline: %w", err)
		}

		used := 0
		for _, f := range frames {
			obs := frameObservation(f)
			bundle.Recent = append(bundle.Recent, obs)
			used += estimateTokens(obs.Summary) + estimateTokens(obs.Content)
			if used >= s.cfg.TokenBudget {
				break
			}
		}
		bundle.TokenBudgetUsed = used

		if query != "" {
			matches, err := eng.Find(ctx, query, engine.FindOptions{K: 5})
			if err != nil {
				return fmt.Errorf("context search: %w", err)
			}
			for _, m := range matches {
				bundle.Relevant = append(bundle.Relevant, model.SearchResult{
					Observation: frameObservation(m.Frame),
					Score:       m.Score,
					Snippet:     m.Snippet,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

// SaveSessionSummary persists a session summary observation. True
// session start is not tracked here, so start is approximated as an
// hour ago.
func (s *Session) SaveSessionSummary(ctx context.Context, summary string) (string, error) {
	start := time.Now().Add(-time.Hour).UnixMilli()
	return s.Remember(ctx, model.ObservationInput{
		Type:    "session",
		Summary: "Session summary",
		Content: summary,
		Metadata: map[string]string{
			"sessionStart": fmt.Sprintf("%d", start),
		},
	})
}

// Stats aggregates store statistics.
func (s *Session) Stats(ctx context.Context) (*Stats, error) {
	var out *Stats
	err := s.withStore(func(eng *engine.Engine) error {
		st, err := eng.Stats(ctx)
		if err != nil {
			return fmt.Errorf("store stats: %w", err)
		}
		out = &Stats{
			TotalObservations: st.FrameCount,
			OldestTimestamp:   normalizeMillis(st.OldestMillis),
			NewestTimestamp:   normalizeMillis(st.NewestMillis),
			FileSizeBytes:     st.SizeBytes,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// observationFrame maps an observation onto the store's frame shape.
func observationFrame(obs model.Observation) engine.Frame {
	return engine.Frame{
		ID:        obs.ID,
		Title:     obs.Summary,
		Label:     obs.Type,
		Text:      obs.Content,
		Tags:      frameTags(obs),
		Metadata:  obs.Metadata,
		CreatedAt: obs.Timestamp,
	}
}

func frameTags(obs model.Observation) []string {
	tags := []string{obs.Type}
	if obs.Tool != "" {
		tags = append(tags, obs.Tool)
	}
	return tags
}

// frameObservation maps a stored frame back into observation shape,
// normalizing second-resolution timestamps to milliseconds.
func frameObservation(f engine.Frame) model.Observation {
	obs := model.Observation{
		ID:        f.ID,
		Timestamp: normalizeMillis(f.CreatedAt),
		Type:      f.Label,
		Summary:   f.Title,
		Content:   f.Text,
		Metadata:  f.Metadata,
	}
	if obs.Metadata != nil {
		obs.Tool = obs.Metadata[model.MetaTool]
	}
	return obs
}

func normalizeMillis(ts int64) int64 {
	if ts > 0 && ts < secondsThreshold {
		return ts * 1000
	}
	return ts
}

func estimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 4))
}
