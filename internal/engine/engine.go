// Package engine implements the frame store: a durable, queryable,
// append-oriented record store bound to a single SQLite file. One frame
// corresponds to one observation; frames are written once and never
// updated in place.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Frame is one physical record.
type Frame struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Label     string            `json:"label"`
	Text      string            `json:"text"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"` // epoch milliseconds
}

// Engine is a handle to one store file. Handles are cheap to open and
// hold no exclusivity themselves; callers coordinate via file locks.
type Engine struct {
	db      *sql.DB
	path    string
	entropy *rand.Rand
}

// Create makes a fresh store at path, initializing the schema. The file
// may already exist as an empty or schema-less SQLite database.
func Create(path string) (*Engine, error) {
	e, err := connect(path)
	if err != nil {
		return nil, err
	}
	if err := e.migrate(); err != nil {
		e.db.Close()
		return nil, fmt.Errorf("initialize store: %w", err)
	}
	return e, nil
}

// Open opens an existing store at path. It fails if the file is absent,
// and probes the schema so that a corrupt or foreign file is reported at
// open time rather than on first use.
func Open(path string) (*Engine, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	e, err := connect(path)
	if err != nil {
		return nil, err
	}
	var n int
	err = e.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'frames'`).Scan(&n)
	if err != nil {
		e.db.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	if n == 0 {
		e.db.Close()
		return nil, fmt.Errorf("open store %s: invalid format: frames table missing", path)
	}
	return e, nil
}

func connect(path string) (*Engine, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return &Engine{
		db:      db,
		path:    path,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (e *Engine) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), e.entropy).String()
}

func (e *Engine) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS frames (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		label      TEXT NOT NULL DEFAULT 'note',
		text       TEXT NOT NULL,
		tags       TEXT,
		metadata   TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_frames_created ON frames(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_frames_label ON frames(label);

	CREATE VIRTUAL TABLE IF NOT EXISTS frames_fts USING fts5(
		title,
		text,
		content=frames,
		content_rowid=rowid
	);
	`
	if _, err := e.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 triggers for automatic sync
	e.db.Exec(`CREATE TRIGGER IF NOT EXISTS frames_ai AFTER INSERT ON frames BEGIN
		INSERT INTO frames_fts(rowid, title, text) VALUES (new.rowid, new.title, new.text);
	END`)
	e.db.Exec(`CREATE TRIGGER IF NOT EXISTS frames_ad AFTER DELETE ON frames BEGIN
		INSERT INTO frames_fts(frames_fts, rowid, title, text) VALUES('delete', old.rowid, old.title, old.text);
	END`)

	return nil
}

// Put appends one frame and returns its identifier. A caller-supplied ID
// is honored; an empty one is assigned. A zero CreatedAt means now.
func (e *Engine) Put(ctx context.Context, f Frame) (string, error) {
	id := f.ID
	if id == "" {
		id = e.newID()
	}
	createdAt := f.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}

	var tagsJSON *string
	if len(f.Tags) > 0 {
		b, _ := json.Marshal(f.Tags)
		s := string(b)
		tagsJSON = &s
	}
	var metaJSON *string
	if len(f.Metadata) > 0 {
		b, _ := json.Marshal(f.Metadata)
		s := string(b)
		metaJSON = &s
	}

	_, err := e.db.ExecContext(ctx,
		`INSERT INTO frames (id, title, label, text, tags, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, f.Title, f.Label, f.Text, tagsJSON, metaJSON, createdAt)
	if err != nil {
		return "", fmt.Errorf("insert frame: %w", err)
	}
	return id, nil
}

// TimelineOptions configures chronological listing.
type TimelineOptions struct {
	Limit   int
	Reverse bool // newest first
}

// Timeline lists frames in chronological order.
func (e *Engine) Timeline(ctx context.Context, opts TimelineOptions) ([]Frame, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	order := "ASC"
	if opts.Reverse {
		order = "DESC"
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, title, label, text, tags, metadata, created_at
		 FROM frames ORDER BY created_at %s, id %s LIMIT ?`, order, order), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// Stats holds store statistics.
type Stats struct {
	FrameCount   int   `json:"frame_count"`
	SizeBytes    int64 `json:"size_bytes"`
	OldestMillis int64 `json:"oldest_millis,omitempty"`
	NewestMillis int64 `json:"newest_millis,omitempty"`
}

// Stats aggregates counts and boundary timestamps.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	if info, err := os.Stat(e.path); err == nil {
		st.SizeBytes = info.Size()
	}
	if err := e.db.QueryRowContext(ctx, `SELECT count(*) FROM frames`).Scan(&st.FrameCount); err != nil {
		return nil, err
	}
	if st.FrameCount > 0 {
		var oldest, newest sql.NullInt64
		err := e.db.QueryRowContext(ctx, `SELECT min(created_at), max(created_at) FROM frames`).Scan(&oldest, &newest)
		if err != nil {
			return nil, err
		}
		st.OldestMillis = oldest.Int64
		st.NewestMillis = newest.Int64
	}
	return st, nil
}

// Path returns the store file path this handle is bound to.
func (e *Engine) Path() string {
	return e.path
}

// Close releases the database connection.
func (e *Engine) Close() error {
	return e.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFrame(row scanner) (Frame, error) {
	var f Frame
	var tagsJSON, metaJSON sql.NullString

	err := row.Scan(&f.ID, &f.Title, &f.Label, &f.Text, &tagsJSON, &metaJSON, &f.CreatedAt)
	if err != nil {
		return f, err
	}
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &f.Tags)
	}
	if metaJSON.Valid {
		json.Unmarshal([]byte(metaJSON.String), &f.Metadata)
	}
	return f, nil
}

// ftsQuery rewrites free text into an FTS5 query of quoted terms so user
// input never hits MATCH syntax errors.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	terms := make([]string, 0, len(fields))
	for _, w := range fields {
		w = strings.ReplaceAll(w, `"`, "")
		if w != "" {
			terms = append(terms, `"`+w+`"`)
		}
	}
	return strings.Join(terms, " ")
}
