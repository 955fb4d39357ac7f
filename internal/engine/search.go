package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// FindOptions configures a search.
type FindOptions struct {
	K    int    // max results
	Mode string // "lexical" (default); reserved for future modes
}

// Match is one ranked search hit.
type Match struct {
	Frame
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}

// Find returns up to K frames ranked by lexical relevance. FTS5 ranking
// is used when the query produces hits; otherwise a LIKE scan catches
// substring matches FTS tokenization misses.
func (e *Engine) Find(ctx context.Context, query string, opts FindOptions) ([]Match, error) {
	k := opts.K
	if k <= 0 {
		k = 10
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matches, err := e.findFTS(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return matches, nil
	}
	return e.findLike(ctx, query, k)
}

func (e *Engine) findFTS(ctx context.Context, query string, k int) ([]Match, error) {
	fq := ftsQuery(query)
	if fq == "" {
		return nil, nil
	}

	rows, err := e.db.QueryContext(ctx,
		`SELECT f.id, f.title, f.label, f.text, f.tags, f.metadata, f.created_at,
		        snippet(frames_fts, 1, '', '', '…', 12)
		 FROM frames_fts
		 JOIN frames f ON f.rowid = frames_fts.rowid
		 WHERE frames_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`, fq, k)
	if err != nil {
		// A term the rewriter let through can still be FTS syntax;
		// treat it as no hits so the LIKE scan runs.
		return nil, nil
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var f Frame
		var tagsJSON, metaJSON sql.NullString
		var snip string
		err := rows.Scan(&f.ID, &f.Title, &f.Label, &f.Text, &tagsJSON, &metaJSON, &f.CreatedAt, &snip)
		if err != nil {
			return nil, err
		}
		if tagsJSON.Valid {
			json.Unmarshal([]byte(tagsJSON.String), &f.Tags)
		}
		if metaJSON.Valid {
			json.Unmarshal([]byte(metaJSON.String), &f.Metadata)
		}
		matches = append(matches, Match{
			Frame:   f,
			Score:   positionScore(len(matches)),
			Snippet: snip,
		})
	}
	return matches, rows.Err()
}

func (e *Engine) findLike(ctx context.Context, query string, k int) ([]Match, error) {
	pattern := "%" + query + "%"
	rows, err := e.db.QueryContext(ctx,
		`SELECT id, title, label, text, tags, metadata, created_at
		 FROM frames
		 WHERE title LIKE ? OR text LIKE ?
		 ORDER BY created_at DESC
		 LIMIT ?`, pattern, pattern, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{
			Frame:   f,
			Score:   positionScore(len(matches)),
			Snippet: excerptAround(f.Text, query),
		})
	}
	return matches, rows.Err()
}

// AskOptions configures a best-effort answer.
type AskOptions struct {
	K    int
	Mode string
}

// Ask derives an extractive answer from the best-matching frame. An
// empty answer means no frame was relevant; the caller decides the
// fallback wording.
func (e *Engine) Ask(ctx context.Context, query string, opts AskOptions) (string, error) {
	k := opts.K
	if k <= 0 {
		k = 3
	}
	matches, err := e.Find(ctx, query, FindOptions{K: k, Mode: opts.Mode})
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	best := matches[0]
	if best.Snippet != "" {
		return fmt.Sprintf("%s: %s", best.Title, best.Snippet), nil
	}
	return best.Title, nil
}

// positionScore ranks by result position, mirroring the ordering the
// query already produced.
func positionScore(pos int) float64 {
	s := 1.0 - 0.05*float64(pos)
	if s < 0.1 {
		return 0.1
	}
	return s
}

// excerptAround returns a short window of text centered on the first
// occurrence of query, or the leading text when absent.
func excerptAround(text, query string) string {
	const window = 80
	idx := strings.Index(strings.ToLower(text), strings.ToLower(query))
	if idx < 0 {
		idx = 0
	}
	start := idx - window/2
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(text) {
		end = len(text)
	}
	out := text[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}
