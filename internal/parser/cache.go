package parser

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	_ "modernc.org/sqlite"

	"oldparser/internal/logging"
)

// CacheEntry is the value half of a cache entry: the best parse string (nil
// if no candidate parsed) and its ranked candidate list (spec.md §3).
type CacheEntry struct {
	BestParse  *string  `json:"best_parse"`
	Candidates []string `json:"candidates"`
}

// maxCandidatesBytes bounds a persisted CacheEntry's serialized candidate
// list (spec.md §3). The Python original instead truncates the serialized
// JSON string itself to 500 bytes and re-serializes that fragment as a
// JSON string — that produces invalid, non-re-parseable JSON, which this
// port treats as a defect to fix rather than reproduce: truncation here
// drops whole candidates from the end of the list until the list itself
// serializes to at most this many bytes (see DESIGN.md).
const maxCandidatesBytes = 65000

// boundCandidates shrinks candidates until its JSON encoding is within
// maxCandidatesBytes, dropping from the end (lowest-ranked first, since
// candidates are stored best-first).
func boundCandidates(candidates []string) []string {
	data, err := json.Marshal(candidates)
	if err != nil || len(data) <= maxCandidatesBytes {
		return candidates
	}
	lo, hi := 0, len(candidates)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		d, err := json.Marshal(candidates[:mid])
		if err == nil && len(d) <= maxCandidatesBytes {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return candidates[:lo]
}

// Backend is the durable persistence layer behind a Cache (spec.md §4.4).
// memoryBackend, fileBackend, and sqliteBackend are the three
// implementations this package provides, selected by CacheConfig.Backend.
type Backend interface {
	// Persisted returns the subset of transcriptions already present in
	// durable storage for parserID.
	Persisted(ctx context.Context, parserID string, transcriptions []string) (map[string]bool, error)
	// Save appends entries not already persisted for parserID. It must
	// never overwrite or remove existing rows (spec.md §4.4 append-only
	// invariant).
	Save(ctx context.Context, parserID string, entries map[string]CacheEntry) error
	// Load reads a single entry, reporting ok=false on miss.
	Load(ctx context.Context, parserID, transcription string) (CacheEntry, bool, error)
	// Export returns every persisted entry for parserID.
	Export(ctx context.Context, parserID string) (map[string]CacheEntry, error)
	// Clear deletes every persisted row for parserID.
	Clear(ctx context.Context, parserID string) error
}

// Cache (C6) is a per-parser in-memory map over a pluggable durable
// backend. Grounded on original_source/old/lib/parser.py's Cache and
// models/morphologicalparser.py's table-backed Cache.
type Cache struct {
	parserID string
	backend  Backend

	mu      sync.Mutex
	store   map[string]CacheEntry
	updated bool

	group singleflight.Group
}

// NewCache constructs a Cache for parserID backed by backend.
func NewCache(parserID string, backend Backend) *Cache {
	return &Cache{
		parserID: parserID,
		backend:  backend,
		store:    map[string]CacheEntry{},
	}
}

// cacheLookup is the result of a backend lookup, used to let concurrent
// Get calls for the same miss share one singleflight-deduplicated query.
type cacheLookup struct {
	entry CacheEntry
	found bool
}

// Get returns the cached entry for k: in-memory first, then the durable
// backend, then (def, false) if both miss (spec.md §4.4). Concurrent
// misses on the same key are collapsed into a single backend query.
func (c *Cache) Get(ctx context.Context, k string, def CacheEntry) (CacheEntry, bool, error) {
	c.mu.Lock()
	if v, ok := c.store[k]; ok {
		c.mu.Unlock()
		return v, true, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(k, func() (interface{}, error) {
		entry, ok, err := c.backend.Load(ctx, c.parserID, k)
		if err != nil {
			return cacheLookup{}, err
		}
		if ok {
			c.mu.Lock()
			c.store[k] = entry
			c.mu.Unlock()
		}
		return cacheLookup{entry: entry, found: ok}, nil
	})
	if err != nil {
		return def, false, err
	}
	lookup := v.(cacheLookup)
	if !lookup.found {
		return def, false, nil
	}
	return lookup.entry, true, nil
}

// Set writes k->v to the in-memory store, marking the cache updated if k
// was previously absent (spec.md §4.4).
func (c *Cache) Set(k string, v CacheEntry) {
	v.Candidates = boundCandidates(v.Candidates)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.store[k]; !ok {
		c.updated = true
	}
	c.store[k] = v
}

// Persist writes every in-memory entry not yet in the durable backend, then
// clears the updated flag. It never removes backend rows (spec.md §4.4
// append-only invariant).
func (c *Cache) Persist(ctx context.Context) error {
	c.mu.Lock()
	if !c.updated {
		c.mu.Unlock()
		return nil
	}
	keys := make([]string, 0, len(c.store))
	snapshot := make(map[string]CacheEntry, len(c.store))
	for k, v := range c.store {
		keys = append(keys, k)
		snapshot[k] = v
	}
	c.mu.Unlock()

	persisted, err := c.backend.Persisted(ctx, c.parserID, keys)
	if err != nil {
		return err
	}
	unpersisted := make(map[string]CacheEntry)
	for k, v := range snapshot {
		if !persisted[k] {
			unpersisted[k] = v
		}
	}
	if len(unpersisted) > 0 {
		if err := c.backend.Save(ctx, c.parserID, unpersisted); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.updated = false
	c.mu.Unlock()
	logging.Debug(logging.CategoryCache, "persisted %d new entries for parser %s", len(unpersisted), c.parserID)
	return nil
}

// Clear empties the in-memory store. If persist is true, it also deletes
// every durable row for this parser (spec.md §4.4).
func (c *Cache) Clear(ctx context.Context, persist bool) error {
	c.mu.Lock()
	c.store = map[string]CacheEntry{}
	c.mu.Unlock()
	if !persist {
		return nil
	}
	if err := c.backend.Clear(ctx, c.parserID); err != nil {
		return err
	}
	c.mu.Lock()
	c.updated = false
	c.mu.Unlock()
	logging.Info(logging.CategoryCache, "cleared durable cache for parser %s", c.parserID)
	return nil
}

// Export merges the durable backend's entries into the in-memory store and
// returns the resulting store (spec.md §4.4).
func (c *Cache) Export(ctx context.Context) (map[string]CacheEntry, error) {
	persisted, err := c.backend.Export(ctx, c.parserID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range persisted {
		if _, ok := c.store[k]; !ok {
			c.store[k] = v
		}
	}
	out := make(map[string]CacheEntry, len(c.store))
	for k, v := range c.store {
		out[k] = v
	}
	return out, nil
}

// memoryBackend is a process-lifetime-only Backend: "persistence" that
// does not survive restart, used when CacheConfig.Backend == "memory".
type memoryBackend struct {
	mu   sync.Mutex
	data map[string]map[string]CacheEntry // parserID -> transcription -> entry
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: map[string]map[string]CacheEntry{}}
}

func (m *memoryBackend) Persisted(_ context.Context, parserID string, transcriptions []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	rows := m.data[parserID]
	for _, t := range transcriptions {
		if _, ok := rows[t]; ok {
			out[t] = true
		}
	}
	return out, nil
}

func (m *memoryBackend) Save(_ context.Context, parserID string, entries map[string]CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.data[parserID]
	if !ok {
		rows = map[string]CacheEntry{}
		m.data[parserID] = rows
	}
	for k, v := range entries {
		if _, exists := rows[k]; !exists {
			rows[k] = v
		}
	}
	return nil
}

func (m *memoryBackend) Load(_ context.Context, parserID, transcription string) (CacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[parserID][transcription]
	return entry, ok, nil
}

func (m *memoryBackend) Export(_ context.Context, parserID string) (map[string]CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]CacheEntry, len(m.data[parserID]))
	for k, v := range m.data[parserID] {
		out[k] = v
	}
	return out, nil
}

func (m *memoryBackend) Clear(_ context.Context, parserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, parserID)
	return nil
}

// NewMemoryBackend returns a Backend usable for CacheConfig.Backend ==
// "memory" (the default) and for tests.
func NewMemoryBackend() Backend { return newMemoryBackend() }

// fileBackend persists cache rows as a single JSON file, loaded in full when
// opened and rewritten in full on every Save/Clear. This mirrors
// original_source/old/lib/parser.py's Cache, whose persist() pickle.dumps
// its entire in-memory dict to one path rather than using a database.
type fileBackend struct {
	path string

	mu   sync.Mutex
	data map[string]map[string]CacheEntry // parserID -> transcription -> entry
}

// NewFileBackend opens (loading any existing rows from) a JSON cache file at
// path, for CacheConfig.Backend == "file".
func NewFileBackend(path string) (Backend, error) {
	fb := &fileBackend{path: path, data: map[string]map[string]CacheEntry{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fb, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return fb, nil
	}
	if err := json.Unmarshal(raw, &fb.data); err != nil {
		return nil, err
	}
	return fb, nil
}

func (f *fileBackend) Persisted(_ context.Context, parserID string, transcriptions []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	rows := f.data[parserID]
	for _, t := range transcriptions {
		if _, ok := rows[t]; ok {
			out[t] = true
		}
	}
	return out, nil
}

func (f *fileBackend) Save(_ context.Context, parserID string, entries map[string]CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows, ok := f.data[parserID]
	if !ok {
		rows = map[string]CacheEntry{}
		f.data[parserID] = rows
	}
	for k, v := range entries {
		if _, exists := rows[k]; !exists {
			rows[k] = v
		}
	}
	return f.writeLocked()
}

func (f *fileBackend) Load(_ context.Context, parserID, transcription string) (CacheEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.data[parserID][transcription]
	return entry, ok, nil
}

func (f *fileBackend) Export(_ context.Context, parserID string) (map[string]CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]CacheEntry, len(f.data[parserID]))
	for k, v := range f.data[parserID] {
		out[k] = v
	}
	return out, nil
}

func (f *fileBackend) Clear(_ context.Context, parserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, parserID)
	return f.writeLocked()
}

// writeLocked rewrites the whole cache file from f.data. Callers must hold f.mu.
func (f *fileBackend) writeLocked() error {
	data, err := json.Marshal(f.data)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o644)
}

// sqliteBackend persists cache rows to a SQLite database via
// modernc.org/sqlite, mirroring models/morphologicalparser.py's
// table-backed Cache (parser_id, transcription, parse, candidates).
type sqliteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and, if needed, migrates) a SQLite database at
// path for cache persistence.
func NewSQLiteBackend(path string) (Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	const schema = `
CREATE TABLE IF NOT EXISTS parses (
	parser_id      TEXT NOT NULL,
	transcription   TEXT NOT NULL,
	parse           TEXT,
	candidates      TEXT NOT NULL,
	PRIMARY KEY (parser_id, transcription)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteBackend{db: db}, nil
}

func (s *sqliteBackend) Persisted(ctx context.Context, parserID string, transcriptions []string) (map[string]bool, error) {
	out := map[string]bool{}
	if len(transcriptions) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT transcription FROM parses WHERE parser_id = ?`, parserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	want := make(map[string]bool, len(transcriptions))
	for _, t := range transcriptions {
		want[t] = true
	}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		if want[t] {
			out[t] = true
		}
	}
	return out, rows.Err()
}

func (s *sqliteBackend) Save(ctx context.Context, parserID string, entries map[string]CacheEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO parses (parser_id, transcription, parse, candidates) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for transcription, entry := range entries {
		candidatesJSON, err := json.Marshal(entry.Candidates)
		if err != nil {
			tx.Rollback()
			return err
		}
		var parse sql.NullString
		if entry.BestParse != nil {
			parse = sql.NullString{String: *entry.BestParse, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, parserID, transcription, parse, string(candidatesJSON)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteBackend) Load(ctx context.Context, parserID, transcription string) (CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT parse, candidates FROM parses WHERE parser_id = ? AND transcription = ?`, parserID, transcription)
	var parse sql.NullString
	var candidatesJSON string
	if err := row.Scan(&parse, &candidatesJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CacheEntry{}, false, nil
		}
		return CacheEntry{}, false, err
	}
	var candidates []string
	if err := json.Unmarshal([]byte(candidatesJSON), &candidates); err != nil {
		return CacheEntry{}, false, err
	}
	entry := CacheEntry{Candidates: candidates}
	if parse.Valid {
		entry.BestParse = &parse.String
	}
	return entry, true, nil
}

func (s *sqliteBackend) Export(ctx context.Context, parserID string) (map[string]CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT transcription, parse, candidates FROM parses WHERE parser_id = ?`, parserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]CacheEntry{}
	for rows.Next() {
		var transcription string
		var parse sql.NullString
		var candidatesJSON string
		if err := rows.Scan(&transcription, &parse, &candidatesJSON); err != nil {
			return nil, err
		}
		var candidates []string
		if err := json.Unmarshal([]byte(candidatesJSON), &candidates); err != nil {
			return nil, err
		}
		entry := CacheEntry{Candidates: candidates}
		if parse.Valid {
			entry.BestParse = &parse.String
		}
		out[transcription] = entry
	}
	return out, rows.Err()
}

func (s *sqliteBackend) Clear(ctx context.Context, parserID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM parses WHERE parser_id = ?`, parserID)
	return err
}
