// file: internal/database/sqlite_store.go
// version: 1.4.2
// guid: 9c1d5e8a-7f2b-4c3d-8e6a-0b4f9a2c7d15

package database

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements the Store interface using SQLite3.
//
// One mutex guards the whole store: exactly one call is in flight at a time.
// Throughput does not matter for a single-user proxy; never having to reason
// about SQLite write contention does.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates all required tables. Runs unconditionally at open so a
// missing or fresh database file never fails startup.
func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS libraries (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS series (
		id INTEGER PRIMARY KEY,
		library_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		read_pages INTEGER NOT NULL DEFAULT 0,
		pages INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_series_library ON series(library_id);

	CREATE TABLE IF NOT EXISTS volumes (
		id INTEGER PRIMARY KEY,
		series_id INTEGER NOT NULL,
		chapter_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		read_pages INTEGER NOT NULL DEFAULT 0,
		pages INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_volumes_series ON volumes(series_id);

	CREATE TABLE IF NOT EXISTS series_covers (
		series_id INTEGER PRIMARY KEY,
		filepath TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS volume_covers (
		volume_id INTEGER PRIMARY KEY,
		filepath TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cached_pages (
		chapter_id INTEGER NOT NULL,
		page INTEGER NOT NULL,
		filepath TEXT NOT NULL,
		PRIMARY KEY (chapter_id, page)
	);

	CREATE TABLE IF NOT EXISTS offline_progress (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		library_id INTEGER NOT NULL,
		series_id INTEGER NOT NULL,
		volume_id INTEGER NOT NULL,
		chapter_id INTEGER NOT NULL,
		page INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Setting returns the value for a key, or "" when the key is absent.
func (s *SQLiteStore) Setting(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a key/value pair, replacing any existing value.
func (s *SQLiteStore) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// Settings returns all settings as a map.
func (s *SQLiteStore) Settings() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// UpsertLibrary inserts or updates a library row keyed by its remote id.
func (s *SQLiteStore) UpsertLibrary(l Library) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO libraries (id, title) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title`, l.ID, l.Title)
	if err != nil {
		return fmt.Errorf("failed to upsert library %d: %w", l.ID, err)
	}
	return nil
}

// Libraries returns all mirrored libraries ordered by title.
func (s *SQLiteStore) Libraries() ([]Library, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, title FROM libraries ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	defer rows.Close()

	var out []Library
	for rows.Next() {
		var l Library
		if err := rows.Scan(&l.ID, &l.Title); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertSeries inserts or updates a series row keyed by its remote id.
func (s *SQLiteStore) UpsertSeries(sr Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO series (id, library_id, title, read_pages, pages)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			library_id = excluded.library_id,
			title = excluded.title,
			read_pages = excluded.read_pages,
			pages = excluded.pages`,
		sr.ID, sr.LibraryID, sr.Title, sr.ReadPages, sr.Pages)
	if err != nil {
		return fmt.Errorf("failed to upsert series %d: %w", sr.ID, err)
	}
	return nil
}

// SeriesByLibrary returns the mirrored series of a library ordered by title,
// with the read percentage derived.
func (s *SQLiteStore) SeriesByLibrary(libraryID int) ([]Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, library_id, title, read_pages, pages
		FROM series WHERE library_id = ? ORDER BY title`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	defer rows.Close()

	var out []Series
	for rows.Next() {
		var sr Series
		if err := rows.Scan(&sr.ID, &sr.LibraryID, &sr.Title, &sr.ReadPages, &sr.Pages); err != nil {
			return nil, err
		}
		sr.Read = ReadPercent(sr.ReadPages, sr.Pages)
		out = append(out, sr)
	}
	return out, rows.Err()
}

// SetSeriesReadPages updates the local read counter of a series.
func (s *SQLiteStore) SetSeriesReadPages(seriesID, pages int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE series SET read_pages = ? WHERE id = ?`, pages, seriesID)
	if err != nil {
		return fmt.Errorf("failed to update series %d read pages: %w", seriesID, err)
	}
	return nil
}

// UpsertVolume inserts or updates a volume row keyed by its remote id.
func (s *SQLiteStore) UpsertVolume(v Volume) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO volumes (id, series_id, chapter_id, title, read_pages, pages)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			series_id = excluded.series_id,
			chapter_id = excluded.chapter_id,
			title = excluded.title,
			read_pages = excluded.read_pages,
			pages = excluded.pages`,
		v.ID, v.SeriesID, v.ChapterID, v.Title, v.Read, v.Pages)
	if err != nil {
		return fmt.Errorf("failed to upsert volume %d: %w", v.ID, err)
	}
	return nil
}

// VolumesBySeries returns the mirrored volumes of a series.
func (s *SQLiteStore) VolumesBySeries(seriesID int) ([]Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, series_id, chapter_id, title, read_pages, pages
		FROM volumes WHERE series_id = ?`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}
	defer rows.Close()

	var out []Volume
	for rows.Next() {
		var v Volume
		if err := rows.Scan(&v.ID, &v.SeriesID, &v.ChapterID, &v.Title, &v.Read, &v.Pages); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SetVolumeReadPages updates the local read counter of a volume. A pages value
// of -1 marks the volume fully read.
func (s *SQLiteStore) SetVolumeReadPages(seriesID, volumeID, pages int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if pages < 0 {
		_, err = s.db.Exec(`
			UPDATE volumes SET read_pages = pages
			WHERE id = ? AND series_id = ?`, volumeID, seriesID)
	} else {
		_, err = s.db.Exec(`
			UPDATE volumes SET read_pages = ?
			WHERE id = ? AND series_id = ?`, pages, volumeID, seriesID)
	}
	if err != nil {
		return fmt.Errorf("failed to update volume %d read pages: %w", volumeID, err)
	}
	return nil
}

// SeriesCover returns the cover file path for a series, or "" when absent.
func (s *SQLiteStore) SeriesCover(seriesID int) (string, error) {
	return s.coverPath(`SELECT filepath FROM series_covers WHERE series_id = ?`, seriesID)
}

// SetSeriesCover stores (or replaces) the cover file path for a series.
func (s *SQLiteStore) SetSeriesCover(seriesID int, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO series_covers (series_id, filepath) VALUES (?, ?)
		ON CONFLICT(series_id) DO UPDATE SET filepath = excluded.filepath`, seriesID, path)
	if err != nil {
		return fmt.Errorf("failed to set series cover %d: %w", seriesID, err)
	}
	return nil
}

// VolumeCover returns the cover file path for a volume, or "" when absent.
func (s *SQLiteStore) VolumeCover(volumeID int) (string, error) {
	return s.coverPath(`SELECT filepath FROM volume_covers WHERE volume_id = ?`, volumeID)
}

// SetVolumeCover stores (or replaces) the cover file path for a volume.
func (s *SQLiteStore) SetVolumeCover(volumeID int, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO volume_covers (volume_id, filepath) VALUES (?, ?)
		ON CONFLICT(volume_id) DO UPDATE SET filepath = excluded.filepath`, volumeID, path)
	if err != nil {
		return fmt.Errorf("failed to set volume cover %d: %w", volumeID, err)
	}
	return nil
}

func (s *SQLiteStore) coverPath(query string, id int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var path string
	err := s.db.QueryRow(query, id).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get cover for %d: %w", id, err)
	}
	return path, nil
}

// Page returns the cached file path for (chapterID, page), or "" when the page
// was never cached.
func (s *SQLiteStore) Page(chapterID, page int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var path string
	err := s.db.QueryRow(`
		SELECT filepath FROM cached_pages WHERE chapter_id = ? AND page = ?`,
		chapterID, page).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get page %d/%d: %w", chapterID, page, err)
	}
	return path, nil
}

// AddPage records a cached page file, replacing any previous path for the key.
func (s *SQLiteStore) AddPage(chapterID, page int, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO cached_pages (chapter_id, page, filepath) VALUES (?, ?, ?)
		ON CONFLICT(chapter_id, page) DO UPDATE SET filepath = excluded.filepath`,
		chapterID, page, path)
	if err != nil {
		return fmt.Errorf("failed to add page %d/%d: %w", chapterID, page, err)
	}
	return nil
}

// CountPages counts cached pages of a chapter within [1, pages].
func (s *SQLiteStore) CountPages(chapterID, pages int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM cached_pages
		WHERE chapter_id = ? AND page BETWEEN 1 AND ?`, chapterID, pages).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages for chapter %d: %w", chapterID, err)
	}
	return n, nil
}

// PagePathsByChapter returns the file paths of all cached pages of a chapter.
func (s *SQLiteStore) PagePathsByChapter(chapterID int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT filepath FROM cached_pages WHERE chapter_id = ?`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages for chapter %d: %w", chapterID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePage removes a cached-page row. Used when the backing file went
// missing and the row must not satisfy future lookups.
func (s *SQLiteStore) DeletePage(chapterID, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM cached_pages WHERE chapter_id = ? AND page = ?`, chapterID, page)
	if err != nil {
		return fmt.Errorf("failed to delete page %d/%d: %w", chapterID, page, err)
	}
	return nil
}

// AddOfflineProgress appends a pending progress record.
func (s *SQLiteStore) AddOfflineProgress(p OfflineProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO offline_progress (library_id, series_id, volume_id, chapter_id, page)
		VALUES (?, ?, ?, ?, ?)`,
		p.LibraryID, p.SeriesID, p.VolumeID, p.ChapterID, p.Page)
	if err != nil {
		return fmt.Errorf("failed to add offline progress: %w", err)
	}
	return nil
}

// OfflineProgress returns all pending progress records in insertion order.
func (s *SQLiteStore) OfflineProgress() ([]OfflineProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, library_id, series_id, volume_id, chapter_id, page
		FROM offline_progress ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list offline progress: %w", err)
	}
	defer rows.Close()

	var out []OfflineProgress
	for rows.Next() {
		var p OfflineProgress
		if err := rows.Scan(&p.ID, &p.LibraryID, &p.SeriesID, &p.VolumeID, &p.ChapterID, &p.Page); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountOfflineProgress returns the number of pending progress records.
func (s *SQLiteStore) CountOfflineProgress() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM offline_progress`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count offline progress: %w", err)
	}
	return n, nil
}

// ClearOfflineProgress removes all pending progress records.
func (s *SQLiteStore) ClearOfflineProgress() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM offline_progress`); err != nil {
		return fmt.Errorf("failed to clear offline progress: %w", err)
	}
	return nil
}

// DeleteSeriesData removes the series row, its volumes, their cached pages and
// cover pointers. File removal is the caller's job; the paths come from
// PagePathsByChapter before this call.
func (s *SQLiteStore) DeleteSeriesData(seriesID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin series delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM cached_pages WHERE chapter_id IN
			(SELECT chapter_id FROM volumes WHERE series_id = ?)`, seriesID); err != nil {
		return fmt.Errorf("failed to delete cached pages for series %d: %w", seriesID, err)
	}
	if _, err := tx.Exec(`
		DELETE FROM volume_covers WHERE volume_id IN
			(SELECT id FROM volumes WHERE series_id = ?)`, seriesID); err != nil {
		return fmt.Errorf("failed to delete volume covers for series %d: %w", seriesID, err)
	}
	if _, err := tx.Exec(`DELETE FROM volumes WHERE series_id = ?`, seriesID); err != nil {
		return fmt.Errorf("failed to delete volumes for series %d: %w", seriesID, err)
	}
	if _, err := tx.Exec(`DELETE FROM series_covers WHERE series_id = ?`, seriesID); err != nil {
		return fmt.Errorf("failed to delete series cover %d: %w", seriesID, err)
	}
	if _, err := tx.Exec(`DELETE FROM series WHERE id = ?`, seriesID); err != nil {
		return fmt.Errorf("failed to delete series %d: %w", seriesID, err)
	}

	return tx.Commit()
}

// Clean wipes every mirror table. Settings survive: they are the connection's
// source of truth and clearing the cache must not log the user out.
func (s *SQLiteStore) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"libraries", "series", "volumes",
		"series_covers", "volume_covers", "cached_pages", "offline_progress",
	}
	for _, t := range tables {
		if _, err := s.db.Exec(`DELETE FROM ` + t); err != nil {
			return fmt.Errorf("failed to clean table %s: %w", t, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
