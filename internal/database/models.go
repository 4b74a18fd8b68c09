// file: internal/database/models.go
// version: 1.1.0
// guid: 7d2e9f4b-1a6c-48e3-b5d0-9c8f3a2e6b71

package database

// Library mirrors a remote library row.
type Library struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// Series mirrors a remote series row. Read is the derived read percentage and
// is filled from ReadPages/Pages when a row is loaded; Cached is computed, not
// stored.
type Series struct {
	ID        int     `json:"id"`
	LibraryID int     `json:"library_id"`
	Title     string  `json:"title"`
	Read      float64 `json:"read"`
	ReadPages int     `json:"-"`
	Pages     int     `json:"pages"`
	Cached    bool    `json:"cached"`
}

// Volume mirrors a remote volume row. ChapterID is the reading-unit id used
// for page fetches. Cached is computed, not stored.
type Volume struct {
	ID        int    `json:"volume_id"`
	SeriesID  int    `json:"series_id"`
	ChapterID int    `json:"chapter_id"`
	Title     string `json:"title"`
	Read      int    `json:"read"`
	Pages     int    `json:"pages"`
	Cached    bool   `json:"cached"`
}

// OfflineProgress is one reading-position report recorded while offline,
// pending upload to the remote server.
type OfflineProgress struct {
	ID        int64 `json:"id"`
	LibraryID int   `json:"library_id"`
	SeriesID  int   `json:"series_id"`
	VolumeID  int   `json:"volume_id"`
	ChapterID int   `json:"chapter_id"`
	Page      int   `json:"page"`
}

// ReadPercent computes a read percentage, returning 0 when total is not
// positive.
func ReadPercent(read, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(read) * 100 / float64(total)
}
