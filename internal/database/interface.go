// file: internal/database/interface.go
// version: 1.2.0
// guid: 4b8f2c6a-3d1e-49b7-a0c5-6e9d8f1b3a42

// Package database owns the on-disk SQLite mirror of the remote catalog plus
// the offline-progress log. All access is serialized by a single store-scoped
// lock; every write is an idempotent upsert keyed by the remote-assigned id.
package database

// Store is the persistence interface used by the cache engine and the
// background caching worker.
type Store interface {
	// Settings
	Setting(key string) (string, error)
	SetSetting(key, value string) error
	Settings() (map[string]string, error)

	// Catalog mirror
	UpsertLibrary(l Library) error
	Libraries() ([]Library, error)
	UpsertSeries(s Series) error
	SeriesByLibrary(libraryID int) ([]Series, error)
	SetSeriesReadPages(seriesID, pages int) error
	UpsertVolume(v Volume) error
	VolumesBySeries(seriesID int) ([]Volume, error)
	SetVolumeReadPages(seriesID, volumeID, pages int) error

	// Covers; lookups return "" when absent
	SeriesCover(seriesID int) (string, error)
	SetSeriesCover(seriesID int, path string) error
	VolumeCover(volumeID int) (string, error)
	SetVolumeCover(volumeID int, path string) error

	// Cached pages; lookup returns "" when absent
	Page(chapterID, page int) (string, error)
	AddPage(chapterID, page int, path string) error
	CountPages(chapterID, pages int) (int, error)
	PagePathsByChapter(chapterID int) ([]string, error)
	DeletePage(chapterID, page int) error

	// Offline progress log
	AddOfflineProgress(p OfflineProgress) error
	OfflineProgress() ([]OfflineProgress, error)
	CountOfflineProgress() (int, error)
	ClearOfflineProgress() error

	// Cache lifecycle
	DeleteSeriesData(seriesID int) error
	Clean() error

	Close() error
}
