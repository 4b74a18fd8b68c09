// file: internal/database/sqlite_store_test.go
// version: 1.2.0
// guid: 5e7a9c1b-8d4f-42e6-a3b0-1f6c8e2d9a53

package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSettingAbsentReturnsEmpty(t *testing.T) {
	store := newTestStore(t)

	v, err := store.Setting("server_ip")
	require.NoError(t, err)
	require.Equal(t, "", v)
}

func TestSetSettingReplaces(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetSetting("username", "alice"))
	require.NoError(t, store.SetSetting("username", "bob"))

	v, err := store.Setting("username")
	require.NoError(t, err)
	require.Equal(t, "bob", v)

	all, err := store.Settings()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestUpsertLibraryIdempotent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertLibrary(Library{ID: 1, Title: "Manga"}))
	require.NoError(t, store.UpsertLibrary(Library{ID: 1, Title: "Manga Renamed"}))

	libs, err := store.Libraries()
	require.NoError(t, err)
	require.Len(t, libs, 1)
	require.Equal(t, "Manga Renamed", libs[0].Title)
}

func TestUpsertSeriesIdempotent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertSeries(Series{ID: 7, LibraryID: 1, Title: "One Piece", ReadPages: 10, Pages: 100}))
	require.NoError(t, store.UpsertSeries(Series{ID: 7, LibraryID: 1, Title: "One Piece", ReadPages: 50, Pages: 100}))

	series, err := store.SeriesByLibrary(1)
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Equal(t, 50, series[0].ReadPages)
	require.Equal(t, 50.0, series[0].Read)
}

func TestSeriesReadPercentZeroPages(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertSeries(Series{ID: 3, LibraryID: 1, Title: "Empty", ReadPages: 0, Pages: 0}))

	series, err := store.SeriesByLibrary(1)
	require.NoError(t, err)
	require.Equal(t, 0.0, series[0].Read)
}

func TestUpsertVolumeIdempotent(t *testing.T) {
	store := newTestStore(t)

	v := Volume{ID: 11, SeriesID: 7, ChapterID: 99, Title: "Volume 1", Read: 0, Pages: 20}
	require.NoError(t, store.UpsertVolume(v))
	v.Read = 20
	require.NoError(t, store.UpsertVolume(v))

	vols, err := store.VolumesBySeries(7)
	require.NoError(t, err)
	require.Len(t, vols, 1)
	require.Equal(t, 20, vols[0].Read)
}

func TestSetVolumeReadPages(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertVolume(Volume{ID: 11, SeriesID: 7, ChapterID: 99, Title: "Volume 1", Pages: 20}))

	require.NoError(t, store.SetVolumeReadPages(7, 11, 5))
	vols, _ := store.VolumesBySeries(7)
	require.Equal(t, 5, vols[0].Read)

	// -1 marks fully read
	require.NoError(t, store.SetVolumeReadPages(7, 11, -1))
	vols, _ = store.VolumesBySeries(7)
	require.Equal(t, 20, vols[0].Read)
}

func TestCoverAbsentReturnsEmpty(t *testing.T) {
	store := newTestStore(t)

	p, err := store.SeriesCover(42)
	require.NoError(t, err)
	require.Equal(t, "", p)

	p, err = store.VolumeCover(42)
	require.NoError(t, err)
	require.Equal(t, "", p)
}

func TestSetCoverReplacesPointer(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetSeriesCover(5, "/tmp/a.png"))
	require.NoError(t, store.SetSeriesCover(5, "/tmp/a.jpg"))

	p, err := store.SeriesCover(5)
	require.NoError(t, err)
	require.Equal(t, "/tmp/a.jpg", p)
}

func TestPageLifecycle(t *testing.T) {
	store := newTestStore(t)

	p, err := store.Page(99, 1)
	require.NoError(t, err)
	require.Equal(t, "", p)

	require.NoError(t, store.AddPage(99, 1, "/tmp/p1.png"))
	require.NoError(t, store.AddPage(99, 1, "/tmp/p1-new.png")) // replace, no dup
	require.NoError(t, store.AddPage(99, 2, "/tmp/p2.png"))

	p, err = store.Page(99, 1)
	require.NoError(t, err)
	require.Equal(t, "/tmp/p1-new.png", p)

	n, err := store.CountPages(99, 3)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	paths, err := store.PagePathsByChapter(99)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	require.NoError(t, store.DeletePage(99, 1))
	p, err = store.Page(99, 1)
	require.NoError(t, err)
	require.Equal(t, "", p)
}

func TestOfflineProgressLog(t *testing.T) {
	store := newTestStore(t)

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.AddOfflineProgress(OfflineProgress{
			LibraryID: 1, SeriesID: 7, VolumeID: 11, ChapterID: 99, Page: i,
		}))
	}

	n, err := store.CountOfflineProgress()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	records, err := store.OfflineProgress()
	require.NoError(t, err)
	require.Len(t, records, 3)
	// insertion order
	require.Equal(t, 1, records[0].Page)
	require.Equal(t, 3, records[2].Page)

	require.NoError(t, store.ClearOfflineProgress())
	n, err = store.CountOfflineProgress()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestDeleteSeriesData(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertSeries(Series{ID: 7, LibraryID: 1, Title: "S"}))
	require.NoError(t, store.UpsertVolume(Volume{ID: 11, SeriesID: 7, ChapterID: 99, Title: "V1", Pages: 2}))
	require.NoError(t, store.AddPage(99, 1, "/tmp/p1.png"))
	require.NoError(t, store.SetSeriesCover(7, "/tmp/c.jpg"))
	require.NoError(t, store.SetVolumeCover(11, "/tmp/vc.jpg"))

	require.NoError(t, store.DeleteSeriesData(7))

	series, _ := store.SeriesByLibrary(1)
	require.Empty(t, series)
	vols, _ := store.VolumesBySeries(7)
	require.Empty(t, vols)
	p, _ := store.Page(99, 1)
	require.Equal(t, "", p)
	c, _ := store.SeriesCover(7)
	require.Equal(t, "", c)
}

func TestCleanKeepsSettings(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetSetting("server_ip", "10.0.0.2:5000"))
	require.NoError(t, store.UpsertLibrary(Library{ID: 1, Title: "Manga"}))
	require.NoError(t, store.AddPage(99, 1, "/tmp/p1.png"))
	require.NoError(t, store.AddOfflineProgress(OfflineProgress{SeriesID: 7, Page: 1}))

	require.NoError(t, store.Clean())

	libs, _ := store.Libraries()
	require.Empty(t, libs)
	p, _ := store.Page(99, 1)
	require.Equal(t, "", p)
	n, _ := store.CountOfflineProgress()
	require.Equal(t, 0, n)

	ip, err := store.Setting("server_ip")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.2:5000", ip)
}

func TestReadPercent(t *testing.T) {
	require.Equal(t, 0.0, ReadPercent(5, 0))
	require.Equal(t, 0.0, ReadPercent(5, -1))
	require.Equal(t, 50.0, ReadPercent(10, 20))
	require.Equal(t, 100.0, ReadPercent(20, 20))
}
