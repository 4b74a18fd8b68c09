// file: internal/engine/engine.go
// version: 1.7.0
// guid: 1d4f8b2e-6a9c-43d7-b0e5-8f2c7a1d9e64

// Package engine mediates between the remote Kavita server and the local
// mirror. It owns the connection state (token, identity, offline flag) and
// decides, per call, whether to refresh from remote or serve from cache.
package engine

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mangadeck/mangadeck/internal/cache"
	"github.com/mangadeck/mangadeck/internal/database"
	"github.com/mangadeck/mangadeck/internal/kavita"
	"github.com/mangadeck/mangadeck/internal/metrics"
	"github.com/mangadeck/mangadeck/internal/realtime"
)

// ErrNotCached marks content that was never cached and is unavailable while
// offline. Distinct from connectivity failures: the caller can tell "you are
// offline and this was never downloaded" from "the server did not answer".
var ErrNotCached = errors.New("content not available offline")

// Settings keys. The settings table is the sole source of truth for
// credentials; in-memory connection state is rebuilt from it on every
// reconnect.
const (
	SettingServerIP = "server_ip"
	SettingUsername = "username"
	SettingPassword = "password"
	SettingAPIKey   = "api_key"
)

// volumesRetryDelay is the fixed delay before the single bounded retry in
// VolumesForSeries.
const volumesRetryDelay = 300 * time.Millisecond

const cacheSizeTTL = 60 * time.Second

// Engine is the cache engine. One exclusive lock spans each call's full
// lifecycle so a connect/disconnect transition and the reads issued during it
// are atomic with respect to other catalog operations.
type Engine struct {
	mu       sync.Mutex
	store    database.Store
	hub      *realtime.EventHub
	cacheDir string

	client   *kavita.Client
	loggedAs string
	offline  bool

	sizeCache *cache.Cache[int64]

	// newClient is swappable for tests.
	newClient func(ip string) *kavita.Client
}

// New creates an engine over the given store and event hub. The cache
// directory is created if missing. The engine starts offline; call Reconnect
// to go online.
func New(store database.Store, hub *realtime.EventHub, cacheDir string) (*Engine, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Engine{
		store:     store,
		hub:       hub,
		cacheDir:  cacheDir,
		offline:   true,
		sizeCache: cache.New[int64](cacheSizeTTL),
		newClient: kavita.NewClient,
	}, nil
}

// SeedSettings writes default connection settings for keys that have no value
// yet, so the settings form comes up pre-filled on first run.
func (e *Engine) SeedSettings(ip, username, password, apiKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	defaults := map[string]string{
		SettingServerIP: ip,
		SettingUsername: username,
		SettingPassword: password,
		SettingAPIKey:   apiKey,
	}
	for key, value := range defaults {
		if value == "" {
			continue
		}
		current, err := e.store.Setting(key)
		if err != nil {
			return err
		}
		if current == "" {
			if err := e.store.SetSetting(key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reconnect rebuilds the connection from the settings table and attempts a
// login. On success the engine goes online and kicks off a background upload
// of any queued offline progress. On failure it goes (or stays) offline; the
// returned error describes why but is never fatal to the process.
func (e *Engine) Reconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconnectLocked()
}

func (e *Engine) reconnectLocked() error {
	ip, err := e.store.Setting(SettingServerIP)
	if err != nil {
		return err
	}
	username, _ := e.store.Setting(SettingUsername)
	password, _ := e.store.Setting(SettingPassword)
	apiKey, _ := e.store.Setting(SettingAPIKey)

	client := e.newClient(ip)
	log.Printf("[INFO] Connecting to %s as %s", client.BaseURL, username)

	result, err := client.Login(username, password, apiKey)
	if err != nil {
		metrics.IncRemoteRequest("login", "error")
		e.goOfflineLocked()
		log.Printf("[WARN] Login failed, now in offline mode: %v", err)
		return err
	}
	metrics.IncRemoteRequest("login", "ok")

	client.Token = result.Token
	client.APIKey = apiKey
	if client.APIKey == "" {
		client.APIKey = result.APIKey
	}
	e.client = client
	e.loggedAs = result.Username
	e.offline = false

	metrics.SetOnline(true)
	e.publishConnectionStatusLocked()
	log.Printf("[INFO] Logged in as %s", e.loggedAs)

	// Reconcile offline progress without holding up the reconnect.
	go func() {
		if _, _, err := e.UploadProgress(); err != nil {
			log.Printf("[WARN] Background progress upload failed: %v", err)
		}
	}()

	return nil
}

// SetOfflineMode toggles offline mode. Switching online attempts a reconnect
// and reverts to offline when it fails.
func (e *Engine) SetOfflineMode(offline bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if offline {
		e.goOfflineLocked()
		log.Printf("[INFO] Offline mode enabled by user")
		return nil
	}
	return e.reconnectLocked()
}

func (e *Engine) goOfflineLocked() {
	e.client = nil
	e.loggedAs = ""
	e.offline = true
	metrics.SetOnline(false)
	e.publishConnectionStatusLocked()
}

func (e *Engine) publishConnectionStatusLocked() {
	ip, _ := e.store.Setting(SettingServerIP)
	e.hub.Publish(realtime.EventConnectionStatus, map[string]interface{}{
		"online":    !e.offline,
		"logged_as": e.loggedAs,
		"ip":        ip,
	})
}

// Status describes the current connection and cache state.
type Status struct {
	Online      bool    `json:"status"`
	IP          string  `json:"ip"`
	LoggedAs    string  `json:"logged_as"`
	CacheSizeGB float64 `json:"cache"`
	OfflineMode bool    `json:"offline_mode"`
}

// Status returns the connection state and the cache size.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	ip, _ := e.store.Setting(SettingServerIP)
	return Status{
		Online:      !e.offline,
		IP:          ip,
		LoggedAs:    e.loggedAs,
		CacheSizeGB: float64(e.cacheSizeBytesLocked()) / (1024 * 1024 * 1024),
		OfflineMode: e.offline,
	}
}

// cacheSizeBytesLocked walks the cache directory, memoized behind a short TTL
// so frequent status polls stay cheap.
func (e *Engine) cacheSizeBytesLocked() int64 {
	if size, ok := e.sizeCache.Get("size"); ok {
		return size
	}
	var size int64
	filepath.Walk(e.cacheDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	e.sizeCache.Set("size", size)
	metrics.SetCacheSizeBytes(size)
	return size
}

// Settings returns the stored settings without the password value; the
// password is write-only through the API.
func (e *Engine) Settings() (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	all, err := e.store.Settings()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(all))
	for k, v := range all {
		if k == SettingPassword {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// UpdateSettings stores the supplied connection settings (empty fields keep
// their current value, so the password only changes when supplied) and then
// attempts a reconnect with the new values.
func (e *Engine) UpdateSettings(ip, username, password, apiKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	updates := map[string]string{
		SettingServerIP: ip,
		SettingUsername: username,
		SettingPassword: password,
		SettingAPIKey:   apiKey,
	}
	for key, value := range updates {
		if value == "" {
			continue
		}
		if err := e.store.SetSetting(key, value); err != nil {
			return err
		}
	}
	return e.reconnectLocked()
}

// Libraries lists libraries: best-effort remote refresh when online, then
// always reads from the mirror.
func (e *Engine) Libraries() ([]database.Library, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.offline {
		remote, err := e.client.Libraries()
		if err != nil {
			// Stale mirror content is an acceptable result.
			metrics.IncRemoteRequest("libraries", "error")
			log.Printf("[WARN] Library refresh failed, serving mirror: %v", err)
		} else {
			metrics.IncRemoteRequest("libraries", "ok")
			for _, lib := range remote {
				if err := e.store.UpsertLibrary(database.Library{ID: lib.ID, Title: lib.Title}); err != nil {
					return nil, err
				}
			}
		}
	}

	libs, err := e.store.Libraries()
	if err != nil {
		return nil, err
	}
	if libs == nil {
		libs = []database.Library{}
	}
	return libs, nil
}

// SeriesForLibrary lists the series of a library. Online it refreshes the
// mirror (and pre-pulls series covers so offline browsing has thumbnails);
// offline it returns only series with at least one cached volume.
func (e *Engine) SeriesForLibrary(libraryID int) ([]database.Series, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.offline {
		remote, err := e.client.Series(libraryID)
		if err != nil {
			metrics.IncRemoteRequest("series", "error")
			log.Printf("[WARN] Series refresh failed for library %d, serving mirror: %v", libraryID, err)
		} else {
			metrics.IncRemoteRequest("series", "ok")
			for _, sr := range remote {
				err := e.store.UpsertSeries(database.Series{
					ID:        sr.ID,
					LibraryID: libraryID,
					Title:     sr.Title,
					ReadPages: sr.PagesRead,
					Pages:     sr.Pages,
				})
				if err != nil {
					return nil, err
				}
				if _, err := e.seriesCoverLocked(sr.ID); err != nil {
					log.Printf("[DEBUG] Cover pre-pull failed for series %d: %v", sr.ID, err)
				}
			}
		}
	}

	series, err := e.store.SeriesByLibrary(libraryID)
	if err != nil {
		return nil, err
	}

	out := []database.Series{}
	for _, sr := range series {
		cached, partly, err := e.seriesCacheStateLocked(sr.ID)
		if err != nil {
			return nil, err
		}
		if e.offline && !partly {
			// Offline listing includes any series with at least one
			// cached volume; Cached still means fully cached.
			continue
		}
		sr.Cached = cached
		out = append(out, sr)
	}
	return out, nil
}

// VolumesForSeries lists the volumes of a series with their cached flags.
// When the remote pull fails and the mirror has nothing for the series, one
// bounded retry is made after a fixed delay; if that also fails the call
// errors with the remote status.
func (e *Engine) VolumesForSeries(seriesID int) ([]database.Volume, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.offline {
		if err := e.refreshVolumesLocked(seriesID); err != nil {
			mirror, mirrorErr := e.store.VolumesBySeries(seriesID)
			if mirrorErr != nil {
				return nil, mirrorErr
			}
			if len(mirror) == 0 {
				// Nothing local to fall back on: give the remote one
				// more chance before failing the call.
				time.Sleep(volumesRetryDelay)
				if err = e.refreshVolumesLocked(seriesID); err != nil {
					return nil, fmt.Errorf("failed to load volumes for series %d: %w", seriesID, err)
				}
			} else {
				log.Printf("[WARN] Volume refresh failed for series %d, serving mirror: %v", seriesID, err)
			}
		}
	}

	vols, err := e.store.VolumesBySeries(seriesID)
	if err != nil {
		return nil, err
	}

	out := []database.Volume{}
	for _, v := range vols {
		cached, err := e.volumeCachedLocked(v)
		if err != nil {
			return nil, err
		}
		v.Cached = cached
		out = append(out, v)
	}
	SortVolumesByTitle(out)
	return out, nil
}

func (e *Engine) refreshVolumesLocked(seriesID int) error {
	remote, err := e.client.SeriesDetail(seriesID)
	if err != nil {
		metrics.IncRemoteRequest("series-detail", "error")
		return err
	}
	metrics.IncRemoteRequest("series-detail", "ok")
	for _, v := range remote {
		err := e.store.UpsertVolume(database.Volume{
			ID:        v.ID,
			SeriesID:  seriesID,
			ChapterID: v.ChapterID,
			Title:     v.Title,
			Read:      v.PagesRead,
			Pages:     v.Pages,
		})
		if err != nil {
			return err
		}
		if _, err := e.volumeCoverLocked(v.ID); err != nil {
			log.Printf("[DEBUG] Cover pre-pull failed for volume %d: %v", v.ID, err)
		}
	}
	return nil
}

// volumeCachedLocked reports whether every page in [1, v.Pages] has a cached
// row. Zero-page volumes are never considered cached.
func (e *Engine) volumeCachedLocked(v database.Volume) (bool, error) {
	if v.Pages <= 0 {
		return false, nil
	}
	n, err := e.store.CountPages(v.ChapterID, v.Pages)
	if err != nil {
		return false, err
	}
	return n >= v.Pages, nil
}

// seriesCacheStateLocked returns (fully cached, has any cached volume).
func (e *Engine) seriesCacheStateLocked(seriesID int) (bool, bool, error) {
	vols, err := e.store.VolumesBySeries(seriesID)
	if err != nil {
		return false, false, err
	}
	if len(vols) == 0 {
		return false, false, nil
	}
	full := true
	any := false
	for _, v := range vols {
		cached, err := e.volumeCachedLocked(v)
		if err != nil {
			return false, false, err
		}
		if cached {
			any = true
		} else {
			full = false
		}
	}
	return full, any, nil
}

// MarkVolumeRead marks a volume fully read: remotely when online, always in
// the mirror so the UI reflects it immediately.
func (e *Engine) MarkVolumeRead(seriesID, volumeID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.offline {
		if err := e.client.MarkVolumeRead(seriesID, volumeID); err != nil {
			metrics.IncRemoteRequest("mark-read", "error")
			log.Printf("[WARN] Remote mark-read failed: %v", err)
		} else {
			metrics.IncRemoteRequest("mark-read", "ok")
		}
	}
	return e.store.SetVolumeReadPages(seriesID, volumeID, -1)
}

// MarkVolumeUnread marks a volume unread: remotely when online, always in the
// mirror.
func (e *Engine) MarkVolumeUnread(seriesID, volumeID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.offline {
		if err := e.client.MarkVolumeUnread(seriesID, volumeID); err != nil {
			metrics.IncRemoteRequest("mark-unread", "error")
			log.Printf("[WARN] Remote mark-unread failed: %v", err)
		} else {
			metrics.IncRemoteRequest("mark-unread", "ok")
		}
	}
	return e.store.SetVolumeReadPages(seriesID, volumeID, 0)
}

// UpdateServerLibrary asks the remote server to force-rescan its libraries.
// A no-op while offline.
func (e *Engine) UpdateServerLibrary() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.offline {
		return nil
	}
	if err := e.client.ScanAll(); err != nil {
		metrics.IncRemoteRequest("scan-all", "error")
		return err
	}
	metrics.IncRemoteRequest("scan-all", "ok")
	return nil
}

// ClearCache removes every cached image file and wipes the catalog mirror.
// Settings survive.
func (e *Engine) ClearCache() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := os.ReadDir(e.cacheDir)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(e.cacheDir, entry.Name())); err != nil {
			log.Printf("[WARN] Failed to remove cache file %s: %v", entry.Name(), err)
		}
	}
	e.sizeCache.Invalidate("size")
	return e.store.Clean()
}

// RemoveSeriesCache drops one series from the mirror together with its cached
// page and cover files.
func (e *Engine) RemoveSeriesCache(seriesID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var files []string
	vols, err := e.store.VolumesBySeries(seriesID)
	if err != nil {
		return err
	}
	for _, v := range vols {
		paths, err := e.store.PagePathsByChapter(v.ChapterID)
		if err != nil {
			return err
		}
		files = append(files, paths...)
		if cover, err := e.store.VolumeCover(v.ID); err == nil && cover != "" {
			files = append(files, cover)
		}
	}
	if cover, err := e.store.SeriesCover(seriesID); err == nil && cover != "" {
		files = append(files, cover)
	}

	if err := e.store.DeleteSeriesData(seriesID); err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			log.Printf("[WARN] Failed to remove cached file %s: %v", f, err)
		}
	}
	e.sizeCache.Invalidate("size")
	return nil
}

// Offline reports whether the engine is in offline mode.
func (e *Engine) Offline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offline
}
