// file: internal/server/handlers.go
// version: 1.5.0
// guid: 0d7f3b9a-2e6c-41d5-b8f0-4a9e1c5d7b23

package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mangadeck/mangadeck/internal/database"
	"github.com/mangadeck/mangadeck/internal/engine"
)

// coverCacheControl keeps normalized covers in the browser cache; they only
// change when the cache is cleared.
const coverCacheControl = "public, max-age=86400"

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"offline": s.engine.Offline(),
	})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) getSettings(c *gin.Context) {
	settings, err := s.engine.Settings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

type settingsRequest struct {
	ServerIP string `json:"server_ip"`
	Username string `json:"username"`
	Password string `json:"password"`
	APIKey   string `json:"api_key"`
}

// updateSettings stores the new settings and reconnects. A failed reconnect
// is not an error to the client: the settings are saved and the proxy is
// simply offline, which the response reflects.
func (s *Server) updateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings payload"})
		return
	}
	if err := s.engine.UpdateSettings(req.ServerIP, req.Username, req.Password, req.APIKey); err != nil {
		st := s.engine.Status()
		c.JSON(http.StatusOK, gin.H{"saved": true, "online": st.Online, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true, "online": true})
}

type offlineModeRequest struct {
	Offline bool `json:"offline"`
}

func (s *Server) setOfflineMode(c *gin.Context) {
	var req offlineModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offline-mode payload"})
		return
	}
	if err := s.engine.SetOfflineMode(req.Offline); err != nil {
		// Reconnect failed; the proxy stays offline.
		c.JSON(http.StatusOK, gin.H{"offline": true, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"offline": s.engine.Offline()})
}

func (s *Server) getLibraries(c *gin.Context) {
	libs, err := s.engine.Libraries()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, libs)
}

func (s *Server) getSeries(c *gin.Context) {
	libraryID, ok := pathInt(c, "library")
	if !ok {
		return
	}
	series, err := s.engine.SeriesForLibrary(libraryID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, series)
}

func (s *Server) getVolumes(c *gin.Context) {
	seriesID, ok := pathInt(c, "series")
	if !ok {
		return
	}
	vols, err := s.engine.VolumesForSeries(seriesID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, vols)
}

func (s *Server) getSeriesCover(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	path, err := s.engine.SeriesCover(id)
	if err != nil {
		abortImage(c, err)
		return
	}
	c.Header("Cache-Control", coverCacheControl)
	c.File(path)
}

func (s *Server) getVolumeCover(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	path, err := s.engine.VolumeCover(id)
	if err != nil {
		abortImage(c, err)
		return
	}
	c.Header("Cache-Control", coverCacheControl)
	c.File(path)
}

// getPicture serves one page and records the reading position as a side
// effect: requesting a page is the reader turning to it.
func (s *Server) getPicture(c *gin.Context) {
	seriesID, ok := pathInt(c, "series")
	if !ok {
		return
	}
	volumeID, ok := pathInt(c, "volume")
	if !ok {
		return
	}
	chapterID, ok := pathInt(c, "chapter")
	if !ok {
		return
	}
	page, ok := pathInt(c, "page")
	if !ok {
		return
	}

	path, err := s.engine.Page(chapterID, page)
	if err != nil {
		abortImage(c, err)
		return
	}

	if err := s.engine.SaveProgress(database.OfflineProgress{
		SeriesID:  seriesID,
		VolumeID:  volumeID,
		ChapterID: chapterID,
		Page:      page,
	}); err != nil {
		// The page itself is fine; losing one progress point is not
		// worth failing the view.
		c.File(path)
		return
	}
	c.File(path)
}

func (s *Server) cacheSeries(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	s.worker.Enqueue(id)
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "series_id": id})
}

func (s *Server) removeSeriesCache(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	if err := s.engine.RemoveSeriesCache(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true, "series_id": id})
}

func (s *Server) clearCache(c *gin.Context) {
	if err := s.engine.ClearCache(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) updateServerLibrary(c *gin.Context) {
	if err := s.engine.UpdateServerLibrary(); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scanning": true})
}

func (s *Server) markVolumeRead(c *gin.Context) {
	seriesID, ok := pathInt(c, "series")
	if !ok {
		return
	}
	volumeID, ok := pathInt(c, "volume")
	if !ok {
		return
	}
	if err := s.engine.MarkVolumeRead(seriesID, volumeID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

func (s *Server) markVolumeUnread(c *gin.Context) {
	seriesID, ok := pathInt(c, "series")
	if !ok {
		return
	}
	volumeID, ok := pathInt(c, "volume")
	if !ok {
		return
	}
	if err := s.engine.MarkVolumeUnread(seriesID, volumeID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": false})
}

// pathInt parses an integer path parameter, answering 400 itself when the
// value is malformed.
func pathInt(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

// abortImage maps image lookup failures: never-cached content while offline
// is a plain 404, everything else is a gateway failure.
func abortImage(c *gin.Context, err error) {
	if errors.Is(err, engine.ErrNotCached) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not cached"})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
