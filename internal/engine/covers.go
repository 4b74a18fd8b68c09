// file: internal/engine/covers.go
// version: 1.3.0
// guid: 5b9e2d7c-4f1a-48b6-9e3d-0a6c8b2f7d41

package engine

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"github.com/mangadeck/mangadeck/internal/metrics"
)

// Thumbnail geometry: covers are normalized to a fixed 3:4 portrait at a
// fixed JPEG quality so cache cost is bounded regardless of source size.
const (
	thumbWidth   = 300
	thumbHeight  = 400
	thumbQuality = 85
)

// SeriesCover returns the local path of a series cover, fetching and
// normalizing it when needed. Offline with no cached file returns
// ErrNotCached.
func (e *Engine) SeriesCover(seriesID int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seriesCoverLocked(seriesID)
}

func (e *Engine) seriesCoverLocked(seriesID int) (string, error) {
	return e.coverLocked(
		func() (string, error) { return e.store.SeriesCover(seriesID) },
		func(path string) error { return e.store.SetSeriesCover(seriesID, path) },
		func() ([]byte, error) { return e.client.SeriesCover(seriesID) },
		fmt.Sprintf("series-cover-%d", seriesID),
	)
}

// VolumeCover returns the local path of a volume cover, fetching and
// normalizing it when needed.
func (e *Engine) VolumeCover(volumeID int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volumeCoverLocked(volumeID)
}

func (e *Engine) volumeCoverLocked(volumeID int) (string, error) {
	return e.coverLocked(
		func() (string, error) { return e.store.VolumeCover(volumeID) },
		func(path string) error { return e.store.SetVolumeCover(volumeID, path) },
		func() ([]byte, error) { return e.client.VolumeCover(volumeID) },
		fmt.Sprintf("volume-cover-%d", volumeID),
	)
}

// coverLocked is the verify-then-serve path shared by both cover kinds. An
// existing file in the current format is served as-is; a missing file or a
// legacy (pre-normalization) format triggers a refetch when online.
func (e *Engine) coverLocked(lookup func() (string, error), save func(string) error,
	fetch func() ([]byte, error), baseName string) (string, error) {

	path, err := lookup()
	if err != nil {
		return "", err
	}
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			if strings.HasSuffix(path, ".jpg") || e.offline {
				// Legacy formats are served as-is offline; migration
				// waits for connectivity.
				return path, nil
			}
		}
		// Row present but file missing (or legacy format while online):
		// fall through to refetch.
	}

	if e.offline {
		return "", ErrNotCached
	}

	raw, err := fetch()
	if err != nil {
		metrics.IncRemoteRequest("cover", "error")
		return "", err
	}
	metrics.IncRemoteRequest("cover", "ok")

	encoded, err := normalizeCover(raw)
	if err != nil {
		// Serve the original bytes rather than failing the cover.
		log.Printf("[WARN] Cover normalization failed for %s, keeping original: %v", baseName, err)
		encoded = raw
	} else {
		metrics.IncCoversTranscoded()
	}

	newPath := filepath.Join(e.cacheDir, baseName+".jpg")
	if err := os.WriteFile(newPath, encoded, 0o644); err != nil {
		return "", fmt.Errorf("failed to write cover %s: %w", baseName, err)
	}
	if err := save(newPath); err != nil {
		return "", err
	}
	e.sizeCache.Invalidate("size")
	return newPath, nil
}

// normalizeCover crops the source to the thumbnail aspect ratio, scales it to
// the fixed thumbnail size and re-encodes it as JPEG.
func normalizeCover(raw []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode cover: %w", err)
	}

	cropped := cropToAspect(src, thumbWidth, thumbHeight)
	dst := image.NewRGBA(image.Rect(0, 0, thumbWidth, thumbHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), cropped, cropped.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode cover: %w", err)
	}
	return buf.Bytes(), nil
}

// cropToAspect returns the largest centered sub-image of src matching the
// w:h aspect ratio.
func cropToAspect(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw <= 0 || sh <= 0 {
		return src
	}

	// Compare sw/sh with w/h without floats.
	if sw*h > w*sh {
		// Too wide: trim left and right.
		cw := w * sh / h
		x0 := b.Min.X + (sw-cw)/2
		return subImage(src, image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y))
	}
	// Too tall (or exact): trim top and bottom.
	ch := h * sw / w
	y0 := b.Min.Y + (sh-ch)/2
	return subImage(src, image.Rect(b.Min.X, y0, b.Max.X, y0+ch))
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func subImage(src image.Image, r image.Rectangle) image.Image {
	if s, ok := src.(subImager); ok {
		return s.SubImage(r)
	}
	return src
}

// Page returns the local path of a cached page, fetching it verbatim when
// online. A row whose file vanished is treated as a miss and refetched;
// offline it is ErrNotCached.
func (e *Engine) Page(chapterID, page int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pageLocked(chapterID, page)
}

func (e *Engine) pageLocked(chapterID, page int) (string, error) {
	path, err := e.store.Page(chapterID, page)
	if err != nil {
		return "", err
	}
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			return path, nil
		}
		// Self-heal: drop the stale row so the miss is consistent.
		if err := e.store.DeletePage(chapterID, page); err != nil {
			return "", err
		}
		log.Printf("[WARN] Cached page %d/%d missing on disk, refetching", chapterID, page)
	}

	if e.offline {
		return "", ErrNotCached
	}

	raw, err := e.client.PageImage(chapterID, page)
	if err != nil {
		metrics.IncRemoteRequest("page", "error")
		return "", err
	}
	metrics.IncRemoteRequest("page", "ok")

	newPath := filepath.Join(e.cacheDir, fmt.Sprintf("chapter-%d-page-%d.png", chapterID, page))
	if err := os.WriteFile(newPath, raw, 0o644); err != nil {
		return "", fmt.Errorf("failed to write page %d/%d: %w", chapterID, page, err)
	}
	if err := e.store.AddPage(chapterID, page, newPath); err != nil {
		return "", err
	}
	metrics.IncPagesCached()
	e.sizeCache.Invalidate("size")
	return newPath, nil
}

// EnsurePage caches one page if it is not already present on disk. Used by
// the background caching worker.
func (e *Engine) EnsurePage(chapterID, page int) error {
	_, err := e.Page(chapterID, page)
	return err
}
