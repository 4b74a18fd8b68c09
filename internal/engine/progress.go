// file: internal/engine/progress.go
// version: 1.2.0
// guid: 7e3c9a5d-1b8f-46e2-a4d0-9c5b2e8f1a73

package engine

import (
	"crypto/rand"
	"log"
	"time"

	ulid "github.com/oklog/ulid/v2"

	"github.com/mangadeck/mangadeck/internal/database"
	"github.com/mangadeck/mangadeck/internal/kavita"
	"github.com/mangadeck/mangadeck/internal/metrics"
	"github.com/mangadeck/mangadeck/internal/realtime"
)

// SaveProgress records a reading position. Online it is reported to the
// remote server best-effort; offline it is appended to the pending log and
// reflected in the mirror's read counters so the UI keeps up without a round
// trip.
func (e *Engine) SaveProgress(p database.OfflineProgress) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveProgressLocked(p)
}

func (e *Engine) saveProgressLocked(p database.OfflineProgress) error {
	if !e.offline {
		err := e.client.SaveProgress(kavita.Progress{
			SeriesID:  p.SeriesID,
			VolumeID:  p.VolumeID,
			ChapterID: p.ChapterID,
			PageNum:   p.Page,
		})
		if err != nil {
			metrics.IncRemoteRequest("progress", "error")
			log.Printf("[WARN] Remote progress report failed: %v", err)
			return nil
		}
		metrics.IncRemoteRequest("progress", "ok")
		return nil
	}

	if err := e.store.AddOfflineProgress(p); err != nil {
		return err
	}
	if err := e.store.SetVolumeReadPages(p.SeriesID, p.VolumeID, p.Page); err != nil {
		return err
	}
	if err := e.store.SetSeriesReadPages(p.SeriesID, p.Page); err != nil {
		return err
	}
	if n, err := e.store.CountOfflineProgress(); err == nil {
		metrics.SetProgressPending(n)
	}
	return nil
}

// UploadProgress drains the pending offline-progress log: every record is
// posted sequentially, successes and failures are tallied, and the whole log
// is cleared once at least one record went through. Failed records are not
// retried; losing one data point beats an unbounded retry loop.
func (e *Engine) UploadProgress() (uploaded, failed int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uploadProgressLocked()
}

func (e *Engine) uploadProgressLocked() (uploaded, failed int, err error) {
	if e.offline {
		return 0, 0, nil
	}

	records, err := e.store.OfflineProgress()
	if err != nil {
		return 0, 0, err
	}
	if len(records) == 0 {
		return 0, 0, nil
	}

	passID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	log.Printf("[INFO] Uploading %d offline progress records (pass %s)", len(records), passID)
	e.hub.Publish(realtime.EventUploadStarted, map[string]interface{}{
		"pass_id": passID,
		"pending": len(records),
	})

	for _, record := range records {
		uploadErr := e.client.SaveProgress(kavita.Progress{
			SeriesID:  record.SeriesID,
			VolumeID:  record.VolumeID,
			ChapterID: record.ChapterID,
			PageNum:   record.Page,
		})
		if uploadErr != nil {
			failed++
			metrics.IncProgressUploaded("error")
			log.Printf("[WARN] Progress upload failed for series %d page %d: %v",
				record.SeriesID, record.Page, uploadErr)
		} else {
			uploaded++
			metrics.IncProgressUploaded("ok")
		}
		e.hub.Publish(realtime.EventUploadProgress, map[string]interface{}{
			"pass_id":  passID,
			"uploaded": uploaded,
			"failed":   failed,
		})
	}

	if uploaded > 0 {
		if err := e.store.ClearOfflineProgress(); err != nil {
			return uploaded, failed, err
		}
	}
	if n, err := e.store.CountOfflineProgress(); err == nil {
		metrics.SetProgressPending(n)
	}

	e.hub.Publish(realtime.EventUploadFinished, map[string]interface{}{
		"pass_id":  passID,
		"uploaded": uploaded,
		"failed":   failed,
	})
	log.Printf("[INFO] Progress upload finished: %d uploaded, %d failed", uploaded, failed)
	return uploaded, failed, nil
}
