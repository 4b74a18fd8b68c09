// file: internal/prefetch/worker.go
// version: 1.2.0
// guid: 9f2b6d4e-8a1c-47f5-b3e9-5d0c7a2f8b16

// Package prefetch runs the background caching worker. Series are enqueued
// for download; a single long-lived worker drains the queue so page fetches
// never compete with each other for the remote server.
package prefetch

import (
	"context"
	"crypto/rand"
	"errors"
	"log"
	"sync"
	"time"

	ulid "github.com/oklog/ulid/v2"

	"github.com/mangadeck/mangadeck/internal/database"
	"github.com/mangadeck/mangadeck/internal/engine"
	"github.com/mangadeck/mangadeck/internal/realtime"
)

// idlePoll is how long the worker sleeps when the queue is empty. Cheap
// enough to leave the worker running for the whole process lifetime.
const idlePoll = 250 * time.Millisecond

// Fetcher is the slice of the cache engine the worker needs.
type Fetcher interface {
	VolumesForSeries(seriesID int) ([]database.Volume, error)
	EnsurePage(chapterID, page int) error
}

// Worker downloads every page of enqueued series into the local cache.
// Exactly one worker goroutine exists per process; it is started by New and
// idles when the queue is empty.
type Worker struct {
	mu     sync.Mutex
	queue  []int
	queued map[int]bool

	fetcher Fetcher
	hub     *realtime.EventHub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker over the given fetcher and event hub and starts its
// goroutine.
func New(fetcher Fetcher, hub *realtime.EventHub) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		queued:  make(map[int]bool),
		fetcher: fetcher,
		hub:     hub,
		ctx:     ctx,
		cancel:  cancel,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue schedules a series for caching. A series already queued or being
// cached is not enqueued again.
func (w *Worker) Enqueue(seriesID int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.queued[seriesID] {
		log.Printf("[DEBUG] Series %d already queued for caching", seriesID)
		return
	}
	w.queued[seriesID] = true
	w.queue = append(w.queue, seriesID)
	log.Printf("[INFO] Series %d queued for caching (%d pending)", seriesID, len(w.queue))
}

// Pending reports whether a series is queued or currently being cached.
func (w *Worker) Pending(seriesID int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queued[seriesID]
}

// QueueLength returns the number of series waiting or in flight.
func (w *Worker) QueueLength() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queued)
}

// Shutdown stops the worker and waits for the in-flight series to finish.
func (w *Worker) Shutdown(timeout time.Duration) error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("caching worker shutdown timeout")
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		seriesID, ok := w.next()
		if !ok {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(idlePoll):
			}
			continue
		}

		w.cacheSeries(seriesID)

		w.mu.Lock()
		delete(w.queued, seriesID)
		w.mu.Unlock()

		if w.ctx.Err() != nil {
			return
		}
	}
}

func (w *Worker) next() (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return 0, false
	}
	seriesID := w.queue[0]
	w.queue = w.queue[1:]
	return seriesID, true
}

// cacheSeries downloads every uncached page of a series, volumes in natural
// title order, pages ascending. Fully read volumes are skipped: they were
// consumed already and are the least likely to be opened again.
func (w *Worker) cacheSeries(seriesID int) {
	taskID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()

	vols, err := w.fetcher.VolumesForSeries(seriesID)
	if err != nil {
		log.Printf("[ERROR] Caching of series %d aborted, volume listing failed: %v", seriesID, err)
		return
	}
	engine.SortVolumesByTitle(vols)

	var wanted []database.Volume
	for _, v := range vols {
		if skipVolume(v) {
			log.Printf("[DEBUG] Skipping volume %d of series %d (read or empty)", v.ID, seriesID)
			continue
		}
		wanted = append(wanted, v)
	}

	w.hub.Publish(realtime.EventCachingStarted, map[string]interface{}{
		"task_id":   taskID,
		"series_id": seriesID,
		"total":     len(wanted),
	})
	log.Printf("[INFO] Caching series %d: %d of %d volumes (task %s)",
		seriesID, len(wanted), len(vols), taskID)

	done := 0
	failed := 0
	for _, v := range wanted {
		for page := 1; page <= v.Pages; page++ {
			if w.ctx.Err() != nil {
				log.Printf("[WARN] Caching of series %d interrupted by shutdown", seriesID)
				return
			}
			if err := w.fetcher.EnsurePage(v.ChapterID, page); err != nil {
				failed++
				if errors.Is(err, engine.ErrNotCached) {
					// Connection dropped mid-task; the rest of the series
					// cannot be fetched either.
					log.Printf("[WARN] Caching of series %d aborted, now offline", seriesID)
					w.finishTask(taskID, seriesID, done, failed)
					return
				}
				log.Printf("[WARN] Failed to cache page %d of chapter %d: %v", page, v.ChapterID, err)
			}
		}
		done++
		w.hub.Publish(realtime.EventCachingProgress, map[string]interface{}{
			"task_id":   taskID,
			"series_id": seriesID,
			"volume_id": v.ID,
			"current":   done,
			"total":     len(wanted),
		})
	}
	w.finishTask(taskID, seriesID, done, failed)
}

func (w *Worker) finishTask(taskID string, seriesID, done, failed int) {
	w.hub.Publish(realtime.EventCachingFinished, map[string]interface{}{
		"task_id":   taskID,
		"series_id": seriesID,
		"done":      done,
		"failed":    failed,
	})
	log.Printf("[INFO] Caching of series %d finished: %d volumes done, %d failed pages", seriesID, done, failed)
}

// skipVolume reports whether a volume needs no caching: nothing to fetch, or
// already fully read.
func skipVolume(v database.Volume) bool {
	if v.Pages <= 0 {
		return true
	}
	return v.Read >= v.Pages
}
