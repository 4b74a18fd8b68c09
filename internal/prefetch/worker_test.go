// file: internal/prefetch/worker_test.go
// version: 1.0.0
// guid: 3e7a1c9f-5b2d-48e6-a0f4-8c6b9d3e1a57

package prefetch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mangadeck/mangadeck/internal/database"
	"github.com/mangadeck/mangadeck/internal/engine"
	"github.com/mangadeck/mangadeck/internal/realtime"
)

// fakeFetcher records which pages were requested.
type fakeFetcher struct {
	mu      sync.Mutex
	volumes map[int][]database.Volume
	pages   []pageKey
	fail    map[pageKey]error

	block chan struct{} // when set, EnsurePage waits on it
}

type pageKey struct {
	ChapterID int
	Page      int
}

func (f *fakeFetcher) VolumesForSeries(seriesID int) ([]database.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes[seriesID], nil
}

func (f *fakeFetcher) EnsurePage(chapterID, page int) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pageKey{chapterID, page}
	if err, ok := f.fail[key]; ok {
		return err
	}
	f.pages = append(f.pages, key)
	return nil
}

func (f *fakeFetcher) fetched() []pageKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pageKey, len(f.pages))
	copy(out, f.pages)
	return out
}

func newTestWorker(t *testing.T, f Fetcher, hub *realtime.EventHub) *Worker {
	t.Helper()
	w := New(f, hub)
	t.Cleanup(func() { w.Shutdown(time.Second) })
	return w
}

func waitIdle(t *testing.T, w *Worker) {
	t.Helper()
	require.Eventually(t, func() bool {
		return w.QueueLength() == 0
	}, 3*time.Second, 10*time.Millisecond, "worker never drained")
}

func TestCacheSeriesFetchesAllPagesInOrder(t *testing.T) {
	f := &fakeFetcher{volumes: map[int][]database.Volume{
		7: {
			{ID: 12, SeriesID: 7, ChapterID: 98, Title: "Volume 2", Pages: 2},
			{ID: 11, SeriesID: 7, ChapterID: 99, Title: "Volume 1", Pages: 2},
		},
	}}
	w := newTestWorker(t, f, realtime.NewEventHub())

	w.Enqueue(7)
	waitIdle(t, w)

	// Volume 1 before Volume 2, pages ascending within each.
	require.Equal(t, []pageKey{{99, 1}, {99, 2}, {98, 1}, {98, 2}}, f.fetched())
}

func TestFullyReadVolumesSkipped(t *testing.T) {
	f := &fakeFetcher{volumes: map[int][]database.Volume{
		7: {
			{ID: 11, SeriesID: 7, ChapterID: 99, Title: "Volume 1", Read: 2, Pages: 2},
			{ID: 12, SeriesID: 7, ChapterID: 98, Title: "Volume 2", Read: 1, Pages: 2},
			{ID: 13, SeriesID: 7, ChapterID: 97, Title: "Volume 3", Pages: 0},
		},
	}}
	w := newTestWorker(t, f, realtime.NewEventHub())

	w.Enqueue(7)
	waitIdle(t, w)

	require.Equal(t, []pageKey{{98, 1}, {98, 2}}, f.fetched())
}

func TestEnqueueDeduplicates(t *testing.T) {
	f := &fakeFetcher{
		volumes: map[int][]database.Volume{
			7: {{ID: 11, SeriesID: 7, ChapterID: 99, Title: "Volume 1", Pages: 1}},
		},
		block: make(chan struct{}),
	}
	w := newTestWorker(t, f, realtime.NewEventHub())

	w.Enqueue(7)
	w.Enqueue(7)
	w.Enqueue(7)
	require.Equal(t, 1, w.QueueLength())
	require.True(t, w.Pending(7))

	close(f.block)
	waitIdle(t, w)
	require.Len(t, f.fetched(), 1)
	require.False(t, w.Pending(7))
}

func TestPageFailureContinues(t *testing.T) {
	f := &fakeFetcher{
		volumes: map[int][]database.Volume{
			7: {{ID: 11, SeriesID: 7, ChapterID: 99, Title: "Volume 1", Pages: 3}},
		},
		fail: map[pageKey]error{{99, 2}: errRemote},
	}
	w := newTestWorker(t, f, realtime.NewEventHub())

	w.Enqueue(7)
	waitIdle(t, w)

	require.Equal(t, []pageKey{{99, 1}, {99, 3}}, f.fetched())
}

func TestOfflineAbortsSeries(t *testing.T) {
	f := &fakeFetcher{
		volumes: map[int][]database.Volume{
			7: {{ID: 11, SeriesID: 7, ChapterID: 99, Title: "Volume 1", Pages: 3}},
		},
		fail: map[pageKey]error{{99, 2}: engine.ErrNotCached},
	}
	w := newTestWorker(t, f, realtime.NewEventHub())

	w.Enqueue(7)
	waitIdle(t, w)

	// Page 3 is never attempted once the engine reports offline.
	require.Equal(t, []pageKey{{99, 1}}, f.fetched())
}

func TestCachingEventsPublished(t *testing.T) {
	f := &fakeFetcher{volumes: map[int][]database.Volume{
		7: {{ID: 11, SeriesID: 7, ChapterID: 99, Title: "Volume 1", Pages: 2}},
	}}
	hub := realtime.NewEventHub()
	client := realtime.NewClient("test-client")
	hub.RegisterClient(client)
	defer hub.UnregisterClient(client.ID)
	w := newTestWorker(t, f, hub)

	w.Enqueue(7)
	waitIdle(t, w)

	var types []realtime.EventType
	deadline := time.After(2 * time.Second)
	for len(types) < 3 {
		select {
		case ev := <-client.Channel:
			types = append(types, ev.Type)
		case <-deadline:
			t.Fatalf("only got events %v", types)
		}
	}
	require.Equal(t, []realtime.EventType{
		realtime.EventCachingStarted,
		realtime.EventCachingProgress,
		realtime.EventCachingFinished,
	}, types)
}

var errRemote = &remoteErr{}

type remoteErr struct{}

func (*remoteErr) Error() string { return "remote failure" }
