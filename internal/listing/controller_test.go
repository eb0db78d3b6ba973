package listing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/freemedia/storefront/internal/browser"
	"github.com/freemedia/storefront/internal/domain"
	"github.com/freemedia/storefront/internal/eventloop"
	"github.com/freemedia/storefront/internal/mediaapi"
	"github.com/freemedia/storefront/internal/nav"
	"github.com/freemedia/storefront/internal/navigation"
	"github.com/freemedia/storefront/internal/platform/pagination"
	"github.com/freemedia/storefront/internal/snapshot"
)

const rowHeight = 100

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type catalogSource struct {
	catalog *mediaapi.Catalog
	calls   atomic.Int32
	failOn  map[int]error
}

func (s *catalogSource) List(_ context.Context, q domain.MediaQuery) (domain.MediaPage, error) {
	s.calls.Add(1)
	if err, ok := s.failOn[q.Page]; ok {
		return domain.MediaPage{}, err
	}
	items, total := s.catalog.Query(q)
	params := pagination.Params{Page: q.Page, PageSize: q.PageSize}
	return domain.MediaPage{Items: items, Page: q.Page, PageSize: q.PageSize, Total: total, HasMore: params.HasMore(total)}, nil
}

type staticDetector struct{ active bool }

func (d staticDetector) IsActive() bool { return d.active }

type recordingNavigator struct {
	mu    sync.Mutex
	urls  []string
	after func(url string)
}

func (n *recordingNavigator) Push(url string) error {
	n.mu.Lock()
	n.urls = append(n.urls, url)
	n.mu.Unlock()
	if n.after != nil {
		n.after(url)
	}
	return nil
}

type harness struct {
	t         *testing.T
	loop      *eventloop.Loop
	sim       *browser.Sim
	store     *snapshot.Store
	source    *catalogSource
	navigator *recordingNavigator
	current   *Controller
}

func newHarness(t *testing.T, opts browser.SimOptions) *harness {
	t.Helper()
	loop := eventloop.NewManual(epoch)
	h := &harness{
		t:         t,
		loop:      loop,
		sim:       browser.NewSim(loop, "/browse", opts),
		store:     snapshot.NewStore(snapshot.NewMemoryBackend(), nil),
		source:    &catalogSource{catalog: mediaapi.GenerateCatalog(24, 7)},
		navigator: &recordingNavigator{},
	}
	h.sim.OnScroll(func(y int) {
		if h.current != nil {
			h.current.OnScroll(y)
		}
	})
	return h
}

func (h *harness) newController(detector navigation.Detector) *Controller {
	c := New(Deps{
		Loop:      h.loop,
		Detector:  detector,
		Source:    h.source,
		Snapshots: h.store,
		Viewport:  h.sim,
		Navigator: h.navigator,
		View: ViewFunc(func(s State) {
			h.sim.SetContentHeight(len(s.Items) * rowHeight)
		}),
		Logger:   zaptest.NewLogger(h.t),
		PageSize: 12,
	})
	h.current = c
	return c
}

func (h *harness) loadAll(c *Controller, f nav.Filters) {
	h.t.Helper()
	c.Mount(context.Background(), f)
	h.loop.RunUntilIdle()
	for c.LoadMore() {
		h.loop.RunUntilIdle()
	}
}

func TestPaginationAppendsUntilExhausted(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	c := h.newController(staticDetector{})

	c.Mount(context.Background(), nav.Filters{})
	h.loop.RunUntilIdle()

	state := c.State()
	require.Equal(t, PhaseReady, state.Phase)
	require.Len(t, state.Items, 12)
	require.True(t, state.HasMore)
	require.Equal(t, 2, state.NextPage)

	require.True(t, c.LoadMore())
	require.False(t, c.LoadMore(), "a second load-more while one is in flight is ignored")
	h.loop.RunUntilIdle()

	state = c.State()
	require.Len(t, state.Items, 24)
	require.False(t, state.HasMore)
	require.Equal(t, 3, state.NextPage)
	require.False(t, c.LoadMore())
	require.EqualValues(t, 2, h.source.calls.Load())

	seen := map[string]bool{}
	for _, item := range state.Items {
		require.False(t, seen[item.ID], "duplicate item %s", item.ID)
		seen[item.ID] = true
	}

	snap, ok := h.store.Load(context.Background(), snapshot.FingerprintOf(nav.Filters{}))
	require.True(t, ok)
	assert.Len(t, snap.Items, 24)
	assert.Equal(t, 3, snap.Page)
	assert.False(t, snap.HasMore)
}

func TestBackNavigationRestoresWithoutFetching(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts browser.SimOptions
	}{
		{name: "immediate layout"},
		{name: "late layout", opts: browser.SimOptions{LateLayout: 100 * time.Millisecond}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.opts)
			dispatcher := navigation.NewDispatcher()
			instance := dispatcher.Mount("listing")
			first := h.newController(dispatcher)
			h.loadAll(first, nav.Filters{})
			require.Len(t, first.State().Items, 24)

			h.sim.UserScroll(840)
			h.loop.RunUntilIdle()
			require.Equal(t, 840, h.sim.ScrollY())

			item := first.State().Items[5]
			h.navigator.after = func(url string) {
				dispatcher.Route(navigation.Transition{Signal: navigation.SignalPush, From: "/browse", To: url})
				h.sim.Push(url)
			}
			require.NoError(t, first.ActivateItem(item))
			require.Equal(t, []string{nav.DetailURL(item)}, h.navigator.urls)

			first.Unmount()
			instance.Unmount()
			instance = dispatcher.Mount("detail:" + item.ID)
			h.sim.SetContentHeight(600)
			h.sim.ScrollTo(0)
			h.loop.RunUntilIdle()
			require.False(t, dispatcher.IsActive())

			fetches := h.source.calls.Load()
			require.True(t, h.sim.Back())
			dispatcher.ObservePop()
			dispatcher.Route(navigation.Transition{Signal: navigation.SignalPop, From: nav.DetailURL(item), To: "/browse"})
			instance.Unmount()
			dispatcher.Mount("listing")

			second := h.newController(dispatcher)
			second.Mount(context.Background(), nav.Filters{})
			require.True(t, second.Restoring())
			h.loop.RunUntilIdle()

			state := second.State()
			assert.True(t, state.Restored)
			assert.Len(t, state.Items, 24)
			assert.Equal(t, PhaseReady, state.Phase)
			assert.Equal(t, fetches, h.source.calls.Load(), "restore must not hit the network")
			assert.Equal(t, 840, h.sim.ScrollY())
			assert.False(t, second.Restoring())

			_, ok := h.store.ConsumeRestore(context.Background(), snapshot.FingerprintOf(nav.Filters{}))
			assert.False(t, ok, "marker is consumed by the restoring mount")
		})
	}
}

func TestLateLayoutIsCorrectedAfterSettle(t *testing.T) {
	h := newHarness(t, browser.SimOptions{LateLayout: 100 * time.Millisecond})
	ctx := context.Background()
	fp := snapshot.FingerprintOf(nav.Filters{})
	items, _ := h.source.catalog.Query(domain.MediaQuery{Page: 1, PageSize: 24})
	require.NoError(t, h.store.Save(ctx, fp, snapshot.PageSnapshot{Items: items, Page: 3, ScrollPosition: 840}))
	require.NoError(t, h.store.MarkRestore(ctx, fp))

	c := h.newController(staticDetector{active: true})
	c.Mount(ctx, nav.Filters{})
	h.loop.RunUntilIdle()

	var offsets []int
	for _, e := range h.sim.EventsOf(browser.EventScroll) {
		offsets = append(offsets, e.Y)
	}
	require.Equal(t, []int{400, 840}, offsets, "first assignment is clamped by the partial layout")
	require.Zero(t, h.source.calls.Load())
}

func TestFreshMountWithSnapshotRefetches(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	ctx := context.Background()
	fp := snapshot.FingerprintOf(nav.Filters{})
	require.NoError(t, h.store.Save(ctx, fp, snapshot.PageSnapshot{Items: []domain.MediaItem{{ID: "stale"}}, Page: 2, HasMore: true}))
	require.NoError(t, h.store.MarkRestore(ctx, fp))

	c := h.newController(staticDetector{active: false})
	c.Mount(ctx, nav.Filters{})
	h.loop.RunUntilIdle()

	state := c.State()
	assert.False(t, state.Restored)
	assert.EqualValues(t, 1, h.source.calls.Load())
	assert.Len(t, state.Items, 12)
	assert.NotEqual(t, "stale", state.Items[0].ID)
}

func TestBackWithChangedFiltersFetches(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	ctx := context.Background()
	video := nav.Filters{Category: "video"}
	require.NoError(t, h.store.Save(ctx, snapshot.FingerprintOf(video), snapshot.PageSnapshot{Page: 2}))
	require.NoError(t, h.store.MarkRestore(ctx, snapshot.FingerprintOf(nav.Filters{Category: "audio"})))

	c := h.newController(staticDetector{active: true})
	c.Mount(ctx, video)
	h.loop.RunUntilIdle()

	assert.False(t, c.State().Restored)
	assert.EqualValues(t, 1, h.source.calls.Load())
	for _, item := range c.State().Items {
		assert.Equal(t, "video", item.Category)
	}
}

func TestBackWithoutMarkerRestoresSnapshot(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	ctx := context.Background()
	all := nav.Filters{}
	c := h.newController(staticDetector{})
	h.loadAll(c, all)
	h.sim.UserScroll(500)
	h.loop.RunUntilIdle()
	c.Unmount()
	fetches := h.source.calls.Load()

	again := h.newController(staticDetector{active: true})
	again.Mount(ctx, all)
	h.loop.RunUntilIdle()

	assert.True(t, again.State().Restored)
	assert.Equal(t, fetches, h.source.calls.Load())
	assert.Equal(t, 500, h.sim.ScrollY())
}

func TestOtherListingKeepsRestoreMarker(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	ctx := context.Background()
	video := nav.Filters{Category: "video"}
	require.NoError(t, h.store.MarkRestore(ctx, snapshot.FingerprintOf(video)))

	audio := h.newController(staticDetector{})
	audio.Mount(ctx, nav.Filters{Category: "audio"})
	h.loop.RunUntilIdle()
	audio.Unmount()

	marker, ok := h.store.ConsumeRestore(ctx, snapshot.FingerprintOf(video))
	require.True(t, ok)
	assert.Equal(t, snapshot.FingerprintOf(video), marker)
}

func TestFilterChangeDiscardsStaleResults(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	c := h.newController(staticDetector{})

	c.Mount(context.Background(), nav.Filters{})
	c.SetFilters(nav.Filters{Category: "Video"})
	h.loop.RunUntilIdle()

	state := c.State()
	require.Equal(t, PhaseReady, state.Phase)
	require.NotEmpty(t, state.Items)
	for _, item := range state.Items {
		assert.Equal(t, "video", item.Category)
	}
	assert.EqualValues(t, 2, h.source.calls.Load())

	c.SetFilters(nav.Filters{Category: "video", Sort: "latest"})
	h.loop.RunUntilIdle()
	assert.EqualValues(t, 2, h.source.calls.Load(), "an equivalent filter set is not a change")
}

func TestFilterChangeResetsScroll(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	c := h.newController(staticDetector{})
	h.loadAll(c, nav.Filters{})
	h.sim.UserScroll(500)
	h.loop.RunUntilIdle()

	c.SetFilters(nav.Filters{Search: "ocean"})
	assert.Equal(t, 0, h.sim.ScrollY())
	assert.Empty(t, c.State().Items)
	assert.Equal(t, PhaseFetching, c.State().Phase)
	h.loop.RunUntilIdle()
	assert.Equal(t, PhaseReady, c.State().Phase)
}

func TestScrollWritesAreThrottled(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	ctx := context.Background()
	c := h.newController(staticDetector{})
	h.loadAll(c, nav.Filters{})
	fp := snapshot.FingerprintOf(nav.Filters{})

	h.sim.UserScroll(100)
	h.sim.UserScroll(200)
	h.sim.UserScroll(300)
	h.loop.Advance(0)

	snap, _ := h.store.Load(ctx, fp)
	require.Equal(t, 100, snap.ScrollPosition, "only the leading write lands immediately")

	h.loop.Advance(200 * time.Millisecond)
	snap, _ = h.store.Load(ctx, fp)
	require.Equal(t, 300, snap.ScrollPosition, "trailing write flushes the latest offset")
}

func TestUnmountFlushesScroll(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	ctx := context.Background()
	c := h.newController(staticDetector{})
	h.loadAll(c, nav.Filters{})

	h.sim.UserScroll(100)
	h.sim.UserScroll(650)
	h.loop.Advance(0)
	c.Unmount()

	snap, _ := h.store.Load(ctx, snapshot.FingerprintOf(nav.Filters{}))
	assert.Equal(t, 650, snap.ScrollPosition)
	assert.False(t, c.Mounted())

	h.loop.RunUntilIdle()
	snap, _ = h.store.Load(ctx, snapshot.FingerprintOf(nav.Filters{}))
	assert.Equal(t, 650, snap.ScrollPosition, "no writes after unmount")
	assert.ErrorIs(t, c.ActivateItem(domain.MediaItem{ID: "1"}), ErrNotMounted)
}

func TestReplacingFetchFailureClearsSnapshot(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	ctx := context.Background()
	boom := errors.New("upstream unavailable")
	h.source.failOn = map[int]error{1: boom}
	fp := snapshot.FingerprintOf(nav.Filters{})
	require.NoError(t, h.store.Save(ctx, fp, snapshot.PageSnapshot{Items: []domain.MediaItem{{ID: "old"}}, Page: 2}))

	c := h.newController(staticDetector{})
	c.Mount(ctx, nav.Filters{})
	h.loop.RunUntilIdle()

	state := c.State()
	require.Equal(t, PhaseError, state.Phase)
	require.ErrorIs(t, state.Err, boom)
	require.Empty(t, state.Items)
	_, ok := h.store.Load(ctx, fp)
	require.False(t, ok)

	c.DismissError()
	require.Equal(t, PhaseIdle, c.State().Phase)
	require.NoError(t, c.State().Err)
	require.False(t, c.Retry(), "retry needs an error")

	c.Mount(ctx, nav.Filters{}) // already mounted: ignored
	h.source.failOn = nil
	c.SetFilters(nav.Filters{Category: "audio"})
	h.loop.RunUntilIdle()
	require.Equal(t, PhaseReady, c.State().Phase)
}

func TestRetryAfterFailure(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	h.source.failOn = map[int]error{1: errors.New("flaky")}

	c := h.newController(staticDetector{})
	c.Mount(context.Background(), nav.Filters{})
	h.loop.RunUntilIdle()
	require.Equal(t, PhaseError, c.State().Phase)

	h.source.failOn = nil
	require.True(t, c.Retry())
	h.loop.RunUntilIdle()
	require.Equal(t, PhaseReady, c.State().Phase)
	require.Len(t, c.State().Items, 12)
}

func TestLoadMoreFailureKeepsItems(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	h.source.failOn = map[int]error{2: errors.New("timeout")}

	c := h.newController(staticDetector{})
	h.loadAll(c, nav.Filters{})

	state := c.State()
	assert.Equal(t, PhaseReady, state.Phase)
	assert.Len(t, state.Items, 12)
	assert.False(t, state.HasMore)
	assert.Error(t, state.Err)
	assert.EqualValues(t, 2, h.source.calls.Load())

	h.source.failOn = nil
	require.True(t, c.Retry(), "retry re-requests the failed page")
	h.loop.RunUntilIdle()
	state = c.State()
	assert.Len(t, state.Items, 24)
	assert.NoError(t, state.Err)
	assert.Equal(t, 3, state.NextPage)
	assert.False(t, c.Retry())
}

func TestActivateItemMarksRestore(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	ctx := context.Background()
	c := h.newController(staticDetector{})
	f := nav.Filters{Category: "audio", Sort: domain.MediaSortPopular}
	h.loadAll(c, f)

	item := c.State().Items[0]
	require.NoError(t, c.ActivateItem(item))
	assert.Equal(t, []string{nav.DetailURL(item)}, h.navigator.urls)

	fp, ok := h.store.ConsumeRestore(ctx, snapshot.FingerprintOf(f))
	require.True(t, ok)
	assert.Equal(t, snapshot.FingerprintOf(f), fp)
}

func TestUnmountDuringFetchDiscardsResult(t *testing.T) {
	h := newHarness(t, browser.SimOptions{})
	var rendered atomic.Int32
	c := New(Deps{
		Loop:      h.loop,
		Detector:  staticDetector{},
		Source:    h.source,
		Snapshots: h.store,
		Viewport:  h.sim,
		Navigator: h.navigator,
		View:      ViewFunc(func(State) { rendered.Add(1) }),
	})

	c.Mount(context.Background(), nav.Filters{})
	renders := rendered.Load()
	c.Unmount()
	h.loop.RunUntilIdle()

	assert.Equal(t, renders, rendered.Load())
	assert.Empty(t, c.State().Items)
	_, ok := h.store.Load(context.Background(), snapshot.FingerprintOf(nav.Filters{}))
	assert.False(t, ok)
}
