// Package listing drives the paginated, filterable media listing page: it decides between
// restoring a session snapshot and fetching, appends pages, and keeps the scroll offset in step
// with browser history.
package listing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/freemedia/storefront/internal/browser"
	"github.com/freemedia/storefront/internal/domain"
	"github.com/freemedia/storefront/internal/eventloop"
	"github.com/freemedia/storefront/internal/nav"
	"github.com/freemedia/storefront/internal/navigation"
	"github.com/freemedia/storefront/internal/snapshot"
)

const (
	defaultPageSize        = 12
	defaultScrollTolerance = 24
	defaultSettleDelay     = 300 * time.Millisecond
	defaultScrollThrottle  = 150 * time.Millisecond
)

// ErrNotMounted is returned by operations on an unmounted controller.
var ErrNotMounted = errors.New("listing: controller not mounted")

// Phase is the controller's fetch state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseReady    Phase = "ready"
	PhaseError    Phase = "error"
)

// Source lists media pages.
type Source interface {
	List(ctx context.Context, q domain.MediaQuery) (domain.MediaPage, error)
}

// Navigator performs programmatic history pushes.
type Navigator interface {
	Push(url string) error
}

// View renders controller state.
type View interface {
	RenderListing(State)
}

// ViewFunc adapts a function to View.
type ViewFunc func(State)

// RenderListing implements View.
func (f ViewFunc) RenderListing(s State) { f(s) }

// Deps wires the controller.
type Deps struct {
	Loop      *eventloop.Loop
	Detector  navigation.Detector
	Source    Source
	Snapshots *snapshot.Store
	Viewport  browser.Viewport
	Navigator Navigator
	View      View
	Logger    *zap.Logger

	PageSize int
	// ScrollTolerance is how far the achieved offset may drift from the restore target before
	// the settle check assigns it again.
	ScrollTolerance int
	SettleDelay     time.Duration
	ScrollThrottle  time.Duration
}

// State is a read-only view of the controller.
type State struct {
	Phase       Phase
	Filters     nav.Filters
	Items       []domain.MediaItem
	NextPage    int
	HasMore     bool
	LoadingMore bool
	Restored    bool
	Err         error
}

// Controller is one mounted listing page instance. All methods run on the loop goroutine.
type Controller struct {
	deps    Deps
	logger  *zap.Logger
	limiter *rate.Limiter

	ctx     context.Context
	stop    context.CancelFunc
	mounted bool

	filters nav.Filters
	fp      snapshot.Fingerprint

	phase       Phase
	items       []domain.MediaItem
	nextPage    int
	hasMore     bool
	loadingMore bool
	restored    bool
	err         error
	// failedPage is the load-more page whose fetch failed, zero when none.
	failedPage int

	gen    uint64
	cancel context.CancelFunc

	restoring     bool
	restoreTarget int
	settleTimer   *eventloop.Timer
	trailingTimer *eventloop.Timer
}

// New constructs an unmounted controller.
func New(deps Deps) *Controller {
	if deps.PageSize <= 0 {
		deps.PageSize = defaultPageSize
	}
	if deps.ScrollTolerance <= 0 {
		deps.ScrollTolerance = defaultScrollTolerance
	}
	if deps.SettleDelay <= 0 {
		deps.SettleDelay = defaultSettleDelay
	}
	if deps.ScrollThrottle <= 0 {
		deps.ScrollThrottle = defaultScrollThrottle
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Controller{
		deps:    deps,
		logger:  deps.Logger,
		limiter: rate.NewLimiter(rate.Every(deps.ScrollThrottle), 1),
		phase:   PhaseIdle,
	}
}

// Mount starts the instance for filters. A back navigation onto filters with a stored snapshot
// restores it verbatim without touching the network. When a restore marker names different
// filters, the user left another listing view to reach this entry and the mount fetches.
func (c *Controller) Mount(ctx context.Context, f nav.Filters) {
	if c.mounted {
		return
	}
	c.ctx, c.stop = context.WithCancel(ctx)
	c.mounted = true
	c.filters = f.Normalized()
	c.fp = snapshot.FingerprintOf(c.filters)

	marker, hadMarker := c.deps.Snapshots.ConsumeRestore(c.ctx, c.fp)
	unchanged := !hadMarker || marker == c.fp
	back := c.deps.Detector.IsActive()
	snap, has := c.deps.Snapshots.Load(c.ctx, c.fp)

	c.logDecision("mount", back, unchanged, has)
	if back && unchanged && has {
		c.restore(snap)
		return
	}
	c.resetAndFetch()
}

// SetFilters applies a filter change on the mounted instance. Unchanged filters are a no-op.
func (c *Controller) SetFilters(f nav.Filters) {
	if !c.mounted {
		return
	}
	f = f.Normalized()
	fp := snapshot.FingerprintOf(f)
	c.filters = f
	if fp == c.fp {
		return
	}
	c.fp = fp
	c.logDecision("filters", c.deps.Detector.IsActive(), false, false)
	c.resetAndFetch()
}

// LoadMore fetches the next page and appends it. It reports whether a fetch was started.
func (c *Controller) LoadMore() bool {
	if !c.mounted || c.phase != PhaseReady || !c.hasMore || c.loadingMore {
		return false
	}
	c.fetch(c.nextPage, false)
	return true
}

// Retry refetches the first page after a failed load, or re-requests the page whose load-more
// failed.
func (c *Controller) Retry() bool {
	if !c.mounted {
		return false
	}
	switch {
	case c.phase == PhaseError:
		c.resetAndFetch()
		return true
	case c.phase == PhaseReady && c.failedPage > 0 && !c.loadingMore:
		c.err = nil
		c.fetch(c.failedPage, false)
		return true
	}
	return false
}

// DismissError clears the inline error.
func (c *Controller) DismissError() {
	if c.err == nil {
		return
	}
	c.err = nil
	if c.phase == PhaseError {
		c.phase = PhaseIdle
	}
	c.render()
}

// OnScroll records a user scroll. Writes are throttled; offsets reported while a restoration
// is pending are ignored.
func (c *Controller) OnScroll(y int) {
	if !c.mounted || c.restoring {
		return
	}
	if c.limiter.AllowN(c.deps.Loop.Now(), 1) {
		c.stopTrailing()
		c.persistScroll(y)
		return
	}
	if c.trailingTimer == nil {
		c.trailingTimer = c.deps.Loop.AfterFunc(c.deps.ScrollThrottle, func() {
			c.trailingTimer = nil
			if c.mounted && !c.restoring {
				c.persistScroll(c.deps.Viewport.ScrollY())
			}
		})
	}
}

// ActivateItem navigates to the item's detail page. The scroll offset and the restore marker
// are written before the navigation starts.
func (c *Controller) ActivateItem(item domain.MediaItem) error {
	if !c.mounted {
		return ErrNotMounted
	}
	c.flushScroll()
	if err := c.deps.Snapshots.MarkRestore(c.ctx, c.fp); err != nil {
		c.logger.Warn("restore marker not saved", zap.Error(err))
	}
	return c.deps.Navigator.Push(nav.DetailURL(item))
}

// Unmount flushes the scroll offset and stops all pending work.
func (c *Controller) Unmount() {
	if !c.mounted {
		return
	}
	c.flushScroll()
	c.mounted = false
	c.stopTrailing()
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
	c.restoring = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.stop()
}

// Mounted reports whether the instance is live.
func (c *Controller) Mounted() bool { return c.mounted }

// Restoring reports whether a scroll restoration is pending.
func (c *Controller) Restoring() bool { return c.restoring }

// State returns a copy of the controller state.
func (c *Controller) State() State {
	items := make([]domain.MediaItem, len(c.items))
	copy(items, c.items)
	return State{
		Phase:       c.phase,
		Filters:     c.filters,
		Items:       items,
		NextPage:    c.nextPage,
		HasMore:     c.hasMore,
		LoadingMore: c.loadingMore,
		Restored:    c.restored,
		Err:         c.err,
	}
}

func (c *Controller) restore(snap snapshot.PageSnapshot) {
	c.items = snap.Items
	c.nextPage = snap.Page
	if c.nextPage <= 0 {
		c.nextPage = 1 + (len(snap.Items)+c.deps.PageSize-1)/c.deps.PageSize
	}
	c.hasMore = snap.HasMore
	c.phase = PhaseReady
	c.restored = true
	c.err = nil
	c.render()
	c.scheduleScrollRestore(snap.ScrollPosition)
}

// scheduleScrollRestore assigns the offset two frames after the render, when the restored items
// have been laid out, and re-checks once more after the settle delay for late layout.
func (c *Controller) scheduleScrollRestore(target int) {
	c.restoring = true
	c.restoreTarget = target
	loop := c.deps.Loop
	loop.RequestFrame(func() {
		loop.RequestFrame(func() {
			if !c.mounted || !c.restoring {
				return
			}
			c.deps.Viewport.ScrollTo(target)
			c.settleTimer = loop.AfterFunc(c.deps.SettleDelay, func() {
				c.settleTimer = nil
				if !c.mounted || !c.restoring {
					return
				}
				if achieved := c.deps.Viewport.ScrollY(); abs(achieved-target) > c.deps.ScrollTolerance {
					c.logger.Debug("scroll restore corrected", zap.Int("achieved", achieved), zap.Int("target", target))
					c.deps.Viewport.ScrollTo(target)
				}
				c.restoring = false
			})
		})
	})
}

func (c *Controller) resetAndFetch() {
	c.cancelRestore()
	c.items = nil
	c.nextPage = 1
	c.hasMore = false
	c.restored = false
	c.err = nil
	c.failedPage = 0
	c.deps.Viewport.ScrollTo(0)
	c.fetch(1, true)
}

func (c *Controller) fetch(page int, replace bool) {
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel

	if replace {
		c.phase = PhaseFetching
	} else {
		c.loadingMore = true
	}
	c.render()

	fp := c.fp
	q := domain.MediaQuery{
		Category: c.filters.Category,
		Search:   c.filters.Search,
		Sort:     c.filters.Sort,
		Page:     page,
		PageSize: c.deps.PageSize,
	}
	c.deps.Loop.Go(ctx, func(ctx context.Context) func() {
		res, err := c.deps.Source.List(ctx, q)
		return func() {
			cancel()
			c.applyFetch(gen, fp, page, replace, res, err)
		}
	})
}

func (c *Controller) applyFetch(gen uint64, fp snapshot.Fingerprint, page int, replace bool, res domain.MediaPage, err error) {
	if !c.mounted || gen != c.gen {
		c.logger.Debug("discarding stale listing result", zap.Uint64("generation", gen), zap.Stringer("fingerprint", fp))
		return
	}
	c.cancel = nil
	c.loadingMore = false

	if err != nil {
		c.logger.Warn("listing fetch failed", zap.Int("page", page), zap.Bool("replace", replace), zap.Error(err))
		if replace {
			c.items = nil
			c.hasMore = false
			c.phase = PhaseError
			c.err = err
			if derr := c.deps.Snapshots.Delete(c.ctx, fp); derr != nil {
				c.logger.Warn("snapshot delete failed", zap.Error(derr))
			}
			c.render()
			return
		}
		c.hasMore = false
		c.phase = PhaseReady
		c.err = err
		c.failedPage = page
		c.persist()
		c.render()
		return
	}

	if replace {
		c.items = appendUnique(nil, res.Items)
	} else {
		c.items = appendUnique(c.items, res.Items)
	}
	c.nextPage = page + 1
	c.hasMore = res.HasMore
	c.phase = PhaseReady
	c.err = nil
	c.failedPage = 0
	c.persist()
	c.render()
}

func (c *Controller) persist() {
	snap := snapshot.PageSnapshot{
		Items:          c.items,
		Page:           c.nextPage,
		HasMore:        c.hasMore,
		ScrollPosition: c.currentScroll(),
	}
	if err := c.deps.Snapshots.Save(c.ctx, c.fp, snap); err != nil {
		c.logger.Warn("snapshot save failed", zap.Error(err))
	}
}

func (c *Controller) persistScroll(y int) {
	if err := c.deps.Snapshots.SaveScroll(c.ctx, c.fp, y); err != nil {
		c.logger.Warn("scroll save failed", zap.Error(err))
	}
}

func (c *Controller) flushScroll() {
	c.stopTrailing()
	c.persistScroll(c.currentScroll())
}

// currentScroll is the offset to persist. While a restoration is pending the viewport has not
// reached the target yet, so the target is what the page is showing.
func (c *Controller) currentScroll() int {
	if c.restoring {
		return c.restoreTarget
	}
	return c.deps.Viewport.ScrollY()
}

func (c *Controller) cancelRestore() {
	c.restoring = false
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
}

func (c *Controller) stopTrailing() {
	if c.trailingTimer != nil {
		c.trailingTimer.Stop()
		c.trailingTimer = nil
	}
}

func (c *Controller) render() {
	if c.deps.View != nil {
		c.deps.View.RenderListing(c.State())
	}
}

func (c *Controller) logDecision(trigger string, back, unchanged, has bool) {
	fields := []zap.Field{
		zap.String("trigger", trigger),
		zap.Stringer("fingerprint", c.fp),
		zap.Bool("back", back),
		zap.Bool("unchanged", unchanged),
		zap.Bool("snapshot", has),
	}
	if d, ok := c.deps.Detector.(interface{ Diagnostics() navigation.Diagnostics }); ok {
		fields = append(fields, zap.Stringer("detector", d.Diagnostics()))
	}
	c.logger.Debug("listing decision", fields...)
}

func appendUnique(dst, src []domain.MediaItem) []domain.MediaItem {
	seen := make(map[string]struct{}, len(dst)+len(src))
	out := make([]domain.MediaItem, 0, len(dst)+len(src))
	for _, item := range dst {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	for _, item := range src {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
