// Package detail drives the media detail page: it fetches and renders the item, migrates legacy
// URLs to the canonical form at most once per mounted instance, and scopes document metadata to
// the page's lifetime.
package detail

import (
	"context"
	"errors"
	"html"

	"go.uber.org/zap"

	"github.com/freemedia/storefront/internal/browser"
	"github.com/freemedia/storefront/internal/domain"
	"github.com/freemedia/storefront/internal/eventloop"
	"github.com/freemedia/storefront/internal/mediaapi"
	"github.com/freemedia/storefront/internal/nav"
	"github.com/freemedia/storefront/internal/navigation"
	"github.com/freemedia/storefront/internal/seo"
)

// DefaultHistoryThreshold is the history length at or below which a canonicalizing redirect
// replaces the current entry instead of pushing a new one.
const DefaultHistoryThreshold = 2

// Phase is the controller's state.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseFetching    Phase = "fetching"
	PhaseRedirecting Phase = "redirecting"
	PhaseRendering   Phase = "rendering"
	PhaseNotFound    Phase = "not-found"
	PhaseError       Phase = "error"
	PhaseUnmounted   Phase = "unmounted"
)

// Source fetches items and their related items.
type Source interface {
	Get(ctx context.Context, id string) (domain.MediaItem, error)
	Related(ctx context.Context, item domain.MediaItem) ([]domain.MediaItem, error)
}

// Navigator performs programmatic history navigations.
type Navigator interface {
	Push(url string) error
	Replace(url string) error
}

// View renders controller state.
type View interface {
	RenderDetail(State)
}

// ViewFunc adapts a function to View.
type ViewFunc func(State)

// RenderDetail implements View.
func (f ViewFunc) RenderDetail(s State) { f(s) }

// Deps wires the controller.
type Deps struct {
	Loop      *eventloop.Loop
	Detector  navigation.Detector
	Source    Source
	Navigator Navigator
	History   browser.History
	Head      browser.Head
	View      View
	Site      seo.Site
	Logger    *zap.Logger

	HistoryThreshold int
}

// Memo records the canonicalization performed by one mounted instance.
type Memo struct {
	LastCanonicalizedID string
	HasRedirected       bool
}

// State is a read-only view of the controller.
type State struct {
	Phase           Phase
	Route           nav.Route
	Item            *domain.MediaItem
	DescriptionHTML string
	Breadcrumbs     []nav.Crumb
	Related         []domain.MediaItem
	Memo            Memo
	Err             error
}

// Controller is one mounted detail page instance. All methods run on the loop goroutine.
type Controller struct {
	deps   Deps
	logger *zap.Logger

	ctx     context.Context
	stop    context.CancelFunc
	mounted bool

	phase   Phase
	route   nav.Route
	item    *domain.MediaItem
	related []domain.MediaItem
	err     error
	memo    Memo

	descriptionHTML string
	scope           *seo.Scope
	scopeItemID     string

	seq           uint64
	cancelFetch   context.CancelFunc
	cancelRelated context.CancelFunc
}

// New constructs an unmounted controller.
func New(deps Deps) *Controller {
	if deps.HistoryThreshold <= 0 {
		deps.HistoryThreshold = DefaultHistoryThreshold
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Controller{deps: deps, logger: deps.Logger, phase: PhaseIdle}
}

// Mount starts the instance on route.
func (c *Controller) Mount(ctx context.Context, route nav.Route) {
	if c.mounted {
		return
	}
	c.ctx, c.stop = context.WithCancel(ctx)
	c.mounted = true
	c.route = route
	c.load()
}

// Update applies a change of item id or category parameter on the mounted instance. An item
// that is already loaded is reused without a refetch.
func (c *Controller) Update(route nav.Route) {
	if !c.mounted {
		return
	}
	if route.ItemID == c.route.ItemID && route.Category == c.route.Category {
		return
	}
	c.route = route
	if c.item != nil && c.item.ID == route.ItemID && c.phase != PhaseFetching {
		c.decide(*c.item)
		return
	}
	c.load()
}

// Unmount releases the page metadata and cancels outstanding fetches.
func (c *Controller) Unmount() {
	if !c.mounted {
		return
	}
	c.mounted = false
	c.cancelOutstanding()
	c.releaseScope()
	c.phase = PhaseUnmounted
	c.stop()
}

// Mounted reports whether the instance is live.
func (c *Controller) Mounted() bool { return c.mounted }

// Item returns the loaded item.
func (c *Controller) Item() (domain.MediaItem, bool) {
	if c.item == nil {
		return domain.MediaItem{}, false
	}
	return *c.item, true
}

// State returns a copy of the controller state.
func (c *Controller) State() State {
	s := State{
		Phase:           c.phase,
		Route:           c.route,
		DescriptionHTML: c.descriptionHTML,
		Memo:            c.memo,
		Err:             c.err,
	}
	if c.item != nil {
		item := *c.item
		s.Item = &item
		s.Breadcrumbs = nav.Breadcrumbs(item)
	}
	if len(c.related) > 0 {
		s.Related = append([]domain.MediaItem(nil), c.related...)
	}
	return s
}

func (c *Controller) load() {
	c.cancelOutstanding()
	c.seq++
	seq := c.seq
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelFetch = cancel

	if c.item != nil && c.item.ID != c.route.ItemID {
		c.item = nil
		c.related = nil
		c.descriptionHTML = ""
		c.releaseScope()
	}
	c.phase = PhaseFetching
	c.err = nil
	c.render()

	id := c.route.ItemID
	c.deps.Loop.Go(ctx, func(ctx context.Context) func() {
		item, err := c.deps.Source.Get(ctx, id)
		return func() {
			cancel()
			if !c.mounted || seq != c.seq {
				return
			}
			c.cancelFetch = nil
			if err != nil {
				c.fail(err)
				return
			}
			c.decide(item)
		}
	})
}

// decide runs after the item is known. The detector is read again here: a pop may have landed
// while the fetch was outstanding.
func (c *Controller) decide(item domain.MediaItem) {
	back := c.deps.Detector.IsActive()
	c.item = &item
	c.logDecision(back)

	if !back && c.route.Legacy() && item.Category != "" && !c.memo.HasRedirected {
		c.memo.HasRedirected = true
		c.memo.LastCanonicalizedID = item.ID
		c.phase = PhaseRedirecting
		c.render()

		target := nav.CanonicalDetailURL(item.Category, item.ID)
		var err error
		if c.deps.History.Length() <= c.deps.HistoryThreshold {
			err = c.deps.Navigator.Replace(target)
		} else {
			err = c.deps.Navigator.Push(target)
		}
		if err == nil {
			return
		}
		c.logger.Warn("canonical redirect failed, rendering legacy url", zap.String("target", target), zap.Error(err))
	}
	c.show(item)
}

func (c *Controller) show(item domain.MediaItem) {
	if !c.mounted {
		return
	}
	c.phase = PhaseRendering
	c.err = nil
	if c.scopeItemID != item.ID {
		c.releaseScope()
		c.scope = seo.Acquire(c.deps.Head, seo.ForItem(c.deps.Site, item))
		c.scopeItemID = item.ID

		rendered, err := seo.RenderDescription(item.Description)
		if err != nil {
			c.logger.Warn("description render failed", zap.String("item_id", item.ID), zap.Error(err))
			rendered = html.EscapeString(item.Description)
		}
		c.descriptionHTML = rendered
		c.related = nil
		c.loadRelated(item)
	}
	c.render()
}

func (c *Controller) loadRelated(item domain.MediaItem) {
	if c.cancelRelated != nil {
		c.cancelRelated()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelRelated = cancel
	c.deps.Loop.Go(ctx, func(ctx context.Context) func() {
		related, err := c.deps.Source.Related(ctx, item)
		if ctx.Err() != nil {
			return nil
		}
		return func() {
			if !c.mounted || c.item == nil || c.item.ID != item.ID || ctx.Err() != nil {
				return
			}
			cancel()
			c.cancelRelated = nil
			if err != nil {
				c.logger.Debug("related items unavailable", zap.String("item_id", item.ID), zap.Error(err))
				return
			}
			c.related = related
			c.render()
		}
	})
}

func (c *Controller) fail(err error) {
	notFound := errors.Is(err, mediaapi.ErrNotFound)
	back := c.deps.Detector.IsActive()
	c.logger.Info("detail fetch failed",
		zap.String("item_id", c.route.ItemID),
		zap.Bool("not_found", notFound),
		zap.Bool("back", back),
		zap.Error(err),
	)
	c.err = err
	c.item = nil
	c.releaseScope()

	if !back {
		c.phase = PhaseRedirecting
		c.render()
		target := nav.CategoryURL(c.route.Category)
		navErr := c.deps.Navigator.Replace(target)
		if navErr == nil {
			return
		}
		c.logger.Warn("fallback redirect failed", zap.String("target", target), zap.Error(navErr))
	}
	if notFound {
		c.phase = PhaseNotFound
	} else {
		c.phase = PhaseError
	}
	c.render()
}

func (c *Controller) cancelOutstanding() {
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
	if c.cancelRelated != nil {
		c.cancelRelated()
		c.cancelRelated = nil
	}
}

func (c *Controller) releaseScope() {
	if c.scope != nil {
		c.scope.Release()
		c.scope = nil
	}
	c.scopeItemID = ""
}

func (c *Controller) render() {
	if c.deps.View != nil && c.mounted {
		c.deps.View.RenderDetail(c.State())
	}
}

func (c *Controller) logDecision(back bool) {
	fields := []zap.Field{
		zap.String("item_id", c.route.ItemID),
		zap.Bool("legacy", c.route.Legacy()),
		zap.Bool("back", back),
		zap.Bool("has_redirected", c.memo.HasRedirected),
	}
	if d, ok := c.deps.Detector.(interface{ Diagnostics() navigation.Diagnostics }); ok {
		fields = append(fields, zap.Stringer("detector", d.Diagnostics()))
	}
	c.logger.Debug("detail decision", fields...)
}
