// Package app is the storefront shell: it maps browser locations to page controllers, funnels
// every navigation through the back-navigation dispatcher and owns page instance lifetimes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/freemedia/storefront/internal/browser"
	"github.com/freemedia/storefront/internal/detail"
	"github.com/freemedia/storefront/internal/domain"
	"github.com/freemedia/storefront/internal/download"
	"github.com/freemedia/storefront/internal/eventloop"
	"github.com/freemedia/storefront/internal/listing"
	"github.com/freemedia/storefront/internal/nav"
	"github.com/freemedia/storefront/internal/navigation"
	"github.com/freemedia/storefront/internal/platform/config"
	"github.com/freemedia/storefront/internal/seo"
	"github.com/freemedia/storefront/internal/snapshot"
)

const (
	// RowHeight is the laid-out height of one listing card.
	RowHeight = 120
	// HeaderHeight is the height of the page chrome above the content.
	HeaderHeight = 160
	// DetailHeight is the laid-out height of a detail page.
	DetailHeight = 1400
)

var (
	// ErrNotDetail is returned by detail-only actions on another page.
	ErrNotDetail = errors.New("app: current page is not a detail page")
	// ErrNotListing is returned by listing-only actions on another page.
	ErrNotListing = errors.New("app: current page is not a listing")
)

// Browser is everything the shell needs from the host browser.
type Browser interface {
	browser.History
	browser.Viewport
	browser.Head
	browser.Opener
	OnPop(fn func(url string))
	OnScroll(fn func(y int))
}

// MediaAPI is the media backend used by all pages.
type MediaAPI interface {
	List(ctx context.Context, q domain.MediaQuery) (domain.MediaPage, error)
	Get(ctx context.Context, id string) (domain.MediaItem, error)
	Related(ctx context.Context, item domain.MediaItem) ([]domain.MediaItem, error)
	Download(ctx context.Context, item domain.MediaItem, w io.Writer) (int64, error)
}

// Options tune the page controllers.
type Options struct {
	Site             seo.Site
	PageSize         int
	ScrollTolerance  int
	SettleDelay      time.Duration
	ScrollThrottle   time.Duration
	HistoryThreshold int
	TransferDelay    time.Duration
	PopoutGrace      time.Duration
	PopoutURLs       []string
}

// OptionsFromConfig maps runtime configuration onto controller options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Site:             seo.Site{BaseURL: cfg.Site.BaseURL, Name: cfg.Site.Name},
		PageSize:         cfg.Listing.PageSize,
		ScrollTolerance:  cfg.Listing.ScrollTolerance,
		SettleDelay:      cfg.Listing.SettleDelay,
		ScrollThrottle:   cfg.Listing.ScrollThrottle,
		HistoryThreshold: cfg.Detail.HistoryThreshold,
		TransferDelay:    cfg.Download.TransferDelay,
		PopoutGrace:      cfg.Download.PopoutGrace,
		PopoutURLs:       cfg.Download.PopoutURLs,
	}
}

// Observer receives every page render and download result. All fields are optional.
type Observer struct {
	Listing  func(listing.State)
	Detail   func(detail.State)
	Download func(download.Result)
}

// Deps wires the shell.
type Deps struct {
	Loop        *eventloop.Loop
	Browser     Browser
	API         MediaAPI
	Snapshots   *snapshot.Store
	Logger      *zap.Logger
	Options     Options
	Observer    Observer
	Rand        *rand.Rand
	Destination func(domain.MediaItem) (io.WriteCloser, error)
}

// App is the running shell. All methods run on the loop goroutine.
type App struct {
	deps       Deps
	logger     *zap.Logger
	dispatcher *navigation.Dispatcher

	ctx     context.Context
	started bool
	route   nav.Route
	url     string

	instance    *navigation.Instance
	listing     *listing.Controller
	listingMeta *seo.Scope
	detail      *detail.Controller
	gate        *download.Gate
}

// New returns an unstarted shell.
func New(deps Deps) *App {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Snapshots == nil {
		deps.Snapshots = snapshot.NewStore(nil, deps.Logger)
	}
	return &App{deps: deps, logger: deps.Logger, dispatcher: navigation.NewDispatcher()}
}

// Start registers the browser listeners and renders the current location. The dispatcher's pop
// observer is registered ahead of the shell's own handler so the latch is set before any page
// reacts to the pop.
func (a *App) Start(ctx context.Context) {
	if a.started {
		return
	}
	a.started = true
	a.ctx = ctx
	b := a.deps.Browser
	b.OnPop(func(string) { a.dispatcher.ObservePop() })
	b.OnPop(a.handlePop)
	b.OnScroll(func(y int) {
		if a.listing != nil {
			a.listing.OnScroll(y)
		}
	})
	a.render()
}

// Close unmounts the current page.
func (a *App) Close() {
	a.unmount()
	a.instance = nil
}

// Push implements the page navigators with a history-appending navigation.
func (a *App) Push(url string) error {
	return a.navigate(navigation.SignalPush, url)
}

// Replace implements the page navigators with a history-replacing navigation.
func (a *App) Replace(url string) error {
	return a.navigate(navigation.SignalReplace, url)
}

func (a *App) navigate(signal navigation.Signal, url string) error {
	if _, err := nav.Parse(url); err != nil {
		return err
	}
	from := a.deps.Browser.Location()
	a.dispatcher.Route(navigation.Transition{Signal: signal, From: from, To: url})
	if signal == navigation.SignalReplace {
		a.deps.Browser.Replace(url)
	} else {
		a.deps.Browser.Push(url)
	}
	a.logger.Debug("navigate", zap.Stringer("signal", signal), zap.String("from", from), zap.String("to", url))
	a.deps.Loop.Post(a.render)
	return nil
}

func (a *App) handlePop(url string) {
	a.dispatcher.Route(navigation.Transition{Signal: navigation.SignalPop, From: a.url, To: url})
	a.logger.Debug("pop", zap.String("from", a.url), zap.String("to", url))
	a.render()
}

// Detector exposes the back-navigation verdict.
func (a *App) Detector() navigation.Detector { return a.dispatcher }

// Diagnostics reports the dispatcher inputs.
func (a *App) Diagnostics() navigation.Diagnostics { return a.dispatcher.Diagnostics() }

// Route is the route currently rendered.
func (a *App) Route() nav.Route { return a.route }

// Listing returns the mounted listing controller, if any.
func (a *App) Listing() *listing.Controller { return a.listing }

// Detail returns the mounted detail controller, if any.
func (a *App) Detail() *detail.Controller { return a.detail }

// Gate returns the download gate of the mounted detail page, if any.
func (a *App) Gate() *download.Gate { return a.gate }

// ClickItem activates the listing card at index.
func (a *App) ClickItem(index int) error {
	if a.listing == nil {
		return ErrNotListing
	}
	items := a.listing.State().Items
	if index < 0 || index >= len(items) {
		return fmt.Errorf("app: no listing item at index %d of %d", index, len(items))
	}
	return a.listing.ActivateItem(items[index])
}

// LoadMore requests the next listing page.
func (a *App) LoadMore() error {
	if a.listing == nil {
		return ErrNotListing
	}
	a.listing.LoadMore()
	return nil
}

// ApplyFilters changes the listing filters by replacing the current entry.
func (a *App) ApplyFilters(f nav.Filters) error {
	if a.listing == nil {
		return ErrNotListing
	}
	return a.Replace(nav.ListingURL(f))
}

// Download activates the download button of the current detail page.
func (a *App) Download() (int, error) {
	if a.detail == nil || a.gate == nil {
		return 0, ErrNotDetail
	}
	item, ok := a.detail.Item()
	if !ok {
		return 0, fmt.Errorf("app: detail item not loaded: %w", ErrNotDetail)
	}
	return a.gate.Activate(item), nil
}

func (a *App) render() {
	url := a.deps.Browser.Location()
	route, err := nav.Parse(url)
	a.url = url
	if err != nil {
		a.logger.Warn("unroutable location", zap.String("url", url), zap.Error(err))
		a.unmount()
		a.route = route
		return
	}

	if a.instance != nil && a.instance.Mounted() && a.instance.Target() == route.Target() {
		a.route = route
		switch route.Kind {
		case nav.RouteListing:
			a.listing.SetFilters(route.Filters)
			a.acquireListingMeta(route.Filters)
		case nav.RouteDetail:
			a.detail.Update(route)
		}
		return
	}

	a.unmount()
	a.route = route
	a.instance = a.dispatcher.Mount(route.Target())
	a.logger.Debug("mount",
		zap.String("target", route.Target()),
		zap.Stringer("detector", a.dispatcher.Diagnostics()),
	)
	switch route.Kind {
	case nav.RouteListing:
		a.mountListing(route)
	case nav.RouteDetail:
		a.mountDetail(route)
	}
}

func (a *App) mountListing(route nav.Route) {
	opts := a.deps.Options
	a.listing = listing.New(listing.Deps{
		Loop:            a.deps.Loop,
		Detector:        a.dispatcher,
		Source:          a.deps.API,
		Snapshots:       a.deps.Snapshots,
		Viewport:        a.deps.Browser,
		Navigator:       a,
		View:            listing.ViewFunc(a.renderListing),
		Logger:          a.logger.Named("listing"),
		PageSize:        opts.PageSize,
		ScrollTolerance: opts.ScrollTolerance,
		SettleDelay:     opts.SettleDelay,
		ScrollThrottle:  opts.ScrollThrottle,
	})
	a.acquireListingMeta(route.Filters)
	a.listing.Mount(a.ctx, route.Filters)
}

func (a *App) mountDetail(route nav.Route) {
	opts := a.deps.Options
	a.gate = download.NewGate(download.Deps{
		Loop:          a.deps.Loop,
		Opener:        a.deps.Browser,
		Transfer:      a.deps.API,
		Destination:   a.deps.Destination,
		PopoutURLs:    opts.PopoutURLs,
		Rand:          a.deps.Rand,
		Logger:        a.logger.Named("download"),
		OnResult:      a.deps.Observer.Download,
		TransferDelay: opts.TransferDelay,
		GraceDelay:    opts.PopoutGrace,
	})
	a.detail = detail.New(detail.Deps{
		Loop:             a.deps.Loop,
		Detector:         a.dispatcher,
		Source:           a.deps.API,
		Navigator:        a,
		History:          a.deps.Browser,
		Head:             a.deps.Browser,
		View:             detail.ViewFunc(a.renderDetail),
		Site:             opts.Site,
		Logger:           a.logger.Named("detail"),
		HistoryThreshold: opts.HistoryThreshold,
	})
	if !a.dispatcher.IsActive() {
		a.deps.Browser.ScrollTo(0)
	}
	a.detail.Mount(a.ctx, route)
}

func (a *App) unmount() {
	if a.listing != nil {
		a.listing.Unmount()
		a.listing = nil
	}
	if a.listingMeta != nil {
		a.listingMeta.Release()
		a.listingMeta = nil
	}
	if a.detail != nil {
		a.detail.Unmount()
		a.detail = nil
	}
	if a.gate != nil {
		a.gate.Dispose()
		a.gate = nil
	}
	if a.instance != nil {
		a.instance.Unmount()
	}
}

func (a *App) acquireListingMeta(f nav.Filters) {
	if a.listingMeta != nil {
		a.listingMeta.Release()
	}
	a.listingMeta = seo.Acquire(a.deps.Browser, seo.ForListing(a.deps.Options.Site, f))
}

type layout interface {
	SetContentHeight(h int)
}

func (a *App) renderListing(s listing.State) {
	if l, ok := a.deps.Browser.(layout); ok {
		l.SetContentHeight(HeaderHeight + len(s.Items)*RowHeight)
	}
	if a.deps.Observer.Listing != nil {
		a.deps.Observer.Listing(s)
	}
}

func (a *App) renderDetail(s detail.State) {
	if l, ok := a.deps.Browser.(layout); ok && s.Phase == detail.PhaseRendering {
		l.SetContentHeight(DetailHeight)
	}
	if a.deps.Observer.Detail != nil {
		a.deps.Observer.Detail(s)
	}
}
