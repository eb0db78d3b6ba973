package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/freemedia/storefront/internal/app"
	"github.com/freemedia/storefront/internal/browser"
	"github.com/freemedia/storefront/internal/domain"
	"github.com/freemedia/storefront/internal/eventloop"
	"github.com/freemedia/storefront/internal/mediaapi"
	"github.com/freemedia/storefront/internal/nav"
	"github.com/freemedia/storefront/internal/platform/observability"
	"github.com/freemedia/storefront/internal/platform/requestctx"
	"github.com/freemedia/storefront/internal/snapshot"
)

var scenarioEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Scenario is a scripted browsing session.
type Scenario struct {
	Name    string       `yaml:"name"`
	Start   string       `yaml:"start"`
	History []string     `yaml:"history"`
	Catalog CatalogSetup `yaml:"catalog"`
	Browser BrowserSetup `yaml:"browser"`
	Steps   []Step       `yaml:"steps"`
	Expect  Expectation  `yaml:"expect"`
}

// CatalogSetup configures the in-process media API used when no remote API is given.
type CatalogSetup struct {
	File      string        `yaml:"file"`
	Size      int           `yaml:"size"`
	Seed      uint64        `yaml:"seed"`
	BareArray bool          `yaml:"bareArray"`
	Latency   time.Duration `yaml:"latency"`
}

// BrowserSetup configures the simulated browser.
type BrowserSetup struct {
	ViewportHeight int           `yaml:"viewportHeight"`
	LateLayout     time.Duration `yaml:"lateLayout"`
	PopupsBlocked  bool          `yaml:"popupsBlocked"`
}

// FilterStep changes the listing filters.
type FilterStep struct {
	Category string `yaml:"category"`
	Search   string `yaml:"q"`
	Sort     string `yaml:"sort"`
}

// Step is one user action. Exactly one field is set.
type Step struct {
	Visit    string        `yaml:"visit,omitempty"`
	Click    *int          `yaml:"click,omitempty"`
	Scroll   *int          `yaml:"scroll,omitempty"`
	Back     bool          `yaml:"back,omitempty"`
	Forward  bool          `yaml:"forward,omitempty"`
	LoadMore bool          `yaml:"loadMore,omitempty"`
	Filter   *FilterStep   `yaml:"filter,omitempty"`
	Download bool          `yaml:"download,omitempty"`
	Wait     time.Duration `yaml:"wait,omitempty"`
}

func (s Step) String() string {
	switch {
	case s.Visit != "":
		return "visit " + s.Visit
	case s.Click != nil:
		return fmt.Sprintf("click %d", *s.Click)
	case s.Scroll != nil:
		return fmt.Sprintf("scroll %d", *s.Scroll)
	case s.Back:
		return "back"
	case s.Forward:
		return "forward"
	case s.LoadMore:
		return "loadMore"
	case s.Filter != nil:
		return fmt.Sprintf("filter category=%q q=%q sort=%q", s.Filter.Category, s.Filter.Search, s.Filter.Sort)
	case s.Download:
		return "download"
	case s.Wait > 0:
		return "wait " + s.Wait.String()
	default:
		return "noop"
	}
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Visit != "", s.Click != nil, s.Scroll != nil, s.Back, s.Forward,
		s.LoadMore, s.Filter != nil, s.Download, s.Wait > 0,
	} {
		if set {
			n++
		}
	}
	return n
}

// Expectation is checked after the last step. Unset fields are ignored.
type Expectation struct {
	Location     string `yaml:"location"`
	Page         string `yaml:"page"`
	Items        *int   `yaml:"items"`
	ScrollY      *int   `yaml:"scrollY"`
	Tolerance    int    `yaml:"tolerance"`
	Restored     *bool  `yaml:"restored"`
	ListRequests *int   `yaml:"listRequests"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if strings.TrimSpace(sc.Start) == "" {
		sc.Start = "/browse"
	}
	for i, step := range sc.Steps {
		if n := step.actions(); n != 1 {
			return Scenario{}, fmt.Errorf("scenario %s: step %d has %d actions, want exactly one", path, i+1, n)
		}
	}
	return sc, nil
}

// RequestRecord is one media API round trip.
type RequestRecord struct {
	At      time.Duration
	Method  string
	Path    string
	Status  int
	Elapsed time.Duration
}

// Report is the outcome of a scenario run.
type Report struct {
	Name     string
	Session  string
	Steps    []string
	Events   []browser.Event
	Requests []RequestRecord
	Location string
	Page     string
	Items    int
	Restored bool
	ScrollY  int
	Failures []string
}

// ListRequests counts listing calls.
func (r Report) ListRequests() int {
	n := 0
	for _, req := range r.Requests {
		if strings.HasPrefix(req.Path, "/media?") {
			n++
		}
	}
	return n
}

// WriteTrace prints the browser and network trace.
func (r Report) WriteTrace(w io.Writer) {
	fmt.Fprintf(w, "scenario %q (session %s)\n", r.Name, r.Session)
	for _, e := range r.Events {
		fmt.Fprintf(w, "  %8s  %s\n", e.At.Sub(scenarioEpoch), e)
	}
	fmt.Fprintln(w, "requests:")
	for _, req := range r.Requests {
		fmt.Fprintf(w, "  %s %s -> %d\n", req.Method, req.Path, req.Status)
	}
	fmt.Fprintf(w, "final: %s page=%s items=%d restored=%t scrollY=%d\n", r.Location, r.Page, r.Items, r.Restored, r.ScrollY)
	if len(r.Failures) == 0 {
		fmt.Fprintln(w, "PASS")
		return
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "FAIL: %s\n", f)
	}
}

// RunConfig wires a scenario run. The logger and session id travel on the context.
type RunConfig struct {
	BaseURL string
	Options app.Options
	Store   *snapshot.Store
}

type requestLog struct {
	mu      sync.Mutex
	loop    *eventloop.Loop
	records []RequestRecord
}

func (l *requestLog) observe(method, path string, status int, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, RequestRecord{
		At:      l.loop.Now().Sub(scenarioEpoch),
		Method:  method,
		Path:    path,
		Status:  status,
		Elapsed: elapsed,
	})
}

func (l *requestLog) snapshot() []RequestRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]RequestRecord(nil), l.records...)
}

// RunScenario replays sc against the media API at cfg.BaseURL on a simulated browser driven by
// a virtual clock.
func RunScenario(ctx context.Context, sc Scenario, cfg RunConfig) (Report, error) {
	logger := observability.FromContext(ctx)
	loop := eventloop.NewManual(scenarioEpoch)
	log := &requestLog{loop: loop}
	client := mediaapi.NewClient(cfg.BaseURL,
		mediaapi.WithLogger(logger.Named("mediaapi")),
		mediaapi.WithRequestObserver(log.observe),
	)

	sim := browser.NewSim(loop, sc.Start, browser.SimOptions{
		ViewportHeight: sc.Browser.ViewportHeight,
		LateLayout:     sc.Browser.LateLayout,
		PopupsBlocked:  sc.Browser.PopupsBlocked,
	})
	for _, url := range sc.History {
		sim.Push(url)
	}

	shell := app.New(app.Deps{
		Loop:      loop,
		Browser:   sim,
		API:       client,
		Snapshots: cfg.Store,
		Logger:    logger.Named("app"),
		Options:   cfg.Options,
		Rand:      rand.New(rand.NewPCG(sc.Catalog.Seed, 1)),
	})
	shell.Start(ctx)
	loop.RunUntilIdle()
	defer shell.Close()

	report := Report{Name: sc.Name, Session: requestctx.Session(ctx)}
	for i, step := range sc.Steps {
		report.Steps = append(report.Steps, step.String())
		if err := applyStep(shell, sim, loop, step); err != nil {
			return report, fmt.Errorf("step %d (%s): %w", i+1, step, err)
		}
		loop.RunUntilIdle()
	}

	report.Events = sim.Events()
	report.Requests = log.snapshot()
	report.Location = sim.Location()
	report.ScrollY = sim.ScrollY()
	report.Page = shell.Route().Kind.String()
	if l := shell.Listing(); l != nil {
		state := l.State()
		report.Items = len(state.Items)
		report.Restored = state.Restored
	}
	report.Failures = check(sc.Expect, report)
	return report, nil
}

func applyStep(shell *app.App, sim *browser.Sim, loop *eventloop.Loop, step Step) error {
	switch {
	case step.Visit != "":
		return shell.Push(step.Visit)
	case step.Click != nil:
		return shell.ClickItem(*step.Click)
	case step.Scroll != nil:
		sim.UserScroll(*step.Scroll)
		return nil
	case step.Back:
		if !sim.Back() {
			return errors.New("no history entry to go back to")
		}
		return nil
	case step.Forward:
		if !sim.Forward() {
			return errors.New("no history entry to go forward to")
		}
		return nil
	case step.LoadMore:
		return shell.LoadMore()
	case step.Filter != nil:
		return shell.ApplyFilters(nav.Filters{
			Category: step.Filter.Category,
			Search:   step.Filter.Search,
			Sort:     domain.MediaSort(step.Filter.Sort),
		})
	case step.Download:
		_, err := shell.Download()
		return err
	case step.Wait > 0:
		loop.Advance(step.Wait)
		return nil
	}
	return errors.New("empty step")
}

func check(want Expectation, got Report) []string {
	var failures []string
	if want.Location != "" && want.Location != got.Location {
		failures = append(failures, fmt.Sprintf("location = %s, want %s", got.Location, want.Location))
	}
	if want.Page != "" && want.Page != got.Page {
		failures = append(failures, fmt.Sprintf("page = %s, want %s", got.Page, want.Page))
	}
	if want.Items != nil && *want.Items != got.Items {
		failures = append(failures, fmt.Sprintf("items = %d, want %d", got.Items, *want.Items))
	}
	if want.ScrollY != nil {
		diff := got.ScrollY - *want.ScrollY
		if diff < 0 {
			diff = -diff
		}
		if diff > want.Tolerance {
			failures = append(failures, fmt.Sprintf("scrollY = %d, want %d±%d", got.ScrollY, *want.ScrollY, want.Tolerance))
		}
	}
	if want.Restored != nil && *want.Restored != got.Restored {
		failures = append(failures, fmt.Sprintf("restored = %t, want %t", got.Restored, *want.Restored))
	}
	if want.ListRequests != nil && *want.ListRequests != got.ListRequests() {
		failures = append(failures, fmt.Sprintf("list requests = %d, want %d", got.ListRequests(), *want.ListRequests))
	}
	return failures
}
