package browser

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/freemedia/storefront/internal/eventloop"
)

// ErrPopupBlocked is returned by Sim.Open when pop-outs are blocked.
var ErrPopupBlocked = errors.New("browser: pop-out blocked")

// EventKind labels entries in the simulated browser trace.
type EventKind string

const (
	EventPush    EventKind = "push"
	EventReplace EventKind = "replace"
	EventPop     EventKind = "pop"
	EventScroll  EventKind = "scroll"
	EventLayout  EventKind = "layout"
	EventOpen    EventKind = "open"
	EventClose   EventKind = "close"
)

// Event is one entry of the trace recorded by Sim.
type Event struct {
	At   time.Time
	Kind EventKind
	URL  string
	Y    int
}

func (e Event) String() string {
	switch e.Kind {
	case EventScroll, EventLayout:
		return fmt.Sprintf("%s %d", e.Kind, e.Y)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.URL)
	}
}

// SimOptions tune the simulated browser.
type SimOptions struct {
	ViewportHeight int
	// LateLayout delays part of every layout change, the way images settle after first paint.
	// Zero applies layout fully at the next frame.
	LateLayout time.Duration
	// PartialLayoutRatio is the share of a layout change applied at the first frame when
	// LateLayout is set.
	PartialLayoutRatio float64
	PopupsBlocked      bool
}

// Sim is a deterministic in-memory browser driven by an event loop. Layout changes reach the
// viewport only at frame boundaries, so a scroll assignment made in the same task as a render
// lands on the stale layout exactly as it does in a real browser.
type Sim struct {
	loop *eventloop.Loop
	opts SimOptions

	entries []string
	index   int

	popListeners    []func(url string)
	scrollListeners []func(y int)

	scrollY      int
	layoutHeight int
	layoutGen    int

	title   string
	meta    map[string]string
	windows []*simWindow

	events []Event
}

// NewSim opens a browser tab at start.
func NewSim(loop *eventloop.Loop, start string, opts SimOptions) *Sim {
	if opts.ViewportHeight <= 0 {
		opts.ViewportHeight = 800
	}
	if opts.PartialLayoutRatio <= 0 || opts.PartialLayoutRatio > 1 {
		opts.PartialLayoutRatio = 0.5
	}
	return &Sim{
		loop:    loop,
		opts:    opts,
		entries: []string{start},
		meta:    make(map[string]string),
	}
}

// Length implements History.
func (s *Sim) Length() int { return len(s.entries) }

// Location implements History.
func (s *Sim) Location() string { return s.entries[s.index] }

// Push implements History. Forward entries are discarded.
func (s *Sim) Push(url string) {
	s.entries = append(s.entries[:s.index+1], url)
	s.index = len(s.entries) - 1
	s.record(Event{Kind: EventPush, URL: url})
}

// Replace implements History.
func (s *Sim) Replace(url string) {
	s.entries[s.index] = url
	s.record(Event{Kind: EventReplace, URL: url})
}

// Entries returns a copy of the history stack and the current index.
func (s *Sim) Entries() ([]string, int) {
	out := make([]string, len(s.entries))
	copy(out, s.entries)
	return out, s.index
}

// OnPop registers a pop listener. Listeners run in registration order, so the first one
// registered observes the pop before any later one (capture phase).
func (s *Sim) OnPop(fn func(url string)) {
	s.popListeners = append(s.popListeners, fn)
}

// OnScroll registers a scroll listener. Scroll notifications are delivered as separate tasks.
func (s *Sim) OnScroll(fn func(y int)) {
	s.scrollListeners = append(s.scrollListeners, fn)
}

// Back moves one entry back, as the browser back button does. It reports false at the start of
// the stack.
func (s *Sim) Back() bool { return s.Go(-1) }

// Forward moves one entry forward.
func (s *Sim) Forward() bool { return s.Go(1) }

// Go traverses delta entries and dispatches a pop notification as a task.
func (s *Sim) Go(delta int) bool {
	target := s.index + delta
	if delta == 0 || target < 0 || target >= len(s.entries) {
		return false
	}
	s.index = target
	url := s.entries[target]
	s.record(Event{Kind: EventPop, URL: url})
	listeners := append([]func(string){}, s.popListeners...)
	s.loop.Post(func() {
		for _, fn := range listeners {
			fn(url)
		}
	})
	return true
}

// ScrollY implements Viewport.
func (s *Sim) ScrollY() int { return s.scrollY }

// ScrollTo implements Viewport. The offset is clamped to the current layout.
func (s *Sim) ScrollTo(y int) {
	s.setScroll(y)
}

// UserScroll scrolls as the user would with a wheel or touch gesture.
func (s *Sim) UserScroll(y int) {
	s.setScroll(y)
}

// MaxScroll is the largest reachable offset for the current layout.
func (s *Sim) MaxScroll() int {
	if m := s.layoutHeight - s.opts.ViewportHeight; m > 0 {
		return m
	}
	return 0
}

// SetContentHeight records a new document height. It reaches the layout at the next frame;
// with LateLayout set only part of it does, the rest after the delay.
func (s *Sim) SetContentHeight(h int) {
	if h < 0 {
		h = 0
	}
	s.layoutGen++
	gen := s.layoutGen
	s.loop.RequestFrame(func() {
		if gen != s.layoutGen {
			return
		}
		if s.opts.LateLayout <= 0 || h <= s.layoutHeight {
			s.applyLayout(h)
			return
		}
		partial := s.layoutHeight + int(float64(h-s.layoutHeight)*s.opts.PartialLayoutRatio)
		s.applyLayout(partial)
		s.loop.AfterFunc(s.opts.LateLayout, func() {
			if gen == s.layoutGen {
				s.applyLayout(h)
			}
		})
	})
}

// LayoutHeight is the height currently applied to the layout.
func (s *Sim) LayoutHeight() int { return s.layoutHeight }

func (s *Sim) applyLayout(h int) {
	s.layoutHeight = h
	s.record(Event{Kind: EventLayout, Y: h})
	if s.scrollY > s.MaxScroll() {
		s.setScroll(s.MaxScroll())
	}
}

func (s *Sim) setScroll(y int) {
	if y < 0 {
		y = 0
	}
	if m := s.MaxScroll(); y > m {
		y = m
	}
	if y == s.scrollY {
		return
	}
	s.scrollY = y
	s.record(Event{Kind: EventScroll, Y: y})
	listeners := append([]func(int){}, s.scrollListeners...)
	s.loop.Post(func() {
		for _, fn := range listeners {
			fn(y)
		}
	})
}

// Title implements Head.
func (s *Sim) Title() string { return s.title }

// SetTitle implements Head.
func (s *Sim) SetTitle(title string) { s.title = title }

// Meta implements Head.
func (s *Sim) Meta(key string) (string, bool) {
	v, ok := s.meta[key]
	return v, ok
}

// SetMeta implements Head.
func (s *Sim) SetMeta(key, value string) { s.meta[key] = value }

// RemoveMeta implements Head.
func (s *Sim) RemoveMeta(key string) { delete(s.meta, key) }

// HeadDump renders the head as sorted "key=value" lines.
func (s *Sim) HeadDump() string {
	keys := make([]string, 0, len(s.meta))
	for k := range s.meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "title=%s\n", s.title)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, s.meta[k])
	}
	return b.String()
}

// Open implements Opener.
func (s *Sim) Open(url string) (Window, error) {
	if s.opts.PopupsBlocked {
		return nil, ErrPopupBlocked
	}
	w := &simWindow{sim: s, url: url}
	s.windows = append(s.windows, w)
	s.record(Event{Kind: EventOpen, URL: url})
	return w, nil
}

// OpenWindows counts pop-outs that have not been closed.
func (s *Sim) OpenWindows() int {
	n := 0
	for _, w := range s.windows {
		if !w.closed {
			n++
		}
	}
	return n
}

// Events returns a copy of the recorded trace.
func (s *Sim) Events() []Event {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventsOf filters the trace by kind.
func (s *Sim) EventsOf(kinds ...EventKind) []Event {
	var out []Event
	for _, e := range s.events {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func (s *Sim) record(e Event) {
	e.At = s.loop.Now()
	s.events = append(s.events, e)
}

type simWindow struct {
	sim    *Sim
	url    string
	closed bool
}

func (w *simWindow) URL() string  { return w.url }
func (w *simWindow) Closed() bool { return w.closed }

func (w *simWindow) Close() {
	if w.closed {
		return
	}
	w.closed = true
	w.sim.record(Event{Kind: EventClose, URL: w.url})
}
