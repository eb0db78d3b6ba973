// Package navigation classifies history transitions and tells page controllers whether the
// current render is the result of browser back/forward navigation.
package navigation

import "fmt"

// Signal is the classification of a history transition.
type Signal int

const (
	// SignalNone means no transition has been classified yet. A missing signal is treated as a
	// fresh navigation.
	SignalNone Signal = iota
	SignalPush
	SignalReplace
	SignalPop
)

func (s Signal) String() string {
	switch s {
	case SignalPush:
		return "programmatic-push"
	case SignalReplace:
		return "programmatic-replace"
	case SignalPop:
		return "browser-pop"
	default:
		return "none"
	}
}

// Transition is one routed history change.
type Transition struct {
	Signal Signal
	From   string
	To     string
}

// Detector answers the single question every page controller asks before it decides to fetch,
// restore or redirect.
type Detector interface {
	IsActive() bool
}

// Diagnostics reports which inputs contributed to the current verdict. It is for logging only.
type Diagnostics struct {
	RouteSignal Signal
	RawPop      bool
	Latched     bool
	Target      string
}

func (d Diagnostics) String() string {
	return fmt.Sprintf("route=%s rawPop=%t latched=%t target=%s", d.RouteSignal, d.RawPop, d.Latched, d.Target)
}

// Dispatcher is the single writer of back-navigation state. The app shell feeds it every
// transition and mount; controllers only read through IsActive. It runs on the event loop
// goroutine and is not safe for concurrent use.
type Dispatcher struct {
	route   Signal
	rawPop  bool
	latched bool
	current *Instance
	mounts  uint64
}

// NewDispatcher returns a dispatcher in the fresh-load state.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// ObservePop records a raw browser pop. The shell registers it ahead of its own pop handler so
// it always lands before the resulting render.
func (d *Dispatcher) ObservePop() {
	d.rawPop = true
	d.latched = true
}

// Route records the routing layer's classification of a transition.
func (d *Dispatcher) Route(t Transition) {
	d.route = t.Signal
	switch t.Signal {
	case SignalPop:
		d.rawPop = true
		d.latched = true
	case SignalPush, SignalReplace:
		d.rawPop = false
	}
}

// Instance is one mounted page. Its identity is the mount, not the target: remounting the same
// target yields a new instance.
type Instance struct {
	d      *Dispatcher
	id     uint64
	target string
	active bool
}

// Mount registers a page instance for target. The latch is cleared only for a genuinely new
// page: a different target reached through a push or replace with no raw pop pending.
func (d *Dispatcher) Mount(target string) *Instance {
	prev := ""
	if d.current != nil {
		prev = d.current.target
	}
	if target != prev && d.route != SignalPop && !d.rawPop {
		d.latched = false
	}
	d.mounts++
	inst := &Instance{d: d, id: d.mounts, target: target, active: true}
	d.current = inst
	return inst
}

// Target is the logical page the instance renders.
func (i *Instance) Target() string { return i.target }

// Mounted reports whether the instance has not been unmounted.
func (i *Instance) Mounted() bool { return i.active }

// Unmount detaches the instance. The latch is untouched: it is only ever cleared by the next
// fresh mount.
func (i *Instance) Unmount() {
	if !i.active {
		return
	}
	i.active = false
	if i.d.current == i {
		i.d.current = nil
	}
}

// IsActive implements Detector. The routing signal is authoritative; a raw pop keeps the latch
// set until a fresh mount supersedes it.
func (d *Dispatcher) IsActive() bool {
	return d.latched || d.route == SignalPop
}

// Diagnostics reports the inputs behind IsActive.
func (d *Dispatcher) Diagnostics() Diagnostics {
	diag := Diagnostics{RouteSignal: d.route, RawPop: d.rawPop, Latched: d.latched}
	if d.current != nil {
		diag.Target = d.current.target
	}
	return diag
}
