package navigation

import "testing"

func TestFreshLoadIsNotBack(t *testing.T) {
	d := NewDispatcher()
	d.Mount("listing")
	if d.IsActive() {
		t.Fatalf("expected fresh load to be inactive")
	}
}

func TestPopLatchesAndSurvivesReplace(t *testing.T) {
	d := NewDispatcher()
	d.Mount("listing")
	d.Route(Transition{Signal: SignalPush, From: "/browse", To: "/browse/video/1"})
	d.Mount("detail:1")

	d.ObservePop()
	d.Route(Transition{Signal: SignalPop, From: "/browse/video/1", To: "/browse"})
	inst := d.Mount("listing")
	if !d.IsActive() {
		t.Fatalf("expected pop to latch")
	}

	// a filter change on the restored page replaces history but stays on the same instance
	d.Route(Transition{Signal: SignalReplace, From: "/browse", To: "/browse?sort=popular"})
	if !d.IsActive() {
		t.Fatalf("expected latch to hold for the instance lifetime")
	}
	if !inst.Mounted() {
		t.Fatalf("expected instance to stay mounted")
	}
}

func TestLatchClearsOnFreshMountForDifferentTarget(t *testing.T) {
	d := NewDispatcher()
	d.Mount("detail:1")
	d.ObservePop()
	d.Route(Transition{Signal: SignalPop})
	d.Mount("listing")

	d.Route(Transition{Signal: SignalPush, To: "/browse/video/2"})
	d.Mount("detail:2")
	if d.IsActive() {
		t.Fatalf("expected push to a new page to clear the latch; diag=%s", d.Diagnostics())
	}
}

func TestSameTargetRemountKeepsLatch(t *testing.T) {
	d := NewDispatcher()
	d.Mount("listing")
	d.ObservePop()
	d.Route(Transition{Signal: SignalPop})
	first := d.Mount("listing")

	d.Route(Transition{Signal: SignalPush})
	first.Unmount()
	d.Mount("listing")
	if !d.IsActive() {
		t.Fatalf("expected remount of the same target to keep the latch")
	}
}

func TestRawPopWithoutRouteSignalIsEnough(t *testing.T) {
	d := NewDispatcher()
	d.Mount("detail:1")
	d.ObservePop()
	d.Mount("listing")
	if !d.IsActive() {
		t.Fatalf("expected raw pop alone to mark the render as back navigation")
	}
	diag := d.Diagnostics()
	if diag.RouteSignal != SignalNone || !diag.RawPop || !diag.Latched {
		t.Fatalf("unexpected diagnostics %+v", diag)
	}
}

func TestLatchIsMonotonicWhileMounted(t *testing.T) {
	d := NewDispatcher()
	d.Mount("listing")
	d.ObservePop()
	d.Route(Transition{Signal: SignalPop})
	inst := d.Mount("listing")

	signals := []Signal{SignalReplace, SignalNone, SignalReplace, SignalPush}
	for _, s := range signals {
		d.Route(Transition{Signal: s})
		if !d.IsActive() {
			t.Fatalf("latch dropped after %s while instance %s still mounted", s, inst.Target())
		}
	}
	d.ObservePop()
	d.ObservePop()
	if !d.IsActive() {
		t.Fatalf("expected repeated pops to be idempotent")
	}
}

func TestSignalString(t *testing.T) {
	cases := map[Signal]string{
		SignalNone:    "none",
		SignalPush:    "programmatic-push",
		SignalReplace: "programmatic-replace",
		SignalPop:     "browser-pop",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("Signal(%d).String() = %q, want %q", s, got, want)
		}
	}
}
