// Package download gates monetized file downloads behind a promotional pop-out cycle.
package download

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/freemedia/storefront/internal/browser"
	"github.com/freemedia/storefront/internal/domain"
	"github.com/freemedia/storefront/internal/eventloop"
)

const (
	defaultTransferDelay = 800 * time.Millisecond
	defaultGraceDelay    = 3 * time.Second
	maxPopouts           = 3
)

// ErrNoTransfer is reported when the gate has nothing to stream the file through.
var ErrNoTransfer = errors.New("download: no transfer configured")

// Transfer streams an item's file.
type Transfer interface {
	Download(ctx context.Context, item domain.MediaItem, w io.Writer) (int64, error)
}

// Stage identifies what an activation did.
type Stage string

const (
	// StagePromo means only pop-outs were shown.
	StagePromo Stage = "promo"
	// StageTransferred means the file transfer completed.
	StageTransferred Stage = "transferred"
	// StageFailed means the file transfer failed.
	StageFailed Stage = "failed"
)

// Result is reported after every activation settles.
type Result struct {
	Item     domain.MediaItem
	Attempt  int
	Stage    Stage
	Popouts  int
	Bytes    int64
	Err      error
	Attempts int
}

// Deps wires a gate.
type Deps struct {
	Loop     *eventloop.Loop
	Opener   browser.Opener
	Transfer Transfer
	// Destination opens the writer a transfer streams into. Nil discards the bytes.
	Destination func(domain.MediaItem) (io.WriteCloser, error)
	PopoutURLs  []string
	Rand        *rand.Rand
	Logger      *zap.Logger
	OnResult    func(Result)

	TransferDelay time.Duration
	GraceDelay    time.Duration
}

// Gate is the per-detail-instance attempt counter. All methods run on the loop goroutine.
type Gate struct {
	deps     Deps
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	attempts int
	windows  []browser.Window
	timers   []*eventloop.Timer
	disposed bool
}

// NewGate returns a gate with a zero attempt count.
func NewGate(deps Deps) *Gate {
	if deps.TransferDelay <= 0 {
		deps.TransferDelay = defaultTransferDelay
	}
	if deps.GraceDelay <= 0 {
		deps.GraceDelay = defaultGraceDelay
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{deps: deps, logger: deps.Logger, ctx: ctx, cancel: cancel}
}

// Attempts is the current attempt count.
func (g *Gate) Attempts() int { return g.attempts }

// Activate records a download-button activation and returns the new attempt count. The first
// activation of a cycle only shows pop-outs; later ones also start the transfer after the
// transfer delay.
func (g *Gate) Activate(item domain.MediaItem) int {
	if g.disposed {
		return g.attempts
	}
	g.attempts++
	attempt := g.attempts
	opened := g.openPopouts()
	g.logger.Info("download activated",
		zap.String("item_id", item.ID),
		zap.Int("attempt", attempt),
		zap.Int("popouts", opened),
	)
	if attempt == 1 {
		g.report(Result{Item: item, Attempt: attempt, Stage: StagePromo, Popouts: opened})
		return attempt
	}
	g.after(g.deps.TransferDelay, func() { g.transfer(item, attempt, opened) })
	return attempt
}

// OpenWindows counts pop-outs opened by this gate that are still open.
func (g *Gate) OpenWindows() int {
	n := 0
	for _, w := range g.windows {
		if !w.Closed() {
			n++
		}
	}
	return n
}

// Dispose cancels pending work and closes pop-outs immediately.
func (g *Gate) Dispose() {
	if g.disposed {
		return
	}
	g.disposed = true
	g.cancel()
	for _, t := range g.timers {
		t.Stop()
	}
	g.timers = nil
	g.closeWindows()
}

func (g *Gate) openPopouts() int {
	urls := g.deps.PopoutURLs
	if len(urls) == 0 || g.deps.Opener == nil {
		return 0
	}
	n := 1 + g.deps.Rand.IntN(maxPopouts)
	if n > len(urls) {
		n = len(urls)
	}
	opened := 0
	for _, idx := range g.deps.Rand.Perm(len(urls))[:n] {
		w, err := g.deps.Opener.Open(urls[idx])
		if err != nil {
			g.logger.Warn("pop-out not opened", zap.String("url", urls[idx]), zap.Error(err))
			continue
		}
		g.windows = append(g.windows, w)
		opened++
	}
	return opened
}

func (g *Gate) transfer(item domain.MediaItem, attempt, popouts int) {
	g.deps.Loop.Go(g.ctx, func(ctx context.Context) func() {
		n, err := g.stream(ctx, item)
		return func() {
			if g.disposed {
				return
			}
			res := Result{Item: item, Attempt: attempt, Popouts: popouts, Bytes: n}
			if err != nil {
				res.Stage = StageFailed
				res.Err = err
				g.logger.Warn("download failed", zap.String("item_id", item.ID), zap.Int("attempt", attempt), zap.Error(err))
				g.report(res)
				return
			}
			g.attempts = 0
			res.Stage = StageTransferred
			g.logger.Info("download completed", zap.String("item_id", item.ID), zap.Int64("bytes", n))
			g.after(g.deps.GraceDelay, g.closeWindows)
			g.report(res)
		}
	})
}

func (g *Gate) stream(ctx context.Context, item domain.MediaItem) (int64, error) {
	if g.deps.Transfer == nil {
		return 0, ErrNoTransfer
	}
	var w io.WriteCloser = nopWriteCloser{io.Discard}
	if g.deps.Destination != nil {
		dst, err := g.deps.Destination(item)
		if err != nil {
			return 0, err
		}
		w = dst
	}
	n, err := g.deps.Transfer.Download(ctx, item, w)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (g *Gate) closeWindows() {
	for _, w := range g.windows {
		if !w.Closed() {
			w.Close()
		}
	}
	g.windows = nil
}

func (g *Gate) after(d time.Duration, fn func()) {
	var t *eventloop.Timer
	t = g.deps.Loop.AfterFunc(d, func() {
		g.forget(t)
		if !g.disposed {
			fn()
		}
	})
	g.timers = append(g.timers, t)
}

func (g *Gate) forget(t *eventloop.Timer) {
	for i, pending := range g.timers {
		if pending == t {
			g.timers = append(g.timers[:i], g.timers[i+1:]...)
			return
		}
	}
}

func (g *Gate) report(res Result) {
	res.Attempts = g.attempts
	if g.deps.OnResult != nil {
		g.deps.OnResult(res)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
