// Package synchronizer turns a stream of polled session snapshots into
// navigation commands for a single display.
//
// Each Synchronizer owns its engine.State exclusively; displays that need
// session awareness at the same time each start their own instance.
package synchronizer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/engine"
)

const DefaultInterval = time.Second

var ErrStopped = errors.New("synchronizer stopped")

type Fetcher interface {
	CheckSession(ctx context.Context) (engine.Snapshot, error)
}

// FetchFunc adapts a plain function to Fetcher.
type FetchFunc func(ctx context.Context) (engine.Snapshot, error)

func (f FetchFunc) CheckSession(ctx context.Context) (engine.Snapshot, error) { return f(ctx) }

type Navigation struct {
	Target engine.Location
	Path   string
	At     time.Time
}

type Options struct {
	Interval    time.Duration
	Grace       time.Duration
	InitialPath string

	// Now and Ticks replace the wall clock and the interval ticker; tests
	// drive the poll loop through them.
	Now   func() time.Time
	Ticks <-chan time.Time

	// OnSnapshot and OnNavigate run on the poll loop goroutine. They must not
	// call back into the Synchronizer.
	OnSnapshot func(engine.Snapshot)
	OnNavigate func(Navigation)

	Observer Observer
	Logger   *zap.Logger
}

type message interface{ isSyncMsg() }

type tick struct{}

type fetchDone struct {
	seq  uint64
	snap engine.Snapshot
	err  error
}

type notifyLogout struct {
	at    time.Time
	reply chan error
}

type pathChanged struct {
	path  string
	reply chan struct{}
}

type getView struct {
	reply chan View
}

func (tick) isSyncMsg()         {}
func (fetchDone) isSyncMsg()    {}
func (notifyLogout) isSyncMsg() {}
func (pathChanged) isSyncMsg()  {}
func (getView) isSyncMsg()      {}

// View is a copy of the synchronizer's state, safe to read from any goroutine.
type View struct {
	State    engine.State
	InFlight bool
	Polls    uint64
	Skipped  uint64
	Failures uint64
}

type Synchronizer struct {
	inbox   chan message
	fetcher Fetcher
	opts    Options
	log     *zap.Logger

	state    engine.State
	inFlight bool
	seq      uint64
	skipped  uint64
	failures uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Start begins polling immediately and then on every interval tick. The
// returned handle is the only way to stop it.
func Start(parent context.Context, f Fetcher, opts Options) *Synchronizer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = NewLogObserver(opts.Logger)
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Synchronizer{
		inbox:   make(chan message, 16),
		fetcher: f,
		opts:    opts,
		log:     opts.Logger.Named("synchronizer"),
		state:   engine.NewState(opts.InitialPath, opts.Grace),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	ticks, stopTicks := opts.Ticks, func() {}
	if ticks == nil {
		ticker := time.NewTicker(opts.Interval)
		ticks, stopTicks = ticker.C, ticker.Stop
	}

	go s.loop(ticks, stopTicks)
	return s
}

func (s *Synchronizer) loop(ticks <-chan time.Time, stopTicks func()) {
	defer close(s.done)
	defer stopTicks()

	s.poll()
	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticks:
			s.poll()

		case m := <-s.inbox:
			switch msg := m.(type) {
			case tick:
				s.poll()

			case fetchDone:
				if s.ctx.Err() != nil || msg.seq != s.seq {
					break
				}
				s.inFlight = false
				s.handleFetch(msg)

			case notifyLogout:
				msg.reply <- s.apply(engine.Command{Type: engine.CmdNotifyLogout, At: msg.at})

			case pathChanged:
				_ = s.apply(engine.Command{Type: engine.CmdPathChanged, Path: msg.path})
				close(msg.reply)

			case getView:
				msg.reply <- s.view()
			}
		}
	}
}

// poll issues a fetch unless one is still outstanding.
func (s *Synchronizer) poll() {
	if s.inFlight {
		s.skipped++
		s.opts.Observer.TickSkipped()
		return
	}
	s.inFlight = true
	s.seq++
	seq := s.seq

	go func() {
		snap, err := s.fetcher.CheckSession(s.ctx)
		select {
		case s.inbox <- fetchDone{seq: seq, snap: snap, err: err}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Synchronizer) handleFetch(res fetchDone) {
	if res.err != nil {
		s.failures++
		s.opts.Observer.FetchFailed(res.err)
		_ = s.apply(engine.Command{Type: engine.CmdFetchFailed, Err: res.err, At: s.opts.Now()})
		return
	}
	snap := res.snap
	if err := s.apply(engine.Command{Type: engine.CmdObserveSnapshot, Snapshot: &snap, At: s.opts.Now()}); err != nil {
		if errors.Is(err, engine.ErrInconsistentSession) {
			s.opts.Observer.Inconsistent(err)
			return
		}
		s.log.Warn("snapshot rejected", zap.Error(err))
	}
}

// apply runs one command through the reducer and dispatches its events.
func (s *Synchronizer) apply(cmd engine.Command) error {
	events, newState, err := engine.Apply(s.state, cmd)
	if err != nil && !errors.Is(err, engine.ErrInconsistentSession) {
		return err
	}
	s.state = newState

	for _, ev := range events {
		switch ev.Type {
		case engine.EvtSnapshotObserved:
			if s.opts.OnSnapshot != nil && ev.Snapshot != nil {
				s.opts.OnSnapshot(*ev.Snapshot)
			}
		case engine.EvtGhostSuppressed:
			s.opts.Observer.GhostSuppressed(ev.Reason)
		case engine.EvtNavigated:
			nav := Navigation{Target: ev.Target, Path: ev.Path, At: ev.At}
			s.opts.Observer.Navigated(nav)
			if s.opts.OnNavigate != nil {
				s.opts.OnNavigate(nav)
			}
		case engine.EvtLatchReset:
			s.log.Debug("redirect latch reset", zap.String("path", ev.Path))
		case engine.EvtLogoutArmed:
			s.log.Debug("logout grace armed", zap.Time("at", ev.At), zap.Time("deadline", s.state.LogoutDeadline()))
		case engine.EvtLogoutCleared:
			s.log.Debug("logout grace cleared")
		}
	}
	return err
}

func (s *Synchronizer) view() View {
	return View{
		State:    s.state,
		InFlight: s.inFlight,
		Polls:    s.seq,
		Skipped:  s.skipped,
		Failures: s.failures,
	}
}

// Stop cancels polling and waits for the loop to exit. No OnNavigate call
// happens after Stop returns; a fetch resolving later is discarded.
func (s *Synchronizer) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed once the poll loop has exited.
func (s *Synchronizer) Done() <-chan struct{} { return s.done }

// NotifyLogout arms the ghost-session guard. It returns once the guard is in
// place, so it must be called before the backend logout request goes out.
func (s *Synchronizer) NotifyLogout(at time.Time) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- notifyLogout{at: at, reply: reply}:
	case <-s.done:
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrStopped
	}
}

// PathChanged reports navigation that the synchronizer did not command.
func (s *Synchronizer) PathChanged(path string) error {
	reply := make(chan struct{})
	select {
	case s.inbox <- pathChanged{path: path, reply: reply}:
	case <-s.done:
		return ErrStopped
	}
	select {
	case <-reply:
		return nil
	case <-s.done:
		return ErrStopped
	}
}

// PollNow requests an extra poll; it is skipped like any tick when a fetch is
// outstanding.
func (s *Synchronizer) PollNow() {
	select {
	case s.inbox <- tick{}:
	case <-s.done:
	}
}

func (s *Synchronizer) View() (View, error) {
	reply := make(chan View, 1)
	select {
	case s.inbox <- getView{reply: reply}:
	case <-s.done:
		return View{}, ErrStopped
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return View{}, ErrStopped
	}
}
