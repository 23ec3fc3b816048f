// Package surface runs one kiosk display: its own session synchronizer, the
// websocket clients showing it, the logout flow and the auto-logout timers.
package surface

import (
	"context"
	"errors"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/backend"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/engine"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/journal"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/synchronizer"
)

var ErrClosed = errors.New("surface closed")

// Backend is what a surface needs from the EcoSmart backend.
type Backend interface {
	synchronizer.Fetcher
	Logout(ctx context.Context, rfidUID string, role engine.Role) (backend.LogoutResult, error)
}

type Options struct {
	PollInterval      time.Duration
	Grace             time.Duration
	ScanAutoLogout    time.Duration
	PetugasAutoLogout time.Duration
	InitialPath       string

	// Observer is added next to the logging observer; Journal, when set,
	// also receives logout records.
	Observer synchronizer.Observer
	Journal  journal.Sink
	Logger   *zap.Logger

	Now   func() time.Time
	Ticks <-chan time.Time
}

type Msg interface{ isSurfaceMsg() }

type Join struct {
	ClientID string
	Outbox   chan Update // buffered; where this client wants to receive updates
}

type Leave struct{ ClientID string }

// PathReport is navigation the display performed on its own.
type PathReport struct{ Path string }

// Logout starts the explicit logout flow.
type Logout struct{ Reason string }

// ScanCompleted arms the post-scan auto logout on the user kiosk screen.
type ScanCompleted struct{}

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

type sessionSeen struct{ snap engine.Snapshot }

type navigated struct{ nav synchronizer.Navigation }

type logoutDone struct{ err error }

func (Join) isSurfaceMsg()          {}
func (Leave) isSurfaceMsg()         {}
func (PathReport) isSurfaceMsg()    {}
func (Logout) isSurfaceMsg()        {}
func (ScanCompleted) isSurfaceMsg() {}
func (GetState) isSurfaceMsg()      {}
func (Shutdown) isSurfaceMsg()      {}
func (sessionSeen) isSurfaceMsg()   {}
func (navigated) isSurfaceMsg()     {}
func (logoutDone) isSurfaceMsg()    {}

type UpdateKind string

const (
	UpdSession   UpdateKind = "Session"
	UpdNavigate  UpdateKind = "Navigate"
	UpdCountdown UpdateKind = "Countdown"
)

// Update is what a display client receives.
type Update struct {
	Kind      UpdateKind
	Version   int
	Path      string
	Target    engine.Location
	Session   *engine.Snapshot
	Countdown *Countdown
}

type Countdown struct {
	Reason   TimerKind
	Deadline time.Time
	Armed    bool
}

type View struct {
	ID         string
	Version    int
	NumClients int
	Path       string
	Session    *engine.Snapshot
	Timer      TimerKind
	LoggingOut bool
}

type Surface struct {
	id      string
	inbox   chan Msg
	opts    Options
	backend Backend
	log     *zap.Logger

	version    int
	path       string
	session    *engine.Snapshot
	clients    map[string]chan Update
	loggingOut bool
	timer      autoLogout

	sync    *synchronizer.Synchronizer
	forward chan string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, id string, be Backend, opts Options) *Surface {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InitialPath == "" {
		opts.InitialPath = engine.PathFor(engine.LocIdle)
	}
	ctx, cancel := context.WithCancel(parent)
	log := opts.Logger.Named("surface").With(zap.String("surface", id))

	s := &Surface{
		id:      id,
		inbox:   make(chan Msg, 64), // Small buffer
		opts:    opts,
		backend: be,
		log:     log,
		path:    engine.NormalizePath(opts.InitialPath),
		clients: make(map[string]chan Update),
		forward: make(chan string, 32),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	observers := synchronizer.Observers{synchronizer.NewLogObserver(log)}
	if opts.Journal != nil {
		observers = append(observers, journal.NewObserver(opts.Journal, id))
	}
	if opts.Observer != nil {
		observers = append(observers, opts.Observer)
	}

	s.sync = synchronizer.Start(ctx, be, synchronizer.Options{
		Interval:    opts.PollInterval,
		Grace:       opts.Grace,
		InitialPath: s.path,
		Now:         opts.Now,
		Ticks:       opts.Ticks,
		OnSnapshot:  func(snap engine.Snapshot) { s.post(sessionSeen{snap: snap}) },
		OnNavigate:  func(nav synchronizer.Navigation) { s.post(navigated{nav: nav}) },
		Observer:    observers,
		Logger:      log,
	})

	go s.forwardPaths()
	go s.loop()
	return s
}

func (s *Surface) ID() string { return s.id }

// Inbox exposes the inbox so the websocket and HTTP layers can send messages.
func (s *Surface) Inbox() chan<- Msg { return s.inbox }

// Done is closed after the surface has shut down.
func (s *Surface) Done() <-chan struct{} { return s.done }

// SyncView reports the synchronizer's state for diagnostics.
func (s *Surface) SyncView() (synchronizer.View, error) { return s.sync.View() }

// post delivers a message from a helper goroutine unless the surface is gone.
func (s *Surface) post(m Msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Surface) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send current state immediately. The outbox
				// must have room for it; the loop never blocks on a client.
				select {
				case msg.Outbox <- s.current():
					s.clients[msg.ClientID] = msg.Outbox
				default:
					s.log.Warn("client outbox has no room, refusing join", zap.String("client", msg.ClientID))
					close(msg.Outbox)
				}

			case Leave:
				if ch, ok := s.clients[msg.ClientID]; ok {
					close(ch)
					delete(s.clients, msg.ClientID)
				}

			case sessionSeen:
				if s.session != nil && reflect.DeepEqual(*s.session, msg.snap) {
					break
				}
				snap := msg.snap
				s.session = &snap
				s.version++
				s.broadcast(Update{Kind: UpdSession, Version: s.version, Path: s.path, Session: s.session})

			case navigated:
				if msg.nav.Path == s.path {
					break // already there, e.g. teardown racing a local logout
				}
				s.moveTo(msg.nav.Path, msg.nav.Target)

			case PathReport:
				path := engine.NormalizePath(msg.Path)
				if path == s.path {
					break
				}
				s.setPath(path)
				select {
				case s.forward <- path:
				default:
					s.log.Warn("path forward queue full, dropping report", zap.String("path", path))
				}

			case Logout:
				s.startLogout(msg.Reason)

			case logoutDone:
				s.finishLogout(msg.err)

			case ScanCompleted:
				if engine.PathLocation(s.path) != engine.LocUserRoot {
					s.log.Debug("scan completed off the kiosk screen, ignoring", zap.String("path", s.path))
					break
				}
				s.armTimer(TimerScan, s.opts.ScanAutoLogout)

			case timerFired:
				if msg.gen != s.timer.gen {
					break // stale fire from a disarmed timer
				}
				s.timer = autoLogout{gen: s.timer.gen}
				s.log.Info("auto logout", zap.String("timer", string(msg.kind)))
				if s.opts.Journal != nil {
					s.opts.Journal.Enqueue(journal.Record{SurfaceID: s.id, Kind: journal.KindAutoLogout, Detail: string(msg.kind), CreatedAt: s.opts.Now()})
				}
				s.startLogout("auto:" + string(msg.kind))

			case GetState:
				// reflect internal state without data races
				msg.Reply <- View{
					ID:         s.id,
					Version:    s.version,
					NumClients: len(s.clients),
					Path:       s.path,
					Session:    s.session,
					Timer:      s.timer.kind,
					LoggingOut: s.loggingOut,
				}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Surface) current() Update {
	return Update{Kind: UpdSession, Version: s.version, Path: s.path, Session: s.session}
}

// moveTo records a navigation the surface commands and tells every client.
func (s *Surface) moveTo(path string, target engine.Location) {
	s.setPath(path)
	s.version++
	s.broadcast(Update{Kind: UpdNavigate, Version: s.version, Path: path, Target: target, Session: s.session})
}

// setPath updates the path and the timers that depend on it.
func (s *Surface) setPath(path string) {
	prev := engine.PathLocation(s.path)
	s.path = path
	loc := engine.PathLocation(path)
	if loc == prev {
		return
	}
	s.disarmTimer()
	if loc == engine.LocPetugasRoot {
		s.armTimer(TimerPetugas, s.opts.PetugasAutoLogout)
	}
}

// forwardPaths relays display-reported paths to the synchronizer in order,
// off the surface loop.
func (s *Surface) forwardPaths() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case path := <-s.forward:
			if err := s.sync.PathChanged(path); err != nil {
				return
			}
		}
	}
}

func (s *Surface) shutdown() {
	s.cancel()
	s.sync.Stop()
	s.disarmTimer()
	for id, ch := range s.clients {
		close(ch) // Tell client no more updates
		delete(s.clients, id)
	}
}

func (s *Surface) broadcast(upd Update) {
	for id, ch := range s.clients {
		select {
		case ch <- upd:
			//ok
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(s.clients, id)
		}
	}
}

// State asks the surface for its view.
func (s *Surface) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case s.inbox <- GetState{Reply: reply}:
	case <-s.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Send delivers m unless the surface has shut down.
func (s *Surface) Send(ctx context.Context, m Msg) error {
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
