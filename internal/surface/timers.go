package surface

import (
	"time"

	"go.uber.org/zap"
)

type TimerKind string

const (
	TimerNone    TimerKind = ""
	TimerScan    TimerKind = "scan"
	TimerPetugas TimerKind = "petugas"
)

// autoLogout is the single armed timer of a surface. gen increases on every
// arm and disarm so fires from a replaced timer are recognised and dropped.
type autoLogout struct {
	gen      int
	kind     TimerKind
	t        *time.Timer
	deadline time.Time
}

type timerFired struct {
	kind TimerKind
	gen  int
}

func (timerFired) isSurfaceMsg() {}

func (s *Surface) armTimer(kind TimerKind, d time.Duration) {
	if d <= 0 {
		return
	}
	s.disarmTimer()
	gen := s.timer.gen
	deadline := s.opts.Now().Add(d)
	t := time.AfterFunc(d, func() { s.post(timerFired{kind: kind, gen: gen}) })
	s.timer = autoLogout{gen: gen, kind: kind, t: t, deadline: deadline}

	s.log.Debug("auto logout armed", zap.String("timer", string(kind)), zap.Duration("after", d))
	s.version++
	s.broadcast(Update{
		Kind:      UpdCountdown,
		Version:   s.version,
		Path:      s.path,
		Session:   s.session,
		Countdown: &Countdown{Reason: kind, Deadline: deadline, Armed: true},
	})
}

func (s *Surface) disarmTimer() {
	prev := s.timer
	if prev.t != nil {
		prev.t.Stop()
	}
	s.timer = autoLogout{gen: prev.gen + 1}
	if prev.kind == TimerNone {
		return
	}
	s.version++
	s.broadcast(Update{
		Kind:      UpdCountdown,
		Version:   s.version,
		Path:      s.path,
		Session:   s.session,
		Countdown: &Countdown{Reason: prev.kind},
	})
}
