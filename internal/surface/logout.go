package surface

import (
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/engine"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/journal"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/synchronizer"
)

// startLogout sends the display to idle at once, arms the synchronizer's
// ghost guard, then asks the backend to end the session. Nothing waits on
// the backend: a failed or slow logout call changes no navigation.
func (s *Surface) startLogout(reason string) {
	if s.loggingOut {
		s.log.Debug("logout already in progress", zap.String("reason", reason))
		return
	}
	s.loggingOut = true
	s.disarmTimer()

	uid, role := "", engine.RoleNone
	if s.session != nil {
		uid, role = s.session.UID(), s.session.SessionRole()
	}
	if !role.Valid() {
		role = engine.Role(engine.RoleSegment(s.path))
		if !role.Valid() {
			role = engine.RoleUser
		}
	}
	at := s.opts.Now()
	if s.opts.Journal != nil {
		s.opts.Journal.Enqueue(journal.Record{SurfaceID: s.id, Kind: journal.KindLogout, Path: s.path, Detail: reason, CreatedAt: at})
	}
	s.log.Info("logging out", zap.String("reason", reason), zap.String("role", string(role)))

	s.session = &engine.Snapshot{Active: false, Status: engine.StatusNone}
	s.moveTo(engine.PathFor(engine.LocIdle), engine.LocIdle)

	go func() {
		// NotifyLogout also moves the synchronizer to idle and drops its latch.
		if err := s.sync.NotifyLogout(at); err != nil {
			s.post(logoutDone{err: err})
			return
		}
		_, err := s.backend.Logout(s.ctx, uid, role)
		// Confirm the cleared session without waiting for the next tick.
		s.sync.PollNow()
		s.post(logoutDone{err: err})
	}()
}

func (s *Surface) finishLogout(err error) {
	s.loggingOut = false
	if errors.Is(err, synchronizer.ErrStopped) {
		return
	}
	if err != nil {
		s.log.Warn("backend logout failed, continuing locally", zap.Error(err))
	}
}
