package engine

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrMissingSnapshot = errors.New("missing snapshot")
var ErrMissingLogoutInstant = errors.New("missing logout instant")
var ErrInconsistentSession = errors.New("inconsistent session")

// DefaultGrace is how long after an explicit logout active snapshots are
// treated as ghosts regardless of their timestamp.
const DefaultGrace = 5 * time.Second

type Status string

const (
	StatusNone        Status = "NONE"
	StatusRegistering Status = "REGISTERING"
	StatusActive      Status = "ACTIVE"
)

type Role string

const (
	RoleNone    Role = ""
	RoleAdmin   Role = "admin"
	RolePetugas Role = "petugas"
	RoleUser    Role = "user"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePetugas, RoleUser:
		return true
	}
	return false
}

type Location string

const (
	LocIdle         Location = "idle"
	LocRegistration Location = "registration"
	LocAdminRoot    Location = "admin-root"
	LocPetugasRoot  Location = "petugas-root"
	LocUserRoot     Location = "user-root"
)

// Profile is the user block of a check-session response.
type Profile struct {
	ID        int64       `json:"id,omitempty"`
	RFIDUID   string      `json:"rfid_uid,omitempty"`
	Name      string      `json:"name,omitempty"`
	Role      Role        `json:"role,omitempty"`
	Prodi     string      `json:"prodi,omitempty"`
	Saldo     int64       `json:"saldo"`
	Timestamp SessionTime `json:"timestamp"`
}

// Snapshot is one poll's worth of session data.
type Snapshot struct {
	Active  bool     `json:"active"`
	Status  Status   `json:"status,omitempty"`
	Role    Role     `json:"role,omitempty"`
	RFIDUID string   `json:"rfid_uid,omitempty"`
	User    *Profile `json:"user,omitempty"`
}

// State is the synchronizer's memory between ticks.
type State struct {
	LastSnapshot   *Snapshot
	Redirected     bool
	RedirectTarget Location
	LogoutAt       time.Time
	Grace          time.Duration
	CurrentPath    string
}

type CommandType string

const (
	CmdObserveSnapshot CommandType = "ObserveSnapshot"
	CmdNotifyLogout    CommandType = "NotifyLogout"
	CmdPathChanged     CommandType = "PathChanged"
	CmdFetchFailed     CommandType = "FetchFailed"
)

/*
	CmdObserveSnapshot -> EvtSnapshotObserved -> EvtGhostSuppressed
	                   -> EvtSnapshotObserved -> EvtNavigated                     (registering / role routing)
	                   -> EvtSnapshotObserved -> EvtLatchReset -> EvtLogoutCleared -> EvtNavigated (teardown)
	CmdNotifyLogout    -> EvtLogoutArmed
	CmdPathChanged     -> EvtLatchReset (only when the latch was set)
	CmdFetchFailed     -> EvtFetchFailed
*/

// Command is one input to Apply. At is the logout instant for
// CmdNotifyLogout and the observation time for CmdObserveSnapshot.
type Command struct {
	Type     CommandType
	Snapshot *Snapshot
	Path     string
	At       time.Time
	Err      error
}

type EventType string

const (
	EvtSnapshotObserved EventType = "SnapshotObserved"
	EvtGhostSuppressed  EventType = "GhostSuppressed"
	EvtNavigated        EventType = "Navigated"
	EvtLatchReset       EventType = "LatchReset"
	EvtLogoutArmed      EventType = "LogoutArmed"
	EvtLogoutCleared    EventType = "LogoutCleared"
	EvtFetchFailed      EventType = "FetchFailed"
)

type Event struct {
	Type     EventType
	Target   Location
	Path     string
	Snapshot *Snapshot
	At       time.Time
	Reason   string
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdObserveSnapshot:
		if cmd.Snapshot == nil {
			return nil, s, ErrMissingSnapshot
		}
		return observe(s, *cmd.Snapshot, cmd.At)

	case CmdNotifyLogout:
		if cmd.At.IsZero() {
			return nil, s, ErrMissingLogoutInstant
		}
		// The display leaves for idle whatever the backend says.
		newState := s
		newState.LogoutAt = cmd.At
		newState.CurrentPath = PathFor(LocIdle)
		newState.Redirected = false
		newState.RedirectTarget = ""
		events := []Event{{Type: EvtLogoutArmed, At: cmd.At}}
		if s.Redirected {
			events = append(events, Event{Type: EvtLatchReset, Path: newState.CurrentPath, At: cmd.At})
		}
		return events, newState, nil

	case CmdPathChanged:
		return pathChanged(s, NormalizePath(cmd.Path))

	case CmdFetchFailed:
		reason := "unknown"
		if cmd.Err != nil {
			reason = cmd.Err.Error()
		}
		// State is left untouched: a failed poll is "no change".
		return []Event{{Type: EvtFetchFailed, At: cmd.At, Reason: reason}}, s, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func observe(s State, snap Snapshot, now time.Time) ([]Event, State, error) {
	newState := s

	// Ghost filter
	if isGhost(s, snap, now) {
		exposed := Snapshot{Active: false, Status: StatusNone}
		newState.LastSnapshot = &exposed
		events := []Event{
			{Type: EvtSnapshotObserved, Snapshot: &exposed, At: now},
			{Type: EvtGhostSuppressed, At: now, Reason: ghostReason(s, snap, now)},
		}
		return events, newState, nil
	}

	newState.LastSnapshot = &snap
	events := []Event{{Type: EvtSnapshotObserved, Snapshot: &snap, At: now}}
	path := s.CurrentPath
	role := snap.SessionRole()

	// Inactive: teardown when sitting in an authenticated area
	if !snap.Active {
		if IsAuthenticatedPath(path) {
			if s.Redirected {
				events = append(events, Event{Type: EvtLatchReset, Path: path, At: now})
			}
			if s.LogoutArmed() {
				events = append(events, Event{Type: EvtLogoutCleared, At: now})
			}
			newState.Redirected = false
			newState.RedirectTarget = ""
			newState.LogoutAt = time.Time{}
			newState.CurrentPath = PathFor(LocIdle)
			events = append(events, Event{Type: EvtNavigated, Target: LocIdle, Path: newState.CurrentPath, At: now})
			return events, newState, nil
		}
		// The backend has confirmed the logout; the guard is no longer needed.
		if s.LogoutArmed() && !now.Before(s.LogoutDeadline()) {
			newState.LogoutAt = time.Time{}
			events = append(events, Event{Type: EvtLogoutCleared, At: now})
		}
		return events, newState, nil
	}

	// Registering flow
	if snap.EffectiveStatus() == StatusRegistering {
		switch {
		case IsIdlePath(path):
			if s.latchedFor(LocRegistration) {
				return events, newState, nil
			}
			return navigate(events, newState, LocRegistration, now)
		case PathLocation(path) == LocRegistration:
			return events, newState, nil
		default:
			return events, newState, fmt.Errorf("%w: registering card seen on %q", ErrInconsistentSession, path)
		}
	}

	// Role routing
	if !role.Valid() {
		return events, newState, fmt.Errorf("%w: active session with role %q", ErrInconsistentSession, role)
	}
	target := RoleRoot(role)
	if s.latchedFor(target) {
		return events, newState, nil
	}
	if IsIdlePath(path) || RoleSegment(path) != string(role) {
		return navigate(events, newState, target, now)
	}
	return events, newState, nil
}

func navigate(events []Event, s State, target Location, now time.Time) ([]Event, State, error) {
	s.Redirected = true
	s.RedirectTarget = target
	s.CurrentPath = PathFor(target)
	events = append(events, Event{Type: EvtNavigated, Target: target, Path: s.CurrentPath, At: now})
	return events, s, nil
}

func pathChanged(s State, path string) ([]Event, State, error) {
	newState := s
	newState.CurrentPath = path
	last := s.CurrentPath

	reset := IsIdlePath(path) && path != last
	cur, prev := RoleSegment(path), RoleSegment(last)
	if cur != prev && cur != "" && prev != "" {
		reset = true
	}
	if !reset || !s.Redirected {
		return nil, newState, nil
	}
	newState.Redirected = false
	newState.RedirectTarget = ""
	return []Event{{Type: EvtLatchReset, Path: path}}, newState, nil
}

func isGhost(s State, snap Snapshot, now time.Time) bool {
	if !s.LogoutArmed() || !snap.Active {
		return false
	}
	if now.Before(s.LogoutDeadline()) {
		return true
	}
	ts, ok := snap.SessionTime()
	if !ok {
		// Registration snapshots carry no timestamp and cannot predate a
		// logout of a role session.
		return snap.EffectiveStatus() != StatusRegistering
	}
	return !ts.After(s.LogoutAt)
}

func ghostReason(s State, snap Snapshot, now time.Time) string {
	if now.Before(s.LogoutDeadline()) {
		return "within logout grace window"
	}
	if _, ok := snap.SessionTime(); !ok {
		return "session without timestamp after logout"
	}
	return "session started before logout"
}
