package engine

import "time"

func NewState(initialPath string, grace time.Duration) State {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if initialPath == "" {
		initialPath = PathFor(LocIdle)
	}
	return State{
		Grace:       grace,
		CurrentPath: NormalizePath(initialPath),
	}
}

func (s State) LogoutArmed() bool { return !s.LogoutAt.IsZero() }

func (s State) LogoutDeadline() time.Time {
	if !s.LogoutArmed() {
		return time.Time{}
	}
	grace := s.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	return s.LogoutAt.Add(grace)
}

// latchedFor reports whether a navigation to target was already issued for
// the current logical session.
func (s State) latchedFor(target Location) bool {
	return s.Redirected && s.RedirectTarget == target
}

// EffectiveStatus fills in the status the backend leaves out for plain role
// sessions.
func (s Snapshot) EffectiveStatus() Status {
	if s.Status != "" {
		return s.Status
	}
	if s.Active {
		return StatusActive
	}
	return StatusNone
}

func (s Snapshot) SessionRole() Role {
	if s.Role != RoleNone {
		return s.Role
	}
	if s.User != nil {
		return s.User.Role
	}
	return RoleNone
}

func (s Snapshot) UID() string {
	if s.RFIDUID != "" {
		return s.RFIDUID
	}
	if s.User != nil {
		return s.User.RFIDUID
	}
	return ""
}

// SessionTime returns when the backend created the session, if it said.
func (s Snapshot) SessionTime() (time.Time, bool) {
	if s.User == nil || s.User.Timestamp.IsZero() {
		return time.Time{}, false
	}
	return s.User.Timestamp.Time, true
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// Navigations extracts the navigation commands from an event list.
func Navigations(events []Event) []Event {
	var out []Event
	for _, event := range events {
		if event.Type == EvtNavigated {
			out = append(out, event)
		}
	}
	return out
}
