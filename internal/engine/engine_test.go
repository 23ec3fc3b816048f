package engine

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func ms(v int64) time.Time { return time.UnixMilli(v) }

func observeAt(s State, snap Snapshot, now time.Time) ([]Event, State, error) {
	return Apply(s, Command{Type: CmdObserveSnapshot, Snapshot: &snap, At: now})
}

func roleSnapshot(role Role, createdMs int64) Snapshot {
	return Snapshot{
		Active: true,
		Role:   role,
		User:   &Profile{RFIDUID: "A1B2C3", Role: role, Timestamp: Millis(createdMs)},
	}
}

func TestIdenticalActiveSnapshotsNavigateOnce(t *testing.T) {
	s := NewState("/welcome", 0)
	snap := roleSnapshot(RoleAdmin, 100)

	navs := 0
	for i := 0; i < 5; i++ {
		events, next, err := observeAt(s, snap, ms(int64(1000+i*1000)))
		if err != nil {
			t.Fatalf("tick %d: unexpected err %v", i, err)
		}
		navs += len(Navigations(events))
		s = next
	}
	if navs != 1 {
		t.Fatalf("want exactly 1 navigation, got %d", navs)
	}
	if s.CurrentPath != "/admin" {
		t.Fatalf("want path /admin, got %q", s.CurrentPath)
	}
}

func TestRegisteringFromIdle(t *testing.T) {
	s := NewState("/welcome", 0)
	snap := Snapshot{Active: true, Status: StatusRegistering, RFIDUID: "X"}

	events, s, err := observeAt(s, snap, ms(1000))
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	navs := Navigations(events)
	if len(navs) != 1 || navs[0].Target != LocRegistration {
		t.Fatalf("want one navigation to registration, got %+v", navs)
	}
	if !s.Redirected || s.RedirectTarget != LocRegistration {
		t.Fatalf("latch not set: %+v", s)
	}

	events, _, err = observeAt(s, snap, ms(2000))
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if ContainsEvent(events, EvtNavigated) {
		t.Fatalf("second identical poll must not navigate")
	}
}

func TestRegisteringLatchedOnIdleDoesNotRepeat(t *testing.T) {
	// UI never followed the first command and still reports idle.
	s := NewState("/welcome", 0)
	snap := Snapshot{Active: true, Status: StatusRegistering, RFIDUID: "X"}
	_, s, _ = observeAt(s, snap, ms(1000))
	s.CurrentPath = "/welcome"

	events, _, _ := observeAt(s, snap, ms(2000))
	if ContainsEvent(events, EvtNavigated) {
		t.Fatalf("latched registering navigation repeated")
	}
}

func TestGhostSuppression(t *testing.T) {
	cases := []struct {
		name    string
		logout  int64
		now     int64
		created int64
		wantNav bool
	}{
		{name: "stale session inside grace window", logout: 1000, now: 1200, created: 900, wantNav: false},
		{name: "fresh session inside grace window", logout: 1000, now: 3000, created: 2500, wantNav: false},
		{name: "stale session after grace window", logout: 1000, now: 7000, created: 900, wantNav: false},
		{name: "session at logout instant", logout: 1000, now: 7000, created: 1000, wantNav: false},
		{name: "fresh session after grace window", logout: 1000, now: 6500, created: 6000, wantNav: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewState("/welcome", 0)
			_, s, err := Apply(s, Command{Type: CmdNotifyLogout, At: ms(tc.logout)})
			if err != nil {
				t.Fatalf("notify logout: %v", err)
			}
			events, next, err := observeAt(s, roleSnapshot(RoleAdmin, tc.created), ms(tc.now))
			if err != nil {
				t.Fatalf("unexpected err %v", err)
			}
			gotNav := len(Navigations(events)) > 0
			if gotNav != tc.wantNav {
				t.Fatalf("navigation: got %v, want %v (events %+v)", gotNav, tc.wantNav, events)
			}
			if !tc.wantNav {
				if !ContainsEvent(events, EvtGhostSuppressed) {
					t.Fatalf("expected EvtGhostSuppressed")
				}
				if next.LastSnapshot == nil || next.LastSnapshot.Active {
					t.Fatalf("ghost must be exposed as inactive, got %+v", next.LastSnapshot)
				}
			}
		})
	}
}

func TestGhostOnAdminScreenDoesNotTearDown(t *testing.T) {
	s := NewState("/admin/dashboard", 0)
	_, s, _ = Apply(s, Command{Type: CmdNotifyLogout, At: ms(1000)})

	events, next, err := observeAt(s, roleSnapshot(RoleAdmin, 900), ms(1100))
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if ContainsEvent(events, EvtNavigated) {
		t.Fatalf("ghost must not produce any navigation, got %+v", events)
	}
	if !next.LogoutArmed() {
		t.Fatalf("ghost must not clear the logout guard")
	}
}

func TestNotifyLogoutReturnsStateToIdle(t *testing.T) {
	s := NewState("/welcome", 0)
	_, s, _ = observeAt(s, roleSnapshot(RoleAdmin, 500), ms(600))
	if s.CurrentPath != "/admin" || !s.Redirected {
		t.Fatalf("setup: want routed to /admin with latch, got %+v", s)
	}

	events, s, err := Apply(s, Command{Type: CmdNotifyLogout, At: ms(1000)})
	if err != nil {
		t.Fatalf("notify logout: %v", err)
	}
	if ContainsEvent(events, EvtNavigated) {
		t.Fatalf("notify logout must not issue navigation itself, got %+v", events)
	}
	if !ContainsEvent(events, EvtLatchReset) {
		t.Fatalf("expected EvtLatchReset, got %+v", events)
	}
	if s.CurrentPath != "/welcome" || s.Redirected || s.RedirectTarget != "" {
		t.Fatalf("want idle and unlatched after logout, got %+v", s)
	}
}

// Scenario: authenticated admin screen, logout at 1000, a stale poll at 1000
// and a genuinely new session (created 6000) polled at 6500.
func TestLoginAfterLogoutOnAdminScreen(t *testing.T) {
	s := NewState("/welcome", 0)
	_, s, _ = observeAt(s, roleSnapshot(RoleAdmin, 500), ms(600))
	_, s, _ = Apply(s, Command{Type: CmdNotifyLogout, At: ms(1000)})

	events, s, err := observeAt(s, roleSnapshot(RoleAdmin, 900), ms(1000))
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if ContainsEvent(events, EvtNavigated) || !ContainsEvent(events, EvtGhostSuppressed) {
		t.Fatalf("stale session must be suppressed without navigation, got %+v", events)
	}

	events, s, err = observeAt(s, roleSnapshot(RoleAdmin, 6000), ms(6500))
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	navs := Navigations(events)
	if len(navs) != 1 || navs[0].Target != LocAdminRoot || navs[0].Path != "/admin" {
		t.Fatalf("want one navigation to admin-root, got %+v", navs)
	}

	events, _, _ = observeAt(s, roleSnapshot(RoleAdmin, 6000), ms(7500))
	if ContainsEvent(events, EvtNavigated) {
		t.Fatalf("repeat poll of the new session must not navigate")
	}
}

func TestRegisteringWithoutTimestampAfterGrace(t *testing.T) {
	s := NewState("/welcome", 0)
	_, s, _ = Apply(s, Command{Type: CmdNotifyLogout, At: ms(1000)})
	snap := Snapshot{Active: true, Status: StatusRegistering, RFIDUID: "NEW"}

	events, s, _ := observeAt(s, snap, ms(2000))
	if ContainsEvent(events, EvtNavigated) {
		t.Fatalf("registering inside grace window must be suppressed")
	}

	events, _, _ = observeAt(s, snap, ms(7000))
	navs := Navigations(events)
	if len(navs) != 1 || navs[0].Target != LocRegistration {
		t.Fatalf("want registration after grace window, got %+v", navs)
	}
}

func TestTeardownResetsLatch(t *testing.T) {
	s := NewState("/welcome", 0)
	_, s, _ = observeAt(s, roleSnapshot(RoleUser, 100), ms(1000))
	if s.CurrentPath != "/user" || !s.Redirected {
		t.Fatalf("setup: want routed to /user with latch, got %+v", s)
	}

	events, s, err := observeAt(s, Snapshot{Active: false}, ms(2000))
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	navs := Navigations(events)
	if len(navs) != 1 || navs[0].Target != LocIdle || navs[0].Path != "/welcome" {
		t.Fatalf("want one navigation to idle, got %+v", navs)
	}
	if s.Redirected {
		t.Fatalf("teardown must reset the latch")
	}

	for _, role := range []Role{RoleUser, RolePetugas} {
		t.Run(string(role), func(t *testing.T) {
			events, next, _ := observeAt(s, roleSnapshot(role, 3000), ms(3000))
			navs := Navigations(events)
			if len(navs) != 1 || navs[0].Target != RoleRoot(role) {
				t.Fatalf("want one navigation to %s, got %+v", RoleRoot(role), navs)
			}
			events, _, _ = observeAt(next, roleSnapshot(role, 3000), ms(4000))
			if ContainsEvent(events, EvtNavigated) {
				t.Fatalf("second poll must not navigate")
			}
		})
	}
}

func TestTeardownClearsLogoutGuard(t *testing.T) {
	s := NewState("/welcome", 0)
	_, s, _ = Apply(s, Command{Type: CmdNotifyLogout, At: ms(1000)})
	// The display is walked back onto the kiosk page before the backend clears.
	_, s, _ = Apply(s, Command{Type: CmdPathChanged, Path: "/user"})

	events, s, _ := observeAt(s, Snapshot{Active: false}, ms(1200))
	if !ContainsEvent(events, EvtLogoutCleared) {
		t.Fatalf("expected EvtLogoutCleared")
	}
	if s.LogoutArmed() {
		t.Fatalf("logout guard still armed")
	}
}

func TestInactiveOnIdleClearsGuardOnlyAfterGrace(t *testing.T) {
	s := NewState("/welcome", 0)
	_, s, _ = Apply(s, Command{Type: CmdNotifyLogout, At: ms(1000)})

	_, s, _ = observeAt(s, Snapshot{Active: false}, ms(2000))
	if !s.LogoutArmed() {
		t.Fatalf("guard must survive inside the grace window")
	}
	events, s, _ := observeAt(s, Snapshot{Active: false}, ms(6000))
	if s.LogoutArmed() || !ContainsEvent(events, EvtLogoutCleared) {
		t.Fatalf("guard must clear once the backend confirms logout after grace")
	}
	if ContainsEvent(events, EvtNavigated) {
		t.Fatalf("idle screen must not navigate")
	}
}

func TestRoleChangeReroutes(t *testing.T) {
	s := NewState("/welcome", 0)
	_, s, _ = observeAt(s, roleSnapshot(RoleUser, 100), ms(1000))

	events, s, err := observeAt(s, roleSnapshot(RoleAdmin, 2000), ms(2000))
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	navs := Navigations(events)
	if len(navs) != 1 || navs[0].Target != LocAdminRoot {
		t.Fatalf("want one navigation to admin root, got %+v", navs)
	}
	events, _, _ = observeAt(s, roleSnapshot(RoleAdmin, 2000), ms(3000))
	if ContainsEvent(events, EvtNavigated) {
		t.Fatalf("role change must navigate only once")
	}
}

func TestRoleMismatchOnExternalPath(t *testing.T) {
	// Latch from an earlier admin navigation must not block a petugas session.
	s := State{CurrentPath: "/admin/settings", Redirected: true, RedirectTarget: LocAdminRoot, Grace: DefaultGrace}
	events, _, _ := observeAt(s, roleSnapshot(RolePetugas, 100), ms(1000))
	navs := Navigations(events)
	if len(navs) != 1 || navs[0].Path != "/petugas" {
		t.Fatalf("want navigation to /petugas, got %+v", navs)
	}
}

func TestSubpageOfSameRoleIsLeftAlone(t *testing.T) {
	s := NewState("/admin/leaderboard", 0)
	events, _, _ := observeAt(s, roleSnapshot(RoleAdmin, 100), ms(1000))
	if ContainsEvent(events, EvtNavigated) {
		t.Fatalf("admin sub-page must not be redirected")
	}
}

func TestFetchFailedKeepsState(t *testing.T) {
	s := NewState("/welcome", 0)
	_, s, _ = observeAt(s, roleSnapshot(RoleAdmin, 100), ms(1000))

	events, next, err := Apply(s, Command{Type: CmdFetchFailed, Err: errors.New("connection refused"), At: ms(2000)})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if ContainsEvent(events, EvtNavigated) {
		t.Fatalf("fetch failure must not navigate")
	}
	if next.LastSnapshot != s.LastSnapshot || next.Redirected != s.Redirected || next.CurrentPath != s.CurrentPath {
		t.Fatalf("fetch failure must not change state")
	}
}

func TestPathChangedLatchReset(t *testing.T) {
	latched := State{CurrentPath: "/admin", Redirected: true, RedirectTarget: LocAdminRoot}

	cases := []struct {
		name      string
		from      State
		path      string
		wantReset bool
	}{
		{name: "back to idle", from: latched, path: "/welcome", wantReset: true},
		{name: "root is idle", from: latched, path: "/", wantReset: true},
		{name: "role segment changed", from: latched, path: "/user", wantReset: true},
		{name: "same role sub-page", from: latched, path: "/admin/chat", wantReset: false},
		{name: "idle to idle", from: State{CurrentPath: "/welcome", Redirected: true, RedirectTarget: LocRegistration}, path: "/welcome/", wantReset: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, next, err := Apply(tc.from, Command{Type: CmdPathChanged, Path: tc.path})
			if err != nil {
				t.Fatalf("unexpected err %v", err)
			}
			if got := ContainsEvent(events, EvtLatchReset); got != tc.wantReset {
				t.Fatalf("latch reset: got %v, want %v", got, tc.wantReset)
			}
			if next.Redirected == tc.wantReset {
				t.Fatalf("latch state: got %v", next.Redirected)
			}
		})
	}
}

func TestInconsistentSessions(t *testing.T) {
	cases := []struct {
		name string
		path string
		snap Snapshot
	}{
		{name: "active without role", path: "/welcome", snap: Snapshot{Active: true}},
		{name: "unknown role", path: "/welcome", snap: Snapshot{Active: true, Role: "janitor"}},
		{name: "registering on admin area", path: "/admin", snap: Snapshot{Active: true, Status: StatusRegistering}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, _, err := observeAt(NewState(tc.path, 0), tc.snap, ms(1000))
			if !errors.Is(err, ErrInconsistentSession) {
				t.Fatalf("want ErrInconsistentSession, got %v", err)
			}
			if ContainsEvent(events, EvtNavigated) {
				t.Fatalf("inconsistent session must not navigate")
			}
		})
	}
}

func TestApplyRejectsBadCommands(t *testing.T) {
	s := NewState("", 0)
	if _, _, err := Apply(s, Command{Type: "Bogus"}); !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("want ErrUnsupportedCommand, got %v", err)
	}
	if _, _, err := Apply(s, Command{Type: CmdObserveSnapshot}); !errors.Is(err, ErrMissingSnapshot) {
		t.Fatalf("want ErrMissingSnapshot, got %v", err)
	}
	if _, _, err := Apply(s, Command{Type: CmdNotifyLogout}); !errors.Is(err, ErrMissingLogoutInstant) {
		t.Fatalf("want ErrMissingLogoutInstant, got %v", err)
	}
}

func TestSnapshotDecodesBackendPayloads(t *testing.T) {
	cases := []struct {
		name     string
		payload  string
		wantRole Role
		wantTS   bool
	}{
		{
			name:     "role session with iso timestamp",
			payload:  `{"active":true,"role":"admin","user":{"id":1,"rfid_uid":"AB12","name":"Sari","role":"admin","prodi":null,"saldo":3000,"timestamp":"2025-01-02T10:11:12.123456"}}`,
			wantRole: RoleAdmin,
			wantTS:   true,
		},
		{
			name:     "epoch millis",
			payload:  `{"active":true,"role":"user","user":{"timestamp":900}}`,
			wantRole: RoleUser,
			wantTS:   true,
		},
		{
			name:    "registering",
			payload: `{"active":true,"status":"REGISTERING","rfid_uid":"X"}`,
		},
		{
			name:    "inactive",
			payload: `{"active":false}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var snap Snapshot
			if err := json.Unmarshal([]byte(tc.payload), &snap); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if snap.SessionRole() != tc.wantRole {
				t.Fatalf("role: got %q, want %q", snap.SessionRole(), tc.wantRole)
			}
			if _, ok := snap.SessionTime(); ok != tc.wantTS {
				t.Fatalf("timestamp present: got %v, want %v", ok, tc.wantTS)
			}
		})
	}
}

func TestPathHelpers(t *testing.T) {
	if RoleSegment("/admin/dashboard") != "admin" {
		t.Fatalf("RoleSegment")
	}
	if !IsIdlePath("") || !IsIdlePath("/welcome/") {
		t.Fatalf("IsIdlePath")
	}
	if PathLocation("/petugas/dashboard") != LocPetugasRoot {
		t.Fatalf("PathLocation petugas")
	}
	if IsAuthenticatedPath("/leaderboard") || !IsAuthenticatedPath("/register") {
		t.Fatalf("IsAuthenticatedPath")
	}
}
