package types

// Client -> Server
// PathChanged (the display navigated on its own):
//   path: string
//
// Logout (logout button):
//   reason: string // optional
//
// ScanCompleted (trash scan finished on /user): {}

// Server -> Client
// Session (sent on join and whenever the polled session changes):
//   version: number
//   path: string
//   session: { active, status?, role?, rfid_uid?, user? } // ghosts arrive as { active: false }
//
// Navigate:
//   version: number
//   path: "/welcome" | "/register" | "/admin" | "/petugas" | "/user"
//   target: "idle" | "registration" | "admin-root" | "petugas-root" | "user-root"
//
// Countdown (auto logout armed or disarmed):
//   countdown: { reason: "scan" | "petugas", armed: boolean, deadline, remaining_ms }
//
// Error:
//   error: string
