package engine

import "strings"

var Routes = map[Location]string{
	LocIdle:         "/welcome",
	LocRegistration: "/register",
	LocAdminRoot:    "/admin",
	LocPetugasRoot:  "/petugas",
	LocUserRoot:     "/user",
}

var roleRoots = map[Role]Location{
	RoleAdmin:   LocAdminRoot,
	RolePetugas: LocPetugasRoot,
	RoleUser:    LocUserRoot,
}

func PathFor(loc Location) string {
	return Routes[loc]
}

func RoleRoot(role Role) Location {
	return roleRoots[role]
}

// NormalizePath gives paths a leading slash and no trailing slash.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// RoleSegment is the first path segment, e.g. "admin" for /admin/dashboard.
func RoleSegment(path string) string {
	path = strings.TrimPrefix(NormalizePath(path), "/")
	seg, _, _ := strings.Cut(path, "/")
	return seg
}

func IsIdlePath(path string) bool {
	path = NormalizePath(path)
	return path == "/" || path == Routes[LocIdle]
}

// PathLocation maps a path to the area it belongs to. Sub-pages of a role
// area map to the role root; unknown paths map to "".
func PathLocation(path string) Location {
	if IsIdlePath(path) {
		return LocIdle
	}
	seg := "/" + RoleSegment(path)
	for loc, p := range Routes {
		if loc != LocIdle && p == seg {
			return loc
		}
	}
	return ""
}

func IsAuthenticatedPath(path string) bool {
	switch PathLocation(path) {
	case LocRegistration, LocAdminRoot, LocPetugasRoot, LocUserRoot:
		return true
	}
	return false
}
