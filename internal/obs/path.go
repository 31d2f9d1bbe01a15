package obs

import "strings"

// CanonicalPath collapses resource identifiers so metric labels stay bounded.
// Unknown paths are returned as-is; the route surface is small enough that
// only the admin code resource carries an embedded id.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if rest, ok := strings.CutPrefix(path, "/v1/admin/codes/"); ok {
		if rest != "" && !strings.Contains(rest, "/") {
			return "/v1/admin/codes/:id"
		}
	}
	return path
}
