package fallback

import "strings"

// NormalizeRoute returns the canonical route key: every leading slash is
// stripped and exactly one is prepended. The rest of the input is kept as is.
func NormalizeRoute(raw string) string {
	return "/" + strings.TrimLeft(raw, "/")
}
