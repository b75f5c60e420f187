package ratelimit

import "regexp"

// pathRule maps a request path pattern to a category. Rules are evaluated in
// order, first match wins.
type pathRule struct {
	pattern  *regexp.Regexp
	category Category
}

// The mapping is deliberately coarse: it shapes cost per endpoint class, it is
// not a security boundary. Health and status probes come first so they are
// never throttled; the trailing rule makes read the default for everything
// else under the API prefix.
var pathRules = []pathRule{
	{regexp.MustCompile(`^/(health|healthz|ping|status)/?$`), CategoryHealth},
	{regexp.MustCompile(`^/api/v1/(health|status|ping)(/|$)`), CategoryHealth},
	{regexp.MustCompile(`^/api/v1/auth(/|$)`), CategoryAuth},
	{regexp.MustCompile(`^/api/v1/(users|admin|sso|api-keys|roles|credentials)(/|$)`), CategoryAdmin},
	{regexp.MustCompile(`^/api/v1/[a-z0-9_-]+/(create|update|delete|restart|start|stop|deploy|upload)(/|$)`), CategoryWrite},
	{regexp.MustCompile(`^/api/v1/[a-z0-9_-]+/[^/]+/(restart|start|stop|deploy|delete|update)$`), CategoryWrite},
	{regexp.MustCompile(`^/api(/|$)`), CategoryRead},
}

// ClassifyPath maps a request path to the category whose limit applies.
// Unmatched paths default to read.
func ClassifyPath(path string) Category {
	for _, rule := range pathRules {
		if rule.pattern.MatchString(path) {
			return rule.category
		}
	}
	return CategoryRead
}
