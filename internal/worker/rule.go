package worker

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/iTrooz/offline-proxy/internal/cache/httpcache"
)

// Route is how an intercepted request is served
type Route int

const (
	RouteDefault Route = iota
	RouteStatic
	RouteDynamic
	RouteNavigation
)

func (r Route) String() string {
	switch r {
	case RouteStatic:
		return "static"
	case RouteDynamic:
		return "dynamic"
	case RouteNavigation:
		return "navigation"
	default:
		return "default"
	}
}

// Rule interface for matching requests against routing rules
type Rule interface {
	Match(req *http.Request, targetURL string) bool
}

// staticRule matches URLs of the static manifest
type staticRule struct {
	// entries match by substring of the absolute request URL
	entries []string
	// roots match the site root exactly
	roots map[string]bool
}

func (r *staticRule) Match(_ *http.Request, targetURL string) bool {
	if r.roots[targetURL] {
		return true
	}
	for _, entry := range r.entries {
		if strings.Contains(targetURL, entry) {
			return true
		}
	}
	return false
}

// prefixRule matches URLs starting with one of the prefixes
type prefixRule struct {
	prefixes []string
}

func (r *prefixRule) Match(_ *http.Request, targetURL string) bool {
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(targetURL, prefix) {
			return true
		}
	}
	return false
}

// navigationRule matches full-page navigations
type navigationRule struct{}

func (navigationRule) Match(req *http.Request, _ string) bool {
	return IsNavigation(req)
}

// IsNavigation reports whether the request loads a top-level page.
// Browsers send Sec-Fetch-Mode; older clients are recognised by asking for HTML.
func IsNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return req.Method == http.MethodGet && strings.Contains(req.Header.Get("Accept"), "text/html")
}

type routeRule struct {
	route Route
	rule  Rule
}

// router classifies requests, first matching rule wins
type router struct {
	rules []routeRule
}

func newRouter(origin *url.URL, static, dynamic []string) (*router, error) {
	sr := &staticRule{roots: map[string]bool{}}
	for _, entry := range static {
		abs, err := resolve(origin, entry)
		if err != nil {
			return nil, fmt.Errorf("static manifest entry %q: %w", entry, err)
		}
		u, _ := url.Parse(abs)
		if (u.Path == "" || u.Path == "/") && u.RawQuery == "" {
			root := u.Scheme + "://" + u.Host
			sr.roots[root] = true
			sr.roots[root+"/"] = true
			continue
		}
		sr.entries = append(sr.entries, abs)
	}

	pr := &prefixRule{}
	for _, entry := range dynamic {
		abs, err := resolve(origin, entry)
		if err != nil {
			return nil, fmt.Errorf("dynamic prefix %q: %w", entry, err)
		}
		pr.prefixes = append(pr.prefixes, abs)
	}

	return &router{rules: []routeRule{
		{route: RouteStatic, rule: sr},
		{route: RouteDynamic, rule: pr},
		{route: RouteNavigation, rule: navigationRule{}},
	}}, nil
}

func (r *router) classify(req *http.Request) Route {
	target := httpcache.GenerateKey(req)
	for _, rr := range r.rules {
		if rr.rule.Match(req, target) {
			return rr.route
		}
	}
	return RouteDefault
}

// resolve turns a manifest entry into a normalized absolute URL
func resolve(origin *url.URL, entry string) (string, error) {
	ref, err := url.Parse(entry)
	if err != nil {
		return "", err
	}
	return httpcache.NormalizeURL(origin.ResolveReference(ref).String()), nil
}
