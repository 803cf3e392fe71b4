// Package route maps inbound Host headers (and, for rule hosts, paths) to
// upstream origins.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"mirror-proxy-go/internal/config"
)

// ErrRouteNotFound is returned when no rule or table entry matches and the
// table has no default origin.
var ErrRouteNotFound = errors.New("proxy destination not found for this host or no default specified")

// Rule overrides the table for one host when the request path starts with
// PathPrefix. An empty PathPrefix matches every path.
type Rule struct {
	Host       string
	PathPrefix string
	Origin     *url.URL
}

// Table is the immutable host → origin mapping. It is built once at startup
// and read concurrently without locking.
type Table struct {
	rules  []Rule
	byHost map[string]*url.URL
	def    *url.URL
}

// New builds a Table from the routes and rules sections of cfg.
func New(cfg *config.Config) (*Table, error) {
	t := &Table{byHost: make(map[string]*url.URL, len(cfg.Routes))}

	for host, origin := range cfg.Routes {
		u, err := parseOrigin(origin)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", host, err)
		}
		if host == config.DefaultRoute {
			t.def = u
			continue
		}
		t.byHost[host] = u
	}

	for i, rc := range cfg.Rules {
		u, err := parseOrigin(rc.Origin)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rc.Host, err)
		}
		t.rules = append(t.rules, Rule{Host: rc.Host, PathPrefix: rc.PathPrefix, Origin: u})
	}

	return t, nil
}

// Resolve returns the origin for a request. Rules are checked first, in
// order, then the exact host entry, then the default. Host and path are
// compared byte-for-byte as received.
func (t *Table) Resolve(host, path string) (*url.URL, error) {
	for i := range t.rules {
		r := &t.rules[i]
		if r.Host == host && strings.HasPrefix(path, r.PathPrefix) {
			return r.Origin, nil
		}
	}
	if u, ok := t.byHost[host]; ok {
		return u, nil
	}
	if t.def != nil {
		return t.def, nil
	}
	return nil, ErrRouteNotFound
}

// Default returns the fallback origin, or nil when none is configured.
func (t *Table) Default() *url.URL {
	return t.def
}

// Hosts returns every mirror hostname known to the table or its rules, sorted.
func (t *Table) Hosts() []string {
	seen := make(map[string]bool, len(t.byHost)+len(t.rules))
	for h := range t.byHost {
		seen[h] = true
	}
	for _, r := range t.rules {
		seen[r.Host] = true
	}

	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// Len returns the number of host entries plus rules, excluding the default.
func (t *Table) Len() int {
	return len(t.byHost) + len(t.rules)
}

func parseOrigin(origin string) (*url.URL, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must include scheme and host", origin)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}
