package router

import (
	"sort"
	"strings"
	"sync"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/sirupsen/logrus"
)

const wildcard = "*"

// Routes maps a backend name to the method patterns it serves.
type Routes map[string][]string

// Router resolves method names to backend names. Resolution order is exact
// match, trailing wildcard ("eth_*"), leading wildcard ("*_blockNumber"),
// then the default route "*". Within a wildcard class the longest pattern
// wins.
type Router struct {
	mu sync.RWMutex

	table    map[string]string // pattern => backend
	trailing []string          // prefixes, longest first
	leading  []string          // suffixes, longest first
}

func New(routes Routes) (*Router, error) {
	r := &Router{table: make(map[string]string)}

	if err := r.Register(routes); err != nil {
		return nil, err
	}

	return r, nil
}

// Register adds routes to the table. Nothing is registered if any pattern is
// invalid, a backend has no routes, or a pattern is already claimed.
func (r *Router) Register(routes Routes) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := make(map[string]string, len(r.table))
	for pattern, backend := range r.table {
		table[pattern] = backend
	}

	backends := make([]string, 0, len(routes))
	for backend := range routes {
		backends = append(backends, backend)
	}
	sort.Strings(backends)

	for _, backend := range backends {
		patterns := routes[backend]
		if len(patterns) == 0 {
			return jsonrpc.ConfigErrorf("backend %s has no routes", backend)
		}

		for _, pattern := range patterns {
			if !IsValidRoute(pattern) {
				return jsonrpc.ConfigErrorf("route is invalid: %s", pattern)
			}

			if owner, ok := table[pattern]; ok && owner != backend {
				return jsonrpc.ConfigErrorf("route %s already registered by backend %s, conflicting with backend %s", pattern, owner, backend)
			}

			table[pattern] = backend
		}
	}

	r.table = table
	r.trailing, r.leading = nil, nil

	for pattern := range table {
		switch {
		case IsValidTrailingWildcardRoute(pattern):
			r.trailing = append(r.trailing, strings.TrimSuffix(pattern, wildcard))
		case IsValidLeadingWildcardRoute(pattern):
			r.leading = append(r.leading, strings.TrimPrefix(pattern, wildcard))
		}
	}

	sortBySpecificity(r.trailing)
	sortBySpecificity(r.leading)

	logrus.Debugf("router registered %d routes for %d backends", len(table), len(backends))

	return nil
}

// Target returns the backend serving method. ok is false when no route
// matches; callers decide whether that is an error.
func (r *Router) Target(method string) (backend string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if method != wildcard {
		if backend, ok = r.table[method]; ok {
			return backend, true
		}
	}

	for _, prefix := range r.trailing {
		if strings.HasPrefix(method, prefix) {
			return r.table[prefix+wildcard], true
		}
	}

	for _, suffix := range r.leading {
		if strings.HasSuffix(method, suffix) {
			return r.table[wildcard+suffix], true
		}
	}

	backend, ok = r.table[wildcard]
	return backend, ok
}

func (r *Router) IsSupported(method string) bool {
	_, ok := r.Target(method)
	return ok
}

// Routes returns a copy of the flat pattern => backend table.
func (r *Router) Routes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make(map[string]string, len(r.table))
	for pattern, backend := range r.table {
		res[pattern] = backend
	}

	return res
}

// Backends returns the sorted set of backend names with at least one route.
func (r *Router) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	res := []string{}
	for _, backend := range r.table {
		if !seen[backend] {
			seen[backend] = true
			res = append(res, backend)
		}
	}
	sort.Strings(res)

	return res
}

// longest first, ties broken lexically so the order never depends on map
// iteration.
func sortBySpecificity(patterns []string) {
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})
}
