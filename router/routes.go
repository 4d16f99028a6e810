package router

import "strings"

// IsValidRoute reports whether route is a literal method name, the default
// route "*", or a pattern with a single "*" at either end.
func IsValidRoute(route string) bool {
	if route == "" {
		return false
	}

	switch strings.Count(route, wildcard) {
	case 0:
		return isMethodName(route)
	case 1:
		return IsValidDefaultRoute(route) ||
			IsValidTrailingWildcardRoute(route) ||
			IsValidLeadingWildcardRoute(route)
	default:
		return false
	}
}

func IsValidDefaultRoute(route string) bool {
	return route == wildcard
}

// IsValidTrailingWildcardRoute matches "prefix*".
func IsValidTrailingWildcardRoute(route string) bool {
	if len(route) < 2 || !strings.HasSuffix(route, wildcard) {
		return false
	}
	return isMethodName(strings.TrimSuffix(route, wildcard))
}

// IsValidLeadingWildcardRoute matches "*suffix".
func IsValidLeadingWildcardRoute(route string) bool {
	if len(route) < 2 || !strings.HasPrefix(route, wildcard) {
		return false
	}
	return isMethodName(strings.TrimPrefix(route, wildcard))
}

// method names are word characters, optionally namespaced with dots
func isMethodName(s string) bool {
	if s == "" {
		return false
	}

	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.':
		default:
			return false
		}
	}

	return true
}
