// Package nodepath parses "host/a/b/c" style logical paths into the
// (parent_path, name, depth) triples the DRACOON search-by-parent-path API
// expects. It is pure and side-effect free;
// the network lookup lives in the dracoon package's NodeService.
package nodepath

import (
	"errors"
	"strings"
)

// ErrInvalidPath is returned when a path cannot be parsed.
var ErrInvalidPath = errors.New("nodepath: invalid path")

// Parsed is the (parent path, name, depth) triple a node lookup needs.
type Parsed struct {
	ParentPath string
	Name       string
	Depth      uint64
}

// Parse strips an optional "https://" scheme and a leading host prefix equal
// to baseURL's host, then splits the remainder on '/' to compute
// (parent_path, name, depth). Root ("host/" or "host") parses to
// ("/", "", 0). A trailing slash on input is tolerated.
//
// baseURL may be a full "https://host" TargetUrl or a bare host; only the
// host portion is used for prefix stripping.
func Parse(path, baseURL string) (Parsed, error) {
	if path == "" {
		return Parsed{}, ErrInvalidPath
	}

	trimmed := strings.TrimPrefix(path, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")

	host := strings.TrimPrefix(baseURL, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")

	if host != "" && strings.HasPrefix(trimmed, host) {
		trimmed = trimmed[len(host):]
	}

	trimmed = strings.Trim(trimmed, "/")

	if trimmed == "" {
		return Parsed{ParentPath: "/", Name: "", Depth: 0}, nil
	}

	parts := strings.Split(trimmed, "/")
	depth := uint64(len(parts) - 1)
	name := parts[len(parts)-1]

	var parentPath string
	if depth == 0 {
		parentPath = "/"
	} else {
		parentPath = "/" + strings.Join(parts[:len(parts)-1], "/") + "/"
	}

	return Parsed{ParentPath: parentPath, Name: name, Depth: depth}, nil
}

// IsSearchQuery reports whether name contains a glob wildcard, indicating
// the caller must use search-list endpoints rather than single-node lookup.
func IsSearchQuery(name string) bool {
	return strings.Contains(name, "*")
}

// Build reconstructs the canonical path string "parent_path + name" from a
// Parsed triple. Used by tests to verify the round-trip invariant
// and by TreeWalker to compose mirrored remote paths.
func Build(p Parsed) string {
	if p.Name == "" {
		return p.ParentPath
	}

	return p.ParentPath + p.Name
}
