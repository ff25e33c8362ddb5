package model

import "strings"

// splitPath breaks an absolute path into its components. The model only
// accepts clean absolute paths: a leading slash, no empty, "." or ".."
// components, no trailing slash except for the root itself.
func splitPath(path string) ([]string, error) {
	if path == "/" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return nil, ErrBadPath
	}
	parts := strings.Split(path[1:], "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return nil, ErrBadPath
		}
	}
	return parts, nil
}

// isAncestor reports whether path a is a proper prefix directory of path b.
func isAncestor(a, b string) bool {
	if a == "/" {
		return b != "/"
	}
	return strings.HasPrefix(b, a+"/")
}
