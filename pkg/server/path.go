package server

import (
	"errors"
	"strings"
)

// ErrEmptyPath is returned by JoinPath when nothing is left to route on.
var ErrEmptyPath = errors.New("empty route path")

// JoinPath joins a controller prefix and a route path with a single "/",
// prefixes the result with "/" and collapses every run of separators.
// Joining two empty segments is an error rather than the root path.
func JoinPath(parent, child string) (string, error) {
	parent = strings.TrimSpace(parent)
	child = strings.TrimSpace(child)

	joined := child
	if parent != "" {
		joined = parent + "/" + child
	}
	if joined == "" {
		return "", ErrEmptyPath
	}

	var b strings.Builder
	b.Grow(len(joined) + 1)
	b.WriteByte('/')
	last := byte('/')
	for i := 0; i < len(joined); i++ {
		c := joined[i]
		if c == '/' && last == '/' {
			continue
		}
		b.WriteByte(c)
		last = c
	}
	return b.String(), nil
}
