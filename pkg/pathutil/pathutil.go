// pkg/pathutil/pathutil.go
// Package pathutil implements POSIX-style path math (Resolve,
// Normalize, Join, Dirname, Basename, Relative, Parts) with no
// filesystem I/O, wrapping Go's standard "path" package for the
// lexical "."/".." collapsing of "/"-separated paths.
package pathutil

import (
	"path"
	"strings"
)

// Separator is the only path separator this package understands.
const Separator = '/'

// Normalize collapses "." and ".." segments and duplicate separators,
// always returning an absolute, "/"-rooted path. It never touches the
// filesystem.
func Normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Resolve is Normalize(Join(base, p)) when p is relative, or
// Normalize(p) when p is already absolute: the last absolute segment
// wins.
func Resolve(base, p string) string {
	if strings.HasPrefix(p, "/") {
		return Normalize(p)
	}
	return Normalize(Join(base, p))
}

// Join concatenates segments with "/" and normalizes the result.
func Join(segments ...string) string {
	joined := path.Join(segments...)
	return Normalize(joined)
}

// Dirname returns the parent of p ("/" for "/" and for any top-level entry).
func Dirname(p string) string {
	return Normalize(path.Dir(Normalize(p)))
}

// Basename returns the final path component of p ("" for "/").
func Basename(p string) string {
	n := Normalize(p)
	if n == "/" {
		return ""
	}
	return path.Base(n)
}

// Parts splits a normalized path into its non-empty segments, so that
// Join("/", Parts(p)...) reconstructs it. Used by the tree store to
// walk the child index one segment at a time from ROOT.
func Parts(p string) []string {
	n := Normalize(p)
	if n == "/" {
		return nil
	}
	segments := strings.Split(strings.TrimPrefix(n, "/"), "/")
	return segments
}

// Relative returns the path of to relative to from, using ".." to walk
// up when to is not a descendant of from. A common-prefix walk; Go's
// standard "path" package has no equivalent.
func Relative(from, to string) string {
	from = Normalize(from)
	to = Normalize(to)
	if from == to {
		return ""
	}

	fromParts := Parts(from)
	toParts := Parts(to)

	common := 0
	for common < len(fromParts) && common < len(toParts) && fromParts[common] == toParts[common] {
		common++
	}

	up := len(fromParts) - common
	var b strings.Builder
	for i := 0; i < up; i++ {
		if b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString("..")
	}
	for i := common; i < len(toParts); i++ {
		if b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString(toParts[i])
	}
	return b.String()
}
