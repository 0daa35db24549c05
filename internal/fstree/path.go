package fstree

import "strings"

// PathSeparator joins path segments in paths rendered for humans and events.
const PathSeparator = "/"

// Canonicalize normalizes raw path segments into a stack of names.
// Segments are trimmed; empty and "." segments are dropped and ".." pops the
// previous segment. Popping past the start is a no-op, so the result may be
// empty.
func Canonicalize(segments []string) []string {
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	return stack
}

// SplitPath splits a slash-separated raw path into raw segments.
func SplitPath(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, PathSeparator)
}

// JoinPath renders a canonical path with a leading slash.
func JoinPath(segments []string) string {
	return PathSeparator + strings.Join(segments, PathSeparator)
}

// Extension returns the suffix of name starting at its last '.',
// or "" when name has no dot.
func Extension(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return name[i:]
}

// validName reports whether name can live in the tree and still be reached
// through a canonicalized path.
func validName(name string) bool {
	if strings.TrimSpace(name) != name || name == "" {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	return !strings.Contains(name, PathSeparator)
}
