package sigkit

import (
	"strings"
)

// Well-known trailer keys.
const (
	TrailerSignature    = "X-Rad-Signature"
	TrailerAuthorParent = "X-Rad-Author-Parent"
)

// Trailer is one parsed "Key: value" line from a commit message's
// trailer block.
type Trailer struct {
	Key   string
	Value string
}

// ParseTrailers extracts the trailing "Key: value" lines of a commit
// message: the contiguous run of such lines at the end of the message
// that is separated from the body by exactly one blank line. If no
// blank line separates a trailing key-value run from the body, or the
// message has no such run, ParseTrailers returns nil.
//
// This mirrors the teacher's CATF section grammar (key/value lines,
// ": " separator, non-empty value with no leading space) without
// the section-header and ordering machinery that grammar also enforces
// for CATF documents themselves — a commit trailer block is a single,
// unnamed, unordered section.
func ParseTrailers(commitMessage string) []Trailer {
	lines := strings.Split(strings.TrimRight(commitMessage, "\n"), "\n")

	blankIdx := -1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			blankIdx = i
			break
		}
		if !isTrailerLine(lines[i]) {
			return nil
		}
	}
	if blankIdx < 0 || blankIdx == len(lines)-1 {
		return nil
	}

	var out []Trailer
	for _, line := range lines[blankIdx+1:] {
		key, val, ok := splitTrailerLine(line)
		if !ok {
			return nil
		}
		out = append(out, Trailer{Key: key, Value: val})
	}
	return out
}

// Get returns the value of the first trailer matching key, and whether
// it was found.
func Get(trailers []Trailer, key string) (string, bool) {
	for _, t := range trailers {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// GetAll returns the values of every trailer matching key, in order.
func GetAll(trailers []Trailer, key string) []string {
	var out []string
	for _, t := range trailers {
		if t.Key == key {
			out = append(out, t.Value)
		}
	}
	return out
}

func isTrailerLine(line string) bool {
	_, _, ok := splitTrailerLine(line)
	return ok
}

func splitTrailerLine(line string) (key, val string, ok bool) {
	idx := strings.Index(line, ": ")
	if idx <= 0 {
		return "", "", false
	}
	key, val = line[:idx], line[idx+2:]
	if val == "" || strings.HasPrefix(val, " ") {
		return "", "", false
	}
	return key, val, true
}
