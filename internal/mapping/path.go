// Package mapping normalizes raw banking API records into display rows.
//
// It holds the three pure building blocks of extraction:
//   - Path resolution: dotted addresses such as "Wfirstdata.2" or "Wtxamount"
//     evaluated against nested maps and positional arrays
//   - Value coercion: string, number, currency and date display formatting
//     with Indonesian locale rules and a fixed "-" empty marker
//   - The declarative engine: an ordered column list applied to every record
//     found at one of the known payload locations
//
// Nothing in this package returns an error for missing or malformed data.
// Only a syntactically broken path (an empty segment) is reported.
package mapping

import (
	"strconv"
	"strings"

	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/pkg/errors"
)

// Path is a parsed dotted field address.
type Path []string

// ParsePath splits a dotted address into segments. An empty string yields an
// empty path; empty segments ("a..b", ".a", "a.") are rejected.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, nil
	}

	segments := strings.Split(s, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, errors.MappingError(errors.CodeInvalidPath, s, nil)
		}
	}
	return Path(segments), nil
}

// MustParsePath is ParsePath for package-level constants.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the dotted form of the path
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Lookup walks the path through value. Maps are indexed by field name and
// sequences by non-negative integer. Any missing step yields nil.
func (p Path) Lookup(value interface{}) interface{} {
	if len(p) == 0 {
		return nil
	}

	current := value
	for _, seg := range p {
		switch node := current.(type) {
		case nil:
			return nil
		case map[string]interface{}:
			current = node[seg]
		case models.RawRecord:
			current = node[seg]
		case models.Payload:
			current = node[seg]
		case []interface{}:
			idx, ok := parseIndex(seg, len(node))
			if !ok {
				return nil
			}
			current = node[idx]
		case []string:
			idx, ok := parseIndex(seg, len(node))
			if !ok {
				return nil
			}
			current = node[idx]
		default:
			return nil
		}
	}
	return current
}

func parseIndex(seg string, length int) (int, bool) {
	idx, err := strconv.ParseUint(seg, 10, 64)
	if err != nil || idx >= uint64(length) {
		return 0, false
	}
	return int(idx), true
}

// Resolve looks path up in record and applies the optional substring bounds.
// Missing data resolves to nil; only malformed path syntax is an error.
func Resolve(record interface{}, path string, sub *models.Substring) (interface{}, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return ApplySubstring(p.Lookup(record), sub), nil
}

// ApplySubstring bounds a string value using standard substring semantics:
// start and end are clamped to the string and swapped when reversed.
// Non-string values are returned unchanged.
func ApplySubstring(value interface{}, sub *models.Substring) interface{} {
	s, ok := value.(string)
	if !ok || sub == nil {
		return value
	}

	runes := []rune(s)
	n := len(runes)

	start := clamp(sub.Start, 0, n)
	end := n
	if sub.Length != nil {
		end = clamp(sub.Start+*sub.Length, 0, n)
	}
	if start > end {
		start, end = end, start
	}
	return string(runes[start:end])
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
