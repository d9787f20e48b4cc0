package mapping

import "strings"

// Whitelist holds the response codes considered successful. An empty
// whitelist accepts every code.
type Whitelist struct {
	codes []string
	set   map[string]struct{}
}

// ParseWhitelist parses a comma separated list such as "00,0000".
func ParseWhitelist(s string) Whitelist {
	w := Whitelist{set: make(map[string]struct{})}
	for _, code := range strings.Split(s, ",") {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if _, dup := w.set[code]; dup {
			continue
		}
		w.set[code] = struct{}{}
		w.codes = append(w.codes, code)
	}
	return w
}

// IsEmpty reports whether the whitelist accepts everything
func (w Whitelist) IsEmpty() bool {
	return len(w.codes) == 0
}

// Accepts reports whether code is acceptable
func (w Whitelist) Accepts(code string) bool {
	if w.IsEmpty() {
		return true
	}
	_, ok := w.set[strings.TrimSpace(code)]
	return ok
}

// Codes returns the configured codes in order
func (w Whitelist) Codes() []string {
	return append([]string(nil), w.codes...)
}

// String returns the comma separated form
func (w Whitelist) String() string {
	return strings.Join(w.codes, ",")
}
