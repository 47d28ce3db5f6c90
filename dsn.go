package kenobix

import (
	"fmt"
	"net/url"
	"strings"
)

// hasPragma reports whether q already carries a _pragma=name(...) entry,
// so buildDSN never appends a conflicting duplicate for a pragma the
// caller set explicitly in a supplied file: URI.
func hasPragma(q url.Values, name string) bool {
	prefix := name + "("
	for _, v := range q["_pragma"] {
		if strings.HasPrefix(v, prefix) {
			return true
		}
	}
	return false
}

// buildDSN builds a modernc.org/sqlite connection string with the
// pragmas the engine relies on (WAL journaling, busy_timeout). A bare
// path gets pragmas appended; a path already given as a file: URI has
// its query parsed and merged, so pragmas or a mode the caller already
// set are left untouched.
func buildDSN(path string, o options, readOnly bool) string {
	path = strings.TrimSpace(path)
	busyTimeoutPragma := fmt.Sprintf("busy_timeout(%d)", o.busyTimeout.Milliseconds())

	if strings.HasPrefix(path, "file:") {
		u, err := url.Parse(path)
		if err != nil {
			return path
		}
		q := u.Query()
		if readOnly && q.Get("mode") == "" {
			q.Set("mode", "ro")
		}
		if !hasPragma(q, "busy_timeout") {
			q.Add("_pragma", busyTimeoutPragma)
		}
		if !hasPragma(q, "journal_mode") {
			q.Add("_pragma", "journal_mode(WAL)")
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	q := url.Values{}
	q.Add("_pragma", busyTimeoutPragma)
	q.Add("_pragma", "journal_mode(WAL)")
	if readOnly {
		q.Set("mode", "ro")
	}
	return "file:" + path + "?" + q.Encode()
}
