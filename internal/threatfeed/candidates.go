package threatfeed

import "strings"

// GenerateCandidates expands a canonical URL into the expressions that must be
// hashed: the full URL, the URL without its query, and every truncation of the
// path down to the bare host. The scheme is stripped from each candidate. Duplicates are removed while keeping first-seen order.
func GenerateCandidates(u CanonicalURL) []string {
	full := stripScheme(string(u))
	base, _, hasQuery := strings.Cut(full, "?")

	out := make([]string, 0, 8)
	seen := make(map[string]struct{}, 8)
	add := func(c string) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	add(full)
	if hasQuery {
		add(base)
	}

	host, path := base, "/"
	if i := strings.IndexByte(base, '/'); i >= 0 {
		host, path = base[:i], base[i:]
	}
	for {
		add(host + path)
		if path == "/" {
			break
		}
		if i := strings.LastIndexByte(path, '/'); i > 0 {
			path = path[:i]
		} else {
			path = "/"
		}
	}
	return out
}

func stripScheme(s string) string {
	if loc := schemePrefix.FindStringIndex(s); loc != nil {
		return s[loc[1]:]
	}
	return s
}
