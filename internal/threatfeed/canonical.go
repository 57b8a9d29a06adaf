package threatfeed

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// CanonicalURL is a URL in the normalized form used for hashing.
type CanonicalURL string

func (u CanonicalURL) String() string { return string(u) }

// Canonicalize normalizes raw into the form whose candidate expressions are
// hashed and compared against the remote lists. The result is stable under
// repeated application.
//
// Input without a leading scheme is treated as http. Schemes other than
// http and https are rejected.
//
// Percent-encoded octets are passed through unchanged; "%2e%2e" is not
// treated as a parent segment.
func Canonicalize(raw string) (CanonicalURL, error) {
	s := strings.TrimSpace(stripControl(raw))
	if s == "" {
		return "", fmt.Errorf("%w: empty input", ErrMalformedURL)
	}
	if !schemePrefix.MatchString(s) {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		return "", fmt.Errorf("%w: missing scheme in %q", ErrMalformedURL, raw)
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURL, u.Scheme)
	}

	host := canonicalHost(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrMalformedURL, raw)
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(canonicalPath(u.EscapedPath()))
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return CanonicalURL(b.String()), nil
}

func stripControl(s string) string {
	if !strings.ContainsAny(s, "\t\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

// canonicalHost lowercases the host and collapses empty dot-separated labels,
// which also trims leading and trailing dots.
func canonicalHost(host string) string {
	labels := strings.Split(strings.ToLower(host), ".")
	kept := labels[:0]
	for _, l := range labels {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, ".")
}

func canonicalPath(p string) string {
	var segs []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segs) > 0 {
				segs = segs[:len(segs)-1]
			}
		default:
			segs = append(segs, seg)
		}
	}
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}
