// Package scan finds URLs in free text and checks them against the local
// threat lists.
package scan

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/agentsh/linkguard/internal/threatfeed"
)

var urlExtractor = regexp.MustCompile(`(?i)(?:https?://|www\.)[^\s<>"{}|\\^\x60\[\]]+`)

const trailingPunct = `.,;:!?'")}]`

// URLChecker checks a batch of URLs. *threatfeed.Matcher implements it.
type URLChecker interface {
	CheckURLs(ctx context.Context, urls []string) ([]threatfeed.URLMatch, error)
}

// Result is the outcome of scanning one text.
type Result struct {
	// URLs holds the extracted URLs that were checked, in order of appearance.
	URLs    []string
	Matches []threatfeed.URLMatch
}

type Scanner struct {
	checker URLChecker

	mu    sync.RWMutex
	allow []glob.Glob
}

// New returns a Scanner. Allowlist entries are host globs with '.' as the
// separator, so "*.corp.example" matches one label and "**.corp.example" any
// depth.
func New(checker URLChecker, allowlist []string) (*Scanner, error) {
	s := &Scanner{checker: checker}
	if err := s.SetAllowlist(allowlist); err != nil {
		return nil, err
	}
	return s, nil
}

// SetAllowlist replaces the allowlist. On error the previous one is kept.
func (s *Scanner) SetAllowlist(allowlist []string) error {
	compiled := make([]glob.Glob, 0, len(allowlist))
	for _, p := range allowlist {
		g, err := glob.Compile(strings.ToLower(p), '.')
		if err != nil {
			return fmt.Errorf("compile allowlist pattern %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}
	s.mu.Lock()
	s.allow = compiled
	s.mu.Unlock()
	return nil
}

// Scan extracts URLs from text, drops allowlisted hosts, and checks the rest.
func (s *Scanner) Scan(ctx context.Context, text string) (Result, error) {
	var res Result
	for _, u := range ExtractURLs(text) {
		if s.allowed(u) {
			continue
		}
		res.URLs = append(res.URLs, u)
	}
	if len(res.URLs) == 0 {
		return res, nil
	}
	matches, err := s.checker.CheckURLs(ctx, res.URLs)
	if err != nil {
		return Result{}, err
	}
	res.Matches = matches
	return res, nil
}

func (s *Scanner) allowed(raw string) bool {
	s.mu.RLock()
	allow := s.allow
	s.mu.RUnlock()
	if len(allow) == 0 {
		return false
	}
	c, err := threatfeed.Canonicalize(raw)
	if err != nil {
		return false
	}
	u, err := url.Parse(string(c))
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, g := range allow {
		if g.Match(host) {
			return true
		}
	}
	return false
}

// ExtractURLs returns the http, https, and www. URLs found in text with
// surrounding punctuation trimmed. Duplicates are dropped, keeping the first.
func ExtractURLs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range urlExtractor.FindAllString(text, -1) {
		m = strings.TrimRight(m, trailingPunct)
		if m == "" || seen[m] {
			continue
		}
		lower := strings.ToLower(m)
		if lower == "http://" || lower == "https://" || lower == "www." {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
