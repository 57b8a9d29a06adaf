package scan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsh/linkguard/internal/threatfeed"
)

type stubChecker struct {
	calls [][]string
	bad   map[string]bool
	err   error
}

func (s *stubChecker) CheckURLs(ctx context.Context, urls []string) ([]threatfeed.URLMatch, error) {
	s.calls = append(s.calls, urls)
	if s.err != nil {
		return nil, s.err
	}
	var out []threatfeed.URLMatch
	for _, u := range urls {
		if s.bad[u] {
			out = append(out, threatfeed.URLMatch{URL: u, Match: threatfeed.ThreatMatch{ThreatType: threatfeed.Malware, SourceURL: u}})
		}
	}
	return out, nil
}

func TestExtractURLs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"no urls", "nothing to see here", nil},
		{
			"mixed",
			`See https://evil.example/a?b=c, and (http://ok.example/x). Also www.site.example/path!`,
			[]string{"https://evil.example/a?b=c", "http://ok.example/x", "www.site.example/path"},
		},
		{"dedupe", "http://a.example/ http://a.example/ http://b.example/", []string{"http://a.example/", "http://b.example/"}},
		{"quoted", `<a href="https://q.example/p">x</a>`, []string{"https://q.example/p"}},
		{"bare scheme", "http:// and https://", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractURLs(tt.text))
		})
	}
}

func TestScanner_Scan(t *testing.T) {
	checker := &stubChecker{bad: map[string]bool{"http://evil.example/x": true}}
	s, err := New(checker, []string{"*.corp.example", "TRUSTED.example"})
	require.NoError(t, err)

	res, err := s.Scan(context.Background(),
		"visit http://evil.example/x or https://wiki.corp.example/page or http://trusted.example/ or http://fine.example/")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://evil.example/x", "http://fine.example/"}, res.URLs)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "http://evil.example/x", res.Matches[0].URL)
	require.Len(t, checker.calls, 1)
}

func TestScanner_SchemelessURLWithURLInQuery(t *testing.T) {
	evil := "www.evil.example/landing?next=https://good.example/"
	checker := &stubChecker{bad: map[string]bool{evil: true}}
	s, err := New(checker, []string{"www.trusted.example"})
	require.NoError(t, err)

	res, err := s.Scan(context.Background(),
		"visit "+evil+" now, or www.trusted.example/r?to=http://x.example/ later")
	require.NoError(t, err)
	assert.Equal(t, []string{evil}, res.URLs, "the allowlist applies to scheme-less URLs too")
	require.Len(t, res.Matches, 1)
	assert.Equal(t, evil, res.Matches[0].URL)
}

func TestScanner_NothingToCheck(t *testing.T) {
	checker := &stubChecker{}
	s, err := New(checker, []string{"**.example"})
	require.NoError(t, err)

	res, err := s.Scan(context.Background(), "only http://a.b.example/ here")
	require.NoError(t, err)
	assert.Empty(t, res.URLs)
	assert.Empty(t, checker.calls, "no check when every URL is allowlisted")
}

func TestScanner_CheckerError(t *testing.T) {
	boom := &threatfeed.NetworkError{Op: "find full hashes", Err: errors.New("down")}
	s, err := New(&stubChecker{err: boom}, nil)
	require.NoError(t, err)

	_, err = s.Scan(context.Background(), "http://x.example/")
	var netErr *threatfeed.NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestNew_InvalidPattern(t *testing.T) {
	_, err := New(&stubChecker{}, []string{"[a-"})
	assert.Error(t, err)
}

func TestScanner_SetAllowlist(t *testing.T) {
	checker := &stubChecker{}
	s, err := New(checker, nil)
	require.NoError(t, err)

	res, err := s.Scan(context.Background(), "http://intra.example/")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://intra.example/"}, res.URLs)

	require.NoError(t, s.SetAllowlist([]string{"intra.example"}))
	res, err = s.Scan(context.Background(), "http://intra.example/")
	require.NoError(t, err)
	assert.Empty(t, res.URLs)

	assert.Error(t, s.SetAllowlist([]string{"[a-"}))
	res, err = s.Scan(context.Background(), "http://intra.example/")
	require.NoError(t, err)
	assert.Empty(t, res.URLs, "a bad pattern keeps the previous allowlist")
}
