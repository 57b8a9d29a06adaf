package threatfeed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want CanonicalURL
	}{
		{"dot segments and case", "HTTP://Example.COM./a/./b/../c", "http://example.com/a/c"},
		{"surrounding whitespace", "  http://example.com/\t", "http://example.com/"},
		{"embedded control chars", "http://ex\nam\rple.com/pa\tth", "http://example.com/path"},
		{"port and fragment", "http://example.com:8080/path#frag", "http://example.com/path"},
		{"repeated dots in host", "http://..a..b../", "http://a.b/"},
		{"empty segments", "http://example.com/a//b/", "http://example.com/a/b"},
		{"parent above root", "http://example.com/../../x", "http://example.com/x"},
		{"no path", "http://example.com", "http://example.com/"},
		{"missing scheme", "example.com/path?q=1", "http://example.com/path?q=1"},
		{"missing scheme with url in query", "www.evil.example/landing?next=https://good.example/", "http://www.evil.example/landing?next=https://good.example/"},
		{"bare host with scheme in query", "evil.example/x?u=http://a", "http://evil.example/x?u=http://a"},
		{"missing scheme with port", "evil.example:8080/x", "http://evil.example/x"},
		{"uppercase https scheme", "HTTPS://evil.example/a", "https://evil.example/a"},
		{"userinfo dropped", "https://user:pw@Example.com/x", "https://example.com/x"},
		{"ipv6 host", "http://[::1]:80/a", "http://[::1]/a"},
		{"empty query", "http://example.com/path?", "http://example.com/path"},
		{"query kept verbatim", "http://example.com/a?B=1&a=%41", "http://example.com/a?B=1&a=%41"},
		{"no percent normalization", "http://example.com/%2e%2e/x", "http://example.com/%2e%2e/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalize_Malformed(t *testing.T) {
	for _, in := range []string{
		"",
		"   \t\n",
		"http://",
		"http://:80/",
		"http://.../",
		"http://exa mple.com/",
		"http://example.com:port/",
		"ftp://evil.example/a/b",
		"javascript://evil.example/",
		"file:///etc/passwd",
	} {
		_, err := Canonicalize(in)
		require.Error(t, err, "input %q", in)
		assert.True(t, errors.Is(err, ErrMalformedURL), "input %q: %v", in, err)
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	inputs := []string{
		"HTTP://Example.COM./a/./b/../c",
		"http://www.GOOgle.com/",
		"https://example.com:443/a/b/../../c/d/?x=1#y",
		"example.com",
		"http://a.b.c/1/2.html?param=1",
		"http://example.com/a b/c",
		"http://example.com/%7Euser/",
		"http://[2001:db8::1]:8080/x/./y",
		"http://.evil..com../path//to/./file.html",
	}
	for _, in := range inputs {
		once, err := Canonicalize(in)
		require.NoError(t, err, in)
		twice, err := Canonicalize(string(once))
		require.NoError(t, err, in)
		assert.Equal(t, once, twice, "canonicalization of %q is not idempotent", in)
	}
}
