package threatfeed

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCandidates(t *testing.T) {
	tests := []struct {
		in   CanonicalURL
		want []string
	}{
		{
			in:   "http://a.b.c/1/2.html?param=1",
			want: []string{"a.b.c/1/2.html?param=1", "a.b.c/1/2.html", "a.b.c/1", "a.b.c/"},
		},
		{
			in:   "https://example.com/a/b",
			want: []string{"example.com/a/b", "example.com/a", "example.com/"},
		},
		{
			in:   "http://example.com/",
			want: []string{"example.com/"},
		},
		{
			in:   "http://example.com/?q=1",
			want: []string{"example.com/?q=1", "example.com/"},
		},
		{
			in:   "http://example.com/a?next=https://b.example/c",
			want: []string{"example.com/a?next=https://b.example/c", "example.com/a", "example.com/"},
		},
		{
			in:   "ftp://example.com/pub",
			want: []string{"example.com/pub", "example.com/"},
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, GenerateCandidates(tt.in))
		})
	}
}

func TestGenerateCandidates_QueryAndTruncations(t *testing.T) {
	u, err := Canonicalize("http://Evil.Example/x/y/z.php?id=7")
	require.NoError(t, err)

	got := GenerateCandidates(u)
	assert.Contains(t, got, "evil.example/x/y/z.php?id=7")
	assert.Contains(t, got, "evil.example/x/y/z.php")
	assert.Contains(t, got, "evil.example/x/y")
	assert.Contains(t, got, "evil.example/x")
	assert.Contains(t, got, "evil.example/")
	assert.Len(t, got, 5)

	seen := make(map[string]bool)
	for _, c := range got {
		assert.False(t, seen[c], "duplicate candidate %q", c)
		seen[c] = true
	}
}

func TestHashCandidate(t *testing.T) {
	h := HashCandidate("example.com/")
	assert.Equal(t, FullHash(sha256.Sum256([]byte("example.com/"))), h)
	assert.Len(t, string(h.Prefix(4)), 4)
	assert.Equal(t, string(h[:4]), string(h.Prefix(4)))
	assert.Len(t, string(h.Prefix(64)), sha256.Size)
}
