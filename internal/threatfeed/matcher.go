package threatfeed

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agentsh/linkguard/internal/observability"
)

// Matcher checks URLs against the local prefix lists and confirms prefix hits
// with the remote full-hash endpoint. It only reads the Store and is safe for
// concurrent use.
type Matcher struct {
	store    *Store
	client   *Client
	recorder Recorder
}

// NewMatcher creates a matcher over store. Pass nil for rec to disable
// metrics.
func NewMatcher(store *Store, client *Client, rec Recorder) *Matcher {
	return &Matcher{store: store, client: client, recorder: recorderOrNop(rec)}
}

type matchKey struct {
	url  string
	typ  ThreatType
	hash FullHash
}

// CheckURLs returns the confirmed threat matches for urls.
//
// URLs that cannot be canonicalized are skipped and the rest of the batch is
// still checked. When no candidate hash hits a local prefix no request is
// sent. Otherwise exactly one full-hash request is sent, and only entries whose
// full hash equals a candidate hash are reported. A URL listed under several
// threat types yields one match per type.
func (m *Matcher) CheckURLs(ctx context.Context, urls []string) ([]URLMatch, error) {
	ctx, span := observability.StartSpan(ctx, "threatfeed.check_urls",
		attribute.Int("urls", len(urls)))
	defer span.End()

	origins := make(map[FullHash][]string)
	var hashes []FullHash
	for _, raw := range urls {
		cu, err := Canonicalize(raw)
		if err != nil {
			continue
		}
		for _, c := range GenerateCandidates(cu) {
			h := HashCandidate(c)
			src, ok := origins[h]
			if !ok {
				hashes = append(hashes, h)
			}
			if !slices.Contains(src, raw) {
				origins[h] = append(src, raw)
			}
		}
	}

	hits := m.store.Lookup(hashes)
	span.SetAttributes(attribute.Int("prefix_hits", len(hits)))
	if len(hits) == 0 {
		m.recorder.ObserveCheck(len(urls), 0, 0)
		return nil, nil
	}

	prefixes := make([]HashPrefix, 0, len(hits))
	for p := range hits {
		prefixes = append(prefixes, p)
	}
	slices.Sort(prefixes)
	entries := make([]threatEntry, len(prefixes))
	for i, p := range prefixes {
		entries[i] = threatEntry{Hash: base64.StdEncoding.EncodeToString([]byte(p))}
	}

	req := findFullHashesRequest{
		ClientStates: m.store.ClientStates(),
		ThreatInfo: threatInfo{
			ThreatTypes:      m.store.Types(),
			PlatformTypes:    []string{platformAnyPlatform},
			ThreatEntryTypes: []string{threatEntryTypeURL},
			ThreatEntries:    entries,
		},
	}
	resp, err := m.client.findFullHashes(ctx, req)
	m.recorder.ObserveCheck(len(urls), len(hits), 1)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	var out []URLMatch
	seen := make(map[matchKey]struct{})
	for _, e := range resp.Matches {
		raw, err := decodeBytes(e.Threat.Hash)
		if err != nil {
			err = &DecodeError{Op: "fullHashes:find", Err: fmt.Errorf("threat hash: %w", err)}
			observability.RecordError(span, err)
			return nil, err
		}
		if len(raw) != sha256.Size {
			err = &DecodeError{Op: "fullHashes:find", Err: fmt.Errorf("threat hash has %d bytes, want %d", len(raw), sha256.Size)}
			observability.RecordError(span, err)
			return nil, err
		}
		var h FullHash
		copy(h[:], raw)
		for _, u := range origins[h] {
			k := matchKey{url: u, typ: e.ThreatType, hash: h}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, URLMatch{
				URL:   u,
				Match: ThreatMatch{ThreatType: e.ThreatType, FullHash: h, SourceURL: u},
			})
		}
	}

	for _, um := range out {
		m.recorder.ObserveMatch(um.Match.ThreatType)
	}
	span.SetAttributes(attribute.Int("matches", len(out)))
	return out, nil
}
