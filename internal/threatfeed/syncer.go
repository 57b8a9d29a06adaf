package threatfeed

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/agentsh/linkguard/internal/observability"
)

const (
	defaultMaxUpdateEntries   = 50000
	defaultMaxDatabaseEntries = 100000
	defaultRegion             = "US"

	responseTypeFull = "FULL_UPDATE"
)

var (
	errUnsupportedCompression = errors.New("unsupported compression type")
	errDuplicateList          = errors.New("duplicate list in response")
)

// SyncConfig holds the constraints sent with every list update request.
type SyncConfig struct {
	MaxUpdateEntries   int
	MaxDatabaseEntries int
	Region             string
}

// Synchronizer performs incremental list updates against the remote service
// and replaces lists in the Store. It never schedules itself: callers decide
// when Update runs. One Synchronizer should own each Store.
type Synchronizer struct {
	store       *Store
	client      *Client
	constraints updateConstraints
	recorder    Recorder

	// Concurrent Update calls share a single round-trip.
	flight singleflight.Group

	mu       sync.Mutex
	minWait  time.Duration
	lastSync time.Time
}

// NewSynchronizer creates a synchronizer for store. Pass nil for rec to
// disable metrics.
func NewSynchronizer(store *Store, client *Client, cfg SyncConfig, rec Recorder) *Synchronizer {
	if cfg.MaxUpdateEntries <= 0 {
		cfg.MaxUpdateEntries = defaultMaxUpdateEntries
	}
	if cfg.MaxDatabaseEntries <= 0 {
		cfg.MaxDatabaseEntries = defaultMaxDatabaseEntries
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	return &Synchronizer{
		store:  store,
		client: client,
		constraints: updateConstraints{
			MaxUpdateEntries:      cfg.MaxUpdateEntries,
			MaxDatabaseEntries:    cfg.MaxDatabaseEntries,
			Region:                cfg.Region,
			SupportedCompressions: []string{compressionRaw},
		},
		recorder: recorderOrNop(rec),
	}
}

// Update fetches the diff for every tracked list in one request and applies
// it. A transport or top-level decode failure leaves the store untouched. A
// failure confined to one list leaves that list untouched, commits the others,
// and is reported as *PartialListFailure.
//
// Callers that arrive while an update is in flight wait for it and receive
// its result; the first caller's context governs the request.
func (s *Synchronizer) Update(ctx context.Context) error {
	_, err, _ := s.flight.Do("update", func() (any, error) {
		return nil, s.update(ctx)
	})
	return err
}

// MinimumWait returns the delay the server asked for before the next update.
func (s *Synchronizer) MinimumWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minWait
}

// LastSync returns when the last update round-trip completed, or the zero
// time if none has.
func (s *Synchronizer) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

func (s *Synchronizer) update(ctx context.Context) error {
	types := s.store.Types()
	ctx, span := observability.StartSpan(ctx, "threatfeed.update",
		attribute.Int("threat_types", len(types)))
	defer span.End()

	req := listUpdateRequest{ListUpdateRequests: make([]listUpdateEntry, 0, len(types))}
	for _, t := range types {
		req.ListUpdateRequests = append(req.ListUpdateRequests, listUpdateEntry{
			ThreatType:      t,
			PlatformType:    platformAnyPlatform,
			ThreatEntryType: threatEntryTypeURL,
			State:           s.store.ClientState(t),
			Constraints:     s.constraints,
		})
	}

	resp, err := s.client.fetchListUpdates(ctx, req)
	if err != nil {
		for _, t := range types {
			s.recorder.ObserveListUpdate(t, len(s.store.Prefixes(t)), err)
		}
		observability.RecordError(span, err)
		return err
	}

	s.mu.Lock()
	s.lastSync = time.Now()
	// A malformed hint is ignored; it only advises the caller's scheduler.
	if d, err := time.ParseDuration(resp.MinimumWaitDuration); err == nil {
		s.minWait = d
	}
	s.mu.Unlock()

	failures := make(map[ThreatType]error)
	done := make(map[ThreatType]struct{}, len(types))
	for _, lu := range resp.ListUpdateResponses {
		if !slices.Contains(types, lu.ThreatType) {
			continue
		}
		t := lu.ThreatType
		if _, ok := done[t]; ok {
			failures[t] = &DecodeError{Op: "threatListUpdates:fetch", Err: fmt.Errorf("%s: %w", t, errDuplicateList)}
			continue
		}
		done[t] = struct{}{}

		current := s.store.Prefixes(t)
		next, sum, err := applyListUpdate(current, lu)
		if err != nil {
			failures[t] = err
			s.recorder.ObserveListUpdate(t, len(current), err)
			continue
		}
		s.store.replace(t, lu.NewClientState, next, sum)
		s.recorder.ObserveListUpdate(t, len(next), nil)
	}

	if len(failures) > 0 {
		err := &PartialListFailure{Failures: failures}
		observability.RecordError(span, err)
		return err
	}
	return nil
}

// applyListUpdate computes the next prefix set for one list without touching
// current. Removal indices all refer to current, so they are applied before
// any addition.
func applyListUpdate(current []HashPrefix, lu listUpdate) ([]HashPrefix, []byte, error) {
	op := "threatListUpdates:fetch " + string(lu.ThreatType)

	base := current
	if lu.ResponseType == responseTypeFull {
		base = nil
	}

	removed := make([]bool, len(base))
	for _, r := range lu.Removals {
		if r.CompressionType != "" && r.CompressionType != compressionRaw {
			return nil, nil, &DecodeError{Op: op, Err: fmt.Errorf("%w %q", errUnsupportedCompression, r.CompressionType)}
		}
		if r.RawIndices == nil {
			continue
		}
		for _, i := range r.RawIndices.Indices {
			if i < 0 || i >= len(base) {
				return nil, nil, &DecodeError{Op: op, Err: fmt.Errorf("removal index %d out of range [0,%d)", i, len(base))}
			}
			removed[i] = true
		}
	}

	next := make([]HashPrefix, 0, len(base))
	for i, p := range base {
		if !removed[i] {
			next = append(next, p)
		}
	}

	for _, a := range lu.Additions {
		if a.CompressionType != "" && a.CompressionType != compressionRaw {
			return nil, nil, &DecodeError{Op: op, Err: fmt.Errorf("%w %q", errUnsupportedCompression, a.CompressionType)}
		}
		if a.RawHashes == nil {
			continue
		}
		size := a.RawHashes.PrefixSize
		if size < minPrefixSize || size > maxPrefixSize {
			return nil, nil, &DecodeError{Op: op, Err: fmt.Errorf("invalid prefix size %d", size)}
		}
		raw, err := decodeBytes(a.RawHashes.RawHashes)
		if err != nil {
			return nil, nil, &DecodeError{Op: op, Err: fmt.Errorf("raw hashes: %w", err)}
		}
		if len(raw)%size != 0 {
			return nil, nil, &DecodeError{Op: op, Err: fmt.Errorf("raw hashes length %d not a multiple of prefix size %d", len(raw), size)}
		}
		for off := 0; off < len(raw); off += size {
			next = append(next, HashPrefix(raw[off:off+size]))
		}
	}

	slices.Sort(next)
	next = slices.Compact(next)

	var sum []byte
	if lu.Checksum != nil && lu.Checksum.SHA256 != "" {
		b, err := decodeBytes(lu.Checksum.SHA256)
		if err != nil {
			return nil, nil, &DecodeError{Op: op, Err: fmt.Errorf("checksum: %w", err)}
		}
		sum = b
	}
	return next, sum, nil
}

// decodeBytes accepts both base64 alphabets, as proto3 JSON encoders may
// emit either.
func decodeBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	if b, uerr := base64.URLEncoding.DecodeString(s); uerr == nil {
		return b, nil
	}
	return nil, err
}
