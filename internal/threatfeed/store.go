package threatfeed

import (
	"slices"
	"sync"
	"time"
)

// ListState is a point-in-time view of one threat list.
type ListState struct {
	ThreatType  ThreatType
	ClientState string
	Prefixes    []HashPrefix
	// Checksum is the SHA-256 the server reported for the list. It is kept
	// for diagnostics and is not verified.
	Checksum  []byte
	UpdatedAt time.Time
}

// threatList is published once and never mutated afterwards; replace swaps
// in a new value.
type threatList struct {
	clientState string
	prefixes    []HashPrefix // sorted, unique
	lengths     []int        // distinct prefix lengths, ascending
	checksum    []byte
	updatedAt   time.Time
}

func newThreatList(clientState string, prefixes []HashPrefix, checksum []byte) *threatList {
	var lengths []int
	for _, p := range prefixes {
		if !slices.Contains(lengths, len(p)) {
			lengths = append(lengths, len(p))
		}
	}
	slices.Sort(lengths)
	return &threatList{
		clientState: clientState,
		prefixes:    prefixes,
		lengths:     lengths,
		checksum:    checksum,
		updatedAt:   time.Now(),
	}
}

func (l *threatList) contains(p HashPrefix) bool {
	_, ok := slices.BinarySearch(l.prefixes, p)
	return ok
}

// Store is a thread-safe in-memory set of hash prefixes per threat type. It is
// shared by a Synchronizer, which replaces whole lists, and any number of
// concurrent Matchers, which only read.
type Store struct {
	mu    sync.RWMutex
	types []ThreatType
	lists map[ThreatType]*threatList
}

// NewStore creates an empty store tracking the given threat types. With no
// types the default set is tracked.
func NewStore(types ...ThreatType) *Store {
	if len(types) == 0 {
		types = DefaultThreatTypes
	}
	s := &Store{lists: make(map[ThreatType]*threatList, len(types))}
	for _, t := range types {
		if _, ok := s.lists[t]; ok {
			continue
		}
		s.types = append(s.types, t)
		s.lists[t] = newThreatList("", nil, nil)
	}
	return s
}

// Types returns the tracked threat types in configuration order.
func (s *Store) Types() []ThreatType {
	return slices.Clone(s.types)
}

func (s *Store) list(t ThreatType) *threatList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lists[t]
}

// Prefixes returns the sorted prefix set for t. The slice is shared and must
// not be modified.
func (s *Store) Prefixes(t ThreatType) []HashPrefix {
	if l := s.list(t); l != nil {
		return l.prefixes
	}
	return nil
}

// ClientState returns the last token the server issued for t, or "" if the
// list was never synchronized.
func (s *Store) ClientState(t ThreatType) string {
	if l := s.list(t); l != nil {
		return l.clientState
	}
	return ""
}

// ClientStates returns the tokens of every tracked type, in type order.
func (s *Store) ClientStates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make([]string, 0, len(s.types))
	for _, t := range s.types {
		states = append(states, s.lists[t].clientState)
	}
	return states
}

// Size returns the total number of prefixes across all lists.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, l := range s.lists {
		n += len(l.prefixes)
	}
	return n
}

// Snapshot returns the state of every tracked list, in type order.
func (s *Store) Snapshot() []ListState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ListState, 0, len(s.types))
	for _, t := range s.types {
		l := s.lists[t]
		out = append(out, ListState{
			ThreatType:  t,
			ClientState: l.clientState,
			Prefixes:    l.prefixes,
			Checksum:    l.checksum,
			UpdatedAt:   l.updatedAt,
		})
	}
	return out
}

// Lookup truncates each hash to every prefix length present in the store and
// returns the prefixes found, mapped to the threat types that contain them.
func (s *Store) Lookup(hashes []FullHash) map[HashPrefix][]ThreatType {
	s.mu.RLock()
	types := s.types
	lists := make([]*threatList, len(types))
	for i, t := range types {
		lists[i] = s.lists[t]
	}
	s.mu.RUnlock()

	hits := make(map[HashPrefix][]ThreatType)
	for _, h := range hashes {
		for i, l := range lists {
			for _, n := range l.lengths {
				p := h.Prefix(n)
				if l.contains(p) && !slices.Contains(hits[p], types[i]) {
					hits[p] = append(hits[p], types[i])
				}
			}
		}
	}
	return hits
}

// replace atomically swaps the list for t. prefixes must already be sorted
// and deduplicated. Only the Synchronizer calls it.
func (s *Store) replace(t ThreatType, clientState string, prefixes []HashPrefix, checksum []byte) {
	l := newThreatList(clientState, prefixes, checksum)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[t]; !ok {
		return
	}
	s.lists[t] = l
}
