package threatfeed

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testAPIKey = "test-key"

// fakeService emulates both remote endpoints. Handlers return the HTTP status
// and either a value to marshal or a raw JSON string.
type fakeService struct {
	srv *httptest.Server

	updateCalls atomic.Int32
	findCalls   atomic.Int32

	mu         sync.Mutex
	onUpdate   func(req listUpdateRequest) (int, any)
	onFind     func(req findFullHashesRequest) (int, any)
	lastUpdate listUpdateRequest
	lastFind   findFullHashesRequest
	keys       []string
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	f := &fakeService{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeService) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.keys = append(f.keys, r.URL.Query().Get("key"))
	f.mu.Unlock()

	var status int
	var body any
	switch r.URL.Path {
	case pathListUpdates:
		f.updateCalls.Add(1)
		var req listUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.lastUpdate = req
		h := f.onUpdate
		f.mu.Unlock()
		status, body = http.StatusOK, listUpdateResponse{}
		if h != nil {
			status, body = h(req)
		}
	case pathFullHashes:
		f.findCalls.Add(1)
		var req findFullHashesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.lastFind = req
		h := f.onFind
		f.mu.Unlock()
		status, body = http.StatusOK, findFullHashesResponse{}
		if h != nil {
			status, body = h(req)
		}
	default:
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	switch b := body.(type) {
	case string:
		_, _ = w.Write([]byte(b))
	default:
		_ = json.NewEncoder(w).Encode(b)
	}
}

func (f *fakeService) handleUpdate(h func(req listUpdateRequest) (int, any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUpdate = h
}

func (f *fakeService) handleFind(h func(req findFullHashesRequest) (int, any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFind = h
}

func (f *fakeService) client() *Client {
	return NewClient(ClientConfig{
		BaseURL:       f.srv.URL,
		APIKey:        testAPIKey,
		ClientID:      "linkguard-test",
		ClientVersion: "1.0.0",
		Timeout:       5 * time.Second,
	})
}

func prefixOf(candidate string) HashPrefix {
	return HashCandidate(candidate).Prefix(4)
}

func encodePrefixes(prefixes ...HashPrefix) string {
	var raw []byte
	for _, p := range prefixes {
		raw = append(raw, string(p)...)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func encodeHash(h FullHash) string {
	return base64.StdEncoding.EncodeToString(h[:])
}

func sortedPrefixes(prefixes ...HashPrefix) []HashPrefix {
	out := slices.Clone(prefixes)
	slices.Sort(out)
	return slices.Compact(out)
}

func additions(prefixes ...HashPrefix) []threatEntrySet {
	return []threatEntrySet{{
		CompressionType: compressionRaw,
		RawHashes:       &rawHashes{PrefixSize: 4, RawHashes: encodePrefixes(prefixes...)},
	}}
}

func assertSortedUnique(t assert.TestingT, prefixes []HashPrefix) {
	for i := 1; i < len(prefixes); i++ {
		assert.Less(t, string(prefixes[i-1]), string(prefixes[i]), "prefixes must be sorted and unique")
	}
}

type countingRecorder struct {
	mu         sync.Mutex
	listSizes  map[ThreatType]int
	listErrors map[ThreatType]error
	checks     int
	localHits  int
	requests   int
	matches    map[ThreatType]int
}

func (r *countingRecorder) ObserveListUpdate(t ThreatType, prefixes int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if r.listErrors == nil {
			r.listErrors = make(map[ThreatType]error)
		}
		r.listErrors[t] = err
		return
	}
	if r.listSizes == nil {
		r.listSizes = make(map[ThreatType]int)
	}
	r.listSizes[t] = prefixes
}

func (r *countingRecorder) ObserveCheck(urls, localHits, fullHashRequests int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks += urls
	r.localHits += localHits
	r.requests += fullHashRequests
}

func (r *countingRecorder) ObserveMatch(t ThreatType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.matches == nil {
		r.matches = make(map[ThreatType]int)
	}
	r.matches[t]++
}
