package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentsh/linkguard/internal/threatfeed"
)

// Collector provides a minimal Prometheus-compatible metrics exporter. It
// implements threatfeed.Recorder.
type Collector struct {
	startedAt time.Time

	listUpdates  sync.Map // threat type -> *atomic.Uint64
	listFailures sync.Map // threat type -> *atomic.Uint64
	listPrefixes sync.Map // threat type -> *atomic.Int64

	urlsChecked      atomic.Uint64
	localHits        atomic.Uint64
	fullHashRequests atomic.Uint64
	matches          sync.Map // threat type -> *atomic.Uint64

	httpRequests sync.Map // "route code" -> *atomic.Uint64
}

var _ threatfeed.Recorder = (*Collector)(nil)

func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

func counter(m *sync.Map, key string) *atomic.Uint64 {
	ptr, _ := m.LoadOrStore(key, &atomic.Uint64{})
	return ptr.(*atomic.Uint64)
}

// ObserveListUpdate records the outcome of one list update. prefixes is the
// size of the list after the attempt.
func (c *Collector) ObserveListUpdate(t threatfeed.ThreatType, prefixes int, err error) {
	if c == nil {
		return
	}
	if err != nil {
		counter(&c.listFailures, string(t)).Add(1)
	} else {
		counter(&c.listUpdates, string(t)).Add(1)
	}
	ptr, _ := c.listPrefixes.LoadOrStore(string(t), &atomic.Int64{})
	ptr.(*atomic.Int64).Store(int64(prefixes))
}

func (c *Collector) ObserveCheck(urls, localHits, fullHashRequests int) {
	if c == nil {
		return
	}
	c.urlsChecked.Add(uint64(urls))
	c.localHits.Add(uint64(localHits))
	c.fullHashRequests.Add(uint64(fullHashRequests))
}

func (c *Collector) ObserveMatch(t threatfeed.ThreatType) {
	if c == nil {
		return
	}
	counter(&c.matches, string(t)).Add(1)
}

// IncHTTPRequest counts one API request by route pattern and status code.
func (c *Collector) IncHTTPRequest(route string, code int) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	counter(&c.httpRequests, fmt.Sprintf("%s %d", route, code)).Add(1)
}

func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP linkguard_up Whether the linkguard server is running.\n")
		fmt.Fprint(w, "# TYPE linkguard_up gauge\n")
		fmt.Fprint(w, "linkguard_up 1\n")

		fmt.Fprint(w, "# HELP linkguard_uptime_seconds Seconds since the collector was created.\n")
		fmt.Fprint(w, "# TYPE linkguard_uptime_seconds gauge\n")
		fmt.Fprintf(w, "linkguard_uptime_seconds %d\n", int64(time.Since(c.startedAt).Seconds()))

		writeByType(w, &c.listUpdates, "linkguard_list_updates_total", "Successful threat list updates.", "counter")
		writeByType(w, &c.listFailures, "linkguard_list_update_failures_total", "Failed threat list updates.", "counter")

		types := snapshotKeys(&c.listPrefixes)
		if len(types) > 0 {
			fmt.Fprint(w, "# HELP linkguard_list_prefixes Hash prefixes held per threat list.\n")
			fmt.Fprint(w, "# TYPE linkguard_list_prefixes gauge\n")
			for _, t := range types {
				ptr, _ := c.listPrefixes.Load(t)
				fmt.Fprintf(w, "linkguard_list_prefixes{threat_type=\"%s\"} %d\n", escapeLabelValue(t), ptr.(*atomic.Int64).Load())
			}
		}

		fmt.Fprint(w, "# HELP linkguard_urls_checked_total URLs submitted for checking.\n")
		fmt.Fprint(w, "# TYPE linkguard_urls_checked_total counter\n")
		fmt.Fprintf(w, "linkguard_urls_checked_total %d\n", c.urlsChecked.Load())

		fmt.Fprint(w, "# HELP linkguard_local_prefix_hits_total Distinct hash prefixes found locally.\n")
		fmt.Fprint(w, "# TYPE linkguard_local_prefix_hits_total counter\n")
		fmt.Fprintf(w, "linkguard_local_prefix_hits_total %d\n", c.localHits.Load())

		fmt.Fprint(w, "# HELP linkguard_full_hash_requests_total Full-hash verification requests sent.\n")
		fmt.Fprint(w, "# TYPE linkguard_full_hash_requests_total counter\n")
		fmt.Fprintf(w, "linkguard_full_hash_requests_total %d\n", c.fullHashRequests.Load())

		writeByType(w, &c.matches, "linkguard_matches_total", "Confirmed threat matches.", "counter")

		keys := snapshotKeys(&c.httpRequests)
		if len(keys) > 0 {
			fmt.Fprint(w, "# HELP linkguard_http_requests_total API requests by route and status.\n")
			fmt.Fprint(w, "# TYPE linkguard_http_requests_total counter\n")
			for _, k := range keys {
				route, code, _ := strings.Cut(k, " ")
				fmt.Fprintf(w, "linkguard_http_requests_total{route=\"%s\",code=\"%s\"} %d\n",
					escapeLabelValue(route), code, counter(&c.httpRequests, k).Load())
			}
		}
	})
}

func writeByType(w http.ResponseWriter, m *sync.Map, name, help, kind string) {
	types := snapshotKeys(m)
	if len(types) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	for _, t := range types {
		fmt.Fprintf(w, "%s{threat_type=\"%s\"} %d\n", name, escapeLabelValue(t), counter(m, t).Load())
	}
}

func snapshotKeys(m *sync.Map) []string {
	var out []string
	m.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
		return true
	})
	sort.Strings(out)
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}
