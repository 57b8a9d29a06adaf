package threatfeed

// Recorder receives counters from the Synchronizer and Matcher. The metrics
// collector implements it; a nil Recorder is replaced by a no-op.
type Recorder interface {
	ObserveListUpdate(t ThreatType, prefixes int, err error)
	ObserveCheck(urls, localHits, fullHashRequests int)
	ObserveMatch(t ThreatType)
}

type nopRecorder struct{}

func (nopRecorder) ObserveListUpdate(ThreatType, int, error) {}
func (nopRecorder) ObserveCheck(int, int, int)                {}
func (nopRecorder) ObserveMatch(ThreatType)                   {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
