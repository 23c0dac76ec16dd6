package monitor

// failureTracker counts consecutive poll failures for one resource.
// Below the threshold the cached state is left untouched so downstream
// consumers are not flapped by a single lost poll; at the threshold
// the tracker trips and the resource is degraded to Error.
type failureTracker struct {
	threshold   int
	consecutive int
	lastReason  string
}

// recordFailure returns true exactly when the streak reaches the
// threshold (not on every failure past it).
func (f *failureTracker) recordFailure(reason string) bool {
	f.consecutive++
	f.lastReason = reason
	return f.consecutive == f.threshold
}

func (f *failureTracker) recordSuccess() {
	f.consecutive = 0
	f.lastReason = ""
}

func (f *failureTracker) tripped() bool {
	return f.threshold > 0 && f.consecutive >= f.threshold
}
