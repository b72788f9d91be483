package telemetry

import (
	"sync"
	"time"

	"github.com/arborvale/valicore/pkg/valcore"
)

// resourceRing retains ResourceSnapshots for at most retention or capacity
// entries, whichever is smaller, per spec §4.2's "24h or N=86,400 entries,
// whichever smaller."
type resourceRing struct {
	mu        sync.Mutex
	buf       []valcore.ResourceSnapshot
	capacity  int
	retention time.Duration
}

func newResourceRing(capacity int, retention time.Duration) *resourceRing {
	return &resourceRing{capacity: capacity, retention: retention}
}

func (r *resourceRing) add(snap valcore.ResourceSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, snap)
	if len(r.buf) > r.capacity {
		r.buf = r.buf[len(r.buf)-r.capacity:]
	}
}

// prune drops entries older than retention; run on ResourcePruneInterval
// rather than on every add since it's an O(n) scan.
func (r *resourceRing) prune() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-r.retention)
	first := len(r.buf)
	for i, s := range r.buf {
		if s.At.After(cutoff) {
			first = i
			break
		}
	}
	if first > 0 {
		r.buf = r.buf[first:]
	}
}

func (r *resourceRing) latest() (valcore.ResourceSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return valcore.ResourceSnapshot{}, false
	}
	return r.buf[len(r.buf)-1], true
}

func (r *resourceRing) window(d time.Duration) []valcore.ResourceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-d)
	out := make([]valcore.ResourceSnapshot, 0, len(r.buf))
	for _, s := range r.buf {
		if s.At.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}
