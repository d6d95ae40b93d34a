package transcript

import (
	"strings"
	"sync"
)

// Aggregator holds the running transcript as an ordered, append-only list of segments.
type Aggregator struct {
	mu       sync.RWMutex
	segments []string
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Append adds segment to the end of the transcript. Blank segments are ignored and
// reported as not appended.
func (a *Aggregator) Append(segment string) bool {
	segment = normalize(segment)
	if segment == "" {
		return false
	}
	a.mu.Lock()
	a.segments = append(a.segments, segment)
	a.mu.Unlock()
	return true
}

// Text joins every segment with a single space.
func (a *Aggregator) Text() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return strings.Join(a.segments, " ")
}

func (a *Aggregator) Segments() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.segments))
	copy(out, a.segments)
	return out
}

func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.segments)
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.segments = nil
	a.mu.Unlock()
}

// normalize collapses internal whitespace so that joined output never carries double spaces.
func normalize(segment string) string {
	return strings.Join(strings.Fields(segment), " ")
}
