// Package progress carries status events from the pipeline to whatever
// renders them. The core never blocks on a reporter.
package progress

import (
	"sync"
)

// Step names the pipeline stage an event belongs to
type Step string

const (
	StepResolving  Step = "resolving"
	StepFetching   Step = "fetching"
	StepApplying   Step = "applying"
	StepCommitting Step = "committing"
	StepRemoving   Step = "removing"
	StepVerifying  Step = "verifying"
)

// Event is one progress update. Done and Total count items within Step.
type Event struct {
	Step  Step
	Item  string
	Done  int
	Total int
	// Cached is set for artifacts served from the cache
	Cached bool
	// Attempt is the fetch attempt number for retries
	Attempt int
	Err     error
}

// Percent returns Done/Total as 0..100
func (e Event) Percent() int {
	if e.Total <= 0 {
		return 0
	}
	return e.Done * 100 / e.Total
}

// Reporter receives events. Implementations must be safe for concurrent
// use; the fetch pool reports from several goroutines.
type Reporter interface {
	Report(Event)
}

// Func adapts a function to Reporter
type Func func(Event)

// Report calls f
func (f Func) Report(e Event) { f(e) }

type nop struct{}

func (nop) Report(Event) {}

// Nop discards events
var Nop Reporter = nop{}

// Recorder keeps every event, for tests and for summaries
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report records e
func (r *Recorder) Report(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of what was recorded
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Steps returns the distinct steps in first-seen order
func (r *Recorder) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[Step]bool)
	var steps []Step
	for _, e := range r.events {
		if !seen[e.Step] {
			seen[e.Step] = true
			steps = append(steps, e.Step)
		}
	}
	return steps
}
