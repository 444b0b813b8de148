package testutil

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/arthur-debert/modkit/pkg/manifest"
)

// FakeTransport serves artifacts from memory and counts every call
type FakeTransport struct {
	mu       sync.Mutex
	content  map[string][]byte
	failures map[string][]error
	calls    map[string]int

	// Gate, when set, blocks every fetch until it is closed
	Gate chan struct{}
	// Started receives the key of every fetch as it begins, if set
	Started chan string
}

// NewFakeTransport creates an empty transport. Unregistered keys are
// served with ContentFor(key).
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		content:  make(map[string][]byte),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// ContentFor is the default payload for key
func ContentFor(key manifest.ArtifactKey) []byte {
	return []byte("artifact " + key.String())
}

// Serve registers the payload for key
func (f *FakeTransport) Serve(key manifest.ArtifactKey, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[key.String()] = data
}

// FailWith queues errors returned, in order, before key succeeds
func (f *FakeTransport) FailWith(key manifest.ArtifactKey, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key.String()] = append(f.failures[key.String()], errs...)
}

// Calls returns how many times key was fetched
func (f *FakeTransport) Calls(key manifest.ArtifactKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key.String()]
}

// TotalCalls returns the number of fetches across all keys
func (f *FakeTransport) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// Fetch implements the orchestrator's Transport
func (f *FakeTransport) Fetch(ctx context.Context, c *manifest.Component) (io.ReadCloser, error) {
	key := c.Key()

	f.mu.Lock()
	f.calls[key.String()]++
	var failure error
	if queued := f.failures[key.String()]; len(queued) > 0 {
		failure = queued[0]
		f.failures[key.String()] = queued[1:]
	}
	data, ok := f.content[key.String()]
	gate, started := f.Gate, f.Started
	f.mu.Unlock()

	if started != nil {
		started <- key.String()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}
	if !ok {
		data = ContentFor(key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
