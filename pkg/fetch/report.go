package fetch

import (
	"sort"
	"time"

	"github.com/arthur-debert/modkit/pkg/manifest"
)

// Report summarizes one FetchAll call
type Report struct {
	// Fetched are keys downloaded and admitted during this call,
	// including ones whose download was shared with another caller
	Fetched []manifest.ArtifactKey
	// Cached are keys that needed no download
	Cached []manifest.ArtifactKey
	// Failed maps keys to their terminal error
	Failed map[manifest.ArtifactKey]error
	// Skipped are keys never scheduled because the call was cancelled
	Skipped []manifest.ArtifactKey
	// Affected lists the plan components a failed key would have served,
	// with everything depending on them
	Affected []string
	Duration time.Duration
}

// OK reports whether every artifact is now cached
func (r *Report) OK() bool {
	return len(r.Failed) == 0 && len(r.Skipped) == 0
}

// FailedKeys returns the failed keys sorted by their string form
func (r *Report) FailedKeys() []manifest.ArtifactKey {
	keys := make([]manifest.ArtifactKey, 0, len(r.Failed))
	for k := range r.Failed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
