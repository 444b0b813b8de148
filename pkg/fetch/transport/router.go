package transport

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/arthur-debert/modkit/pkg/config"
	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/manifest"
)

// Source names understood by FromConfig
const (
	SourceDDL      = "ddl"
	SourceURL      = "url"
	SourceModrinth = "modrinth"
	SourceS3       = "s3"
)

// Router dispatches each component to the source it names
type Router struct {
	sources map[string]Source
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{sources: make(map[string]Source)}
}

// Handle registers src for a source name
func (r *Router) Handle(name string, src Source) *Router {
	r.sources[strings.ToLower(name)] = src
	return r
}

// Sources returns the registered names, sorted
func (r *Router) Sources() []string {
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Fetch delegates to the component's source. Unknown sources fail with
// SOURCE_UNKNOWN, which is never retried.
func (r *Router) Fetch(ctx context.Context, c *manifest.Component) (io.ReadCloser, error) {
	src, ok := r.sources[strings.ToLower(c.Source)]
	if !ok {
		return nil, errors.Newf(errors.ErrSourceUnknown, "unsupported source %q", c.Source).
			WithDetail("component", c.ID).
			WithDetail("source", c.Source)
	}
	return src.Fetch(ctx, c)
}

// FromConfig builds the standard router: ddl and url over HTTP, the
// Modrinth API and S3
func FromConfig(cfg *config.Config) *Router {
	h := NewHTTP(WithUserAgent(cfg.Fetch.UserAgent))
	return NewRouter().
		Handle(SourceDDL, h).
		Handle(SourceURL, h).
		Handle(SourceModrinth, NewModrinth(cfg.Sources.Modrinth.APIURL, h)).
		Handle(SourceS3, NewS3(S3Config{
			Region:    cfg.Sources.S3.Region,
			Endpoint:  cfg.Sources.S3.Endpoint,
			PathStyle: cfg.Sources.S3.PathStyle,
		}))
}
