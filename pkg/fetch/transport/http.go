// Package transport implements the artifact sources a manifest can name:
// direct downloads, the Modrinth API and S3 buckets. A Router picks one
// per component.
package transport

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cavaliergopher/grab/v3"

	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/manifest"
)

// DefaultUserAgent is sent when none is configured
const DefaultUserAgent = "modkit"

// Source produces the bytes of a component's artifact
type Source interface {
	Fetch(ctx context.Context, c *manifest.Component) (io.ReadCloser, error)
}

// StatusError is a non-2xx answer from a server
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// HTTPStatus lets the retry policy classify the error
func (e *StatusError) HTTPStatus() int { return e.Code }

// Expand substitutes the {version} placeholder of a location
func Expand(location, version string) string {
	return strings.ReplaceAll(location, "{version}", version)
}

// HTTP downloads artifacts from direct links. Transfers are kept in
// memory and handed to the cache, which does the verification.
type HTTP struct {
	client *grab.Client
}

// HTTPOption configures an HTTP source
type HTTPOption func(*HTTP)

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTP) {
		if ua != "" {
			h.client.UserAgent = ua
		}
	}
}

// WithHTTPClient replaces the underlying http client
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		if c != nil {
			h.client.HTTPClient = c
		}
	}
}

// NewHTTP creates a direct-download source
func NewHTTP(opts ...HTTPOption) *HTTP {
	client := grab.NewClient()
	client.UserAgent = DefaultUserAgent
	h := &HTTP{client: client}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Fetch downloads the component's location with {version} expanded
func (h *HTTP) Fetch(ctx context.Context, c *manifest.Component) (io.ReadCloser, error) {
	return h.Open(ctx, Expand(c.Location, c.Version))
}

// Open downloads url into memory and returns a reader over it
func (h *HTTP) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	data, err := h.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Get downloads url into memory
func (h *HTTP) Get(ctx context.Context, url string) ([]byte, error) {
	log := logging.GetLogger("transport.http")

	req, err := grab.NewRequest("", url)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrInvalidInput, "invalid url %q", url).
			WithDetail("url", url)
	}
	req = req.WithContext(ctx)
	req.NoStore = true
	req.NoResume = true

	log.Debug().Str("url", url).Msg("Downloading")
	resp := h.client.Do(req)
	if err := resp.Err(); err != nil {
		return nil, classify(err, url)
	}
	return resp.Bytes()
}

// classify maps grab's status error to StatusError and keeps everything
// else as is, so the retry policy still sees timeouts and resets
func classify(err error, url string) error {
	var sce grab.StatusCodeError
	if stderrors.As(err, &sce) {
		return &StatusError{Code: int(sce), URL: url}
	}
	return err
}

// GetBytes fetches a manifest or preset document
func GetBytes(ctx context.Context, url string, opts ...HTTPOption) ([]byte, error) {
	data, err := NewHTTP(opts...).Get(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFetch, "downloading %s", url).
			WithDetail("url", url)
	}
	return data, nil
}
