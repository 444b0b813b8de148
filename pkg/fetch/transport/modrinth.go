package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"strings"

	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/manifest"
)

// DefaultModrinthAPI is the public Modrinth API root
const DefaultModrinthAPI = "https://api.modrinth.com/v2"

// modrinthVersion is the part of a Modrinth project version we read
type modrinthVersion struct {
	VersionNumber string         `json:"version_number"`
	Loaders       []string       `json:"loaders"`
	Files         []modrinthFile `json:"files"`
}

type modrinthFile struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Primary  bool   `json:"primary"`
}

// Modrinth resolves a project slug and version through the Modrinth API,
// then downloads the matching file
type Modrinth struct {
	api  string
	http *HTTP
}

// NewModrinth creates a Modrinth source. An empty api uses the public one.
func NewModrinth(api string, h *HTTP) *Modrinth {
	if api == "" {
		api = DefaultModrinthAPI
	}
	if h == nil {
		h = NewHTTP()
	}
	return &Modrinth{api: strings.TrimRight(api, "/"), http: h}
}

// Fetch looks up c.Location's versions and downloads the one whose
// version number equals c.Version and whose loaders fit the manifest
func (m *Modrinth) Fetch(ctx context.Context, c *manifest.Component) (io.ReadCloser, error) {
	file, err := m.Resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	return m.http.Open(ctx, file)
}

// Resolve returns the download url for c
func (m *Modrinth) Resolve(ctx context.Context, c *manifest.Component) (string, error) {
	log := logging.GetLogger("transport.modrinth")

	endpoint := m.api + "/project/" + url.PathEscape(c.Location) + "/version"
	data, err := m.http.Get(ctx, endpoint)
	if err != nil {
		return "", err
	}

	var versions []modrinthVersion
	if err := json.Unmarshal(data, &versions); err != nil {
		return "", errors.Wrapf(err, errors.ErrFetch, "decoding modrinth versions of %s", c.Location).
			WithDetail("component", c.ID)
	}

	loader := ""
	if mf := manifest.FromContext(ctx); mf != nil {
		loader = mf.Loader.Type
	}

	for _, v := range versions {
		if v.VersionNumber != c.Version || len(v.Files) == 0 {
			continue
		}
		if !loaderMatches(v.Loaders, loader, c.Kind) {
			continue
		}
		file := v.Files[0]
		for _, f := range v.Files {
			if f.Primary {
				file = f
				break
			}
		}
		log.Debug().
			Str("project", c.Location).
			Str("version", c.Version).
			Str("file", file.Filename).
			Msg("Resolved modrinth version")
		return file.URL, nil
	}

	return "", errors.Newf(errors.ErrNotFound, "modrinth project %s has no version %s for %s", c.Location, c.Version, loader).
		WithDetail("component", c.ID).
		WithDetail("version", c.Version)
}

// loaderMatches accepts the manifest loader, vanilla "minecraft" files and
// any loader for shader packs. An unknown manifest loader accepts all.
func loaderMatches(loaders []string, loader string, kind manifest.Kind) bool {
	if kind == manifest.KindShaderpack || loader == "" {
		return true
	}
	for _, l := range loaders {
		if strings.EqualFold(l, loader) || l == "minecraft" {
			return true
		}
	}
	return false
}
