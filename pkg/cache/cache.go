// Package cache stores fetched artifacts keyed by their artifact
// identity, shared by every installation.
//
// Layout under the cache root:
//
//	blobs/<key digest>          verified artifact bytes
//	entries/<key digest>.json   index record for the blob
//	staging/                    in-flight downloads
//
// A blob is only ever renamed into blobs/ after its size and digest
// were verified, so anything under blobs/ with an index record is safe
// to place. Admission for a given key is serialized by the fetch
// orchestrator; reads take no locks.
package cache

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/filesystem"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/manifest"
)

const (
	blobsDir   = "blobs"
	entriesDir = "entries"
	stagingDir = "staging"
)

// StagingTTL is how old a staging file must be before Prune treats it
// as abandoned
const StagingTTL = time.Hour

// Entry is the index record of one cached artifact
type Entry struct {
	Key        manifest.ArtifactKey `json:"key"`
	Path       string               `json:"path"`
	Size       int64                `json:"size"`
	Digest     string               `json:"digest"`
	Declared   string               `json:"declared,omitempty"`
	VerifiedAt time.Time            `json:"verified_at"`
}

// Expectation is what a downloaded blob must match. Zero values are
// not checked.
type Expectation struct {
	Size   int64
	Digest string
}

// ExpectationFor returns the declared size and digest of c
func ExpectationFor(c *manifest.Component) Expectation {
	return Expectation{Size: c.Size, Digest: c.ExpectedDigest()}
}

// Cache is a content store on an afero filesystem
type Cache struct {
	fs   afero.Fs
	root string
	now  func() time.Time
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a cache rooted at root
func New(fs afero.Fs, root string, opts ...Option) *Cache {
	c := &Cache{fs: fs, root: root, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the cache root
func (c *Cache) Root() string {
	return c.root
}

// BlobPath is where the verified blob for key lives
func (c *Cache) BlobPath(key manifest.ArtifactKey) string {
	return filepath.Join(c.root, blobsDir, key.Digest())
}

func (c *Cache) entryPath(key manifest.ArtifactKey) string {
	return filepath.Join(c.root, entriesDir, key.Digest()+".json")
}

// Lookup returns the entry for key when both record and blob exist
func (c *Cache) Lookup(key manifest.ArtifactKey) (*Entry, bool) {
	data, err := afero.ReadFile(c.fs, c.entryPath(key))
	if err != nil {
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil || e.Key != key {
		return nil, false
	}
	info, err := c.fs.Stat(e.Path)
	if err != nil || info.Size() != e.Size {
		return nil, false
	}
	return &e, true
}

// Has reports whether key is cached
func (c *Cache) Has(key manifest.ArtifactKey) bool {
	_, ok := c.Lookup(key)
	return ok
}

// Open opens the cached blob for key
func (c *Cache) Open(key manifest.ArtifactKey) (afero.File, error) {
	e, ok := c.Lookup(key)
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "artifact %s is not cached", key).
			WithDetail("artifact", key.String())
	}
	return c.fs.Open(e.Path)
}

// Admit streams r into the cache. The blob only becomes visible after
// it matched expect; on mismatch nothing is kept and an INTEGRITY
// error is returned. Read errors from r are returned wrapped so the
// caller can classify them.
func (c *Cache) Admit(key manifest.ArtifactKey, r io.Reader, expect Expectation) (*Entry, error) {
	return c.AdmitContext(context.Background(), key, r, expect)
}

// AdmitContext is Admit bounded by ctx. Once ctx is done the transfer
// stops and the staged bytes are dropped; a blob is never renamed into
// place after that.
func (c *Cache) AdmitContext(ctx context.Context, key manifest.ArtifactKey, r io.Reader, expect Expectation) (*Entry, error) {
	log := logging.GetLogger("cache")
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err, key)
	}

	staging := filepath.Join(c.root, stagingDir)
	for _, dir := range []string{staging, filepath.Join(c.root, blobsDir), filepath.Join(c.root, entriesDir)} {
		if err := c.fs.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, errors.ErrFilesystem, "cannot create cache directory").
				WithDetail("path", dir)
		}
	}

	tmp, err := afero.TempFile(c.fs, staging, key.Digest()+"-*")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrFilesystem, "cannot create staging file").
			WithDetail("path", staging)
	}
	tmpName := tmp.Name()
	discard := func() {
		_ = tmp.Close()
		_ = c.fs.Remove(tmpName)
	}

	sum := sha256.New()
	writers := []io.Writer{tmp, sum}
	declaredType, declaredHex, declared := splitDigest(expect.Digest)
	var declaredSum hash.Hash
	if declared && declaredType != manifest.HashSHA256 {
		declaredSum = newHash(declaredType)
		if declaredSum == nil {
			discard()
			return nil, errors.Newf(errors.ErrIntegrity, "unsupported digest %q", expect.Digest).
				WithDetail("artifact", key.String())
		}
		writers = append(writers, declaredSum)
	}

	size, err := io.Copy(io.MultiWriter(writers...), &ctxReader{ctx: ctx, r: r})
	if err != nil {
		discard()
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err(), key)
		}
		return nil, errors.Wrapf(err, errors.ErrFetch, "transfer of %s failed", key).
			WithDetail("artifact", key.String())
	}
	if s, ok := tmp.(filesystem.Syncer); ok {
		if err := s.Sync(); err != nil {
			discard()
			return nil, errors.Wrap(err, errors.ErrFilesystem, "cannot sync staging file").
				WithDetail("path", tmpName)
		}
	}
	if err := tmp.Close(); err != nil {
		_ = c.fs.Remove(tmpName)
		return nil, errors.Wrap(err, errors.ErrFilesystem, "cannot close staging file").
			WithDetail("path", tmpName)
	}

	digest := manifest.HashSHA256 + ":" + hex.EncodeToString(sum.Sum(nil))
	if expect.Size > 0 && size != expect.Size {
		_ = c.fs.Remove(tmpName)
		return nil, errors.Newf(errors.ErrIntegrity, "size mismatch for %s", key).
			WithDetail("artifact", key.String()).
			WithDetail("expected", expect.Size).
			WithDetail("actual", size)
	}
	if declared {
		actual := digest
		if declaredSum != nil {
			actual = declaredType + ":" + hex.EncodeToString(declaredSum.Sum(nil))
		}
		if actual != declaredType+":"+declaredHex {
			_ = c.fs.Remove(tmpName)
			return nil, errors.Newf(errors.ErrIntegrity, "digest mismatch for %s", key).
				WithDetail("artifact", key.String()).
				WithDetail("expected", expect.Digest).
				WithDetail("actual", actual)
		}
	}

	if err := ctx.Err(); err != nil {
		_ = c.fs.Remove(tmpName)
		return nil, cancelled(err, key)
	}
	blob := c.BlobPath(key)
	if err := c.fs.Rename(tmpName, blob); err != nil {
		_ = c.fs.Remove(tmpName)
		return nil, errors.Wrap(err, errors.ErrFilesystem, "cannot move blob into cache").
			WithDetail("path", blob)
	}

	entry := &Entry{
		Key:        key,
		Path:       blob,
		Size:       size,
		Digest:     digest,
		VerifiedAt: c.now().UTC(),
	}
	if declared && declaredType != manifest.HashSHA256 {
		entry.Declared = expect.Digest
	}
	if err := c.writeEntry(entry); err != nil {
		return nil, err
	}

	log.Debug().
		Str("artifact", key.String()).
		Int64("size", size).
		Msg("Admitted artifact")
	return entry, nil
}

// ctxReader fails reads once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

func cancelled(err error, key manifest.ArtifactKey) error {
	return errors.Wrap(err, errors.ErrCancelled, "admission cancelled").
		WithDetail("artifact", key.String())
}

func (c *Cache) writeEntry(e *Entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "cannot encode cache entry")
	}
	path := c.entryPath(e.Key)
	if err := filesystem.AtomicWrite(c.fs, path, data, 0644); err != nil {
		return errors.Wrap(err, errors.ErrFilesystem, "cannot write cache entry").
			WithDetail("path", path)
	}
	return nil
}

// Check recomputes the digest of the cached blob for key without
// touching the cache. It returns INTEGRITY for a missing or corrupt blob.
func (c *Cache) Check(key manifest.ArtifactKey) error {
	_, err := c.check(key)
	return err
}

// Verify is Check that also evicts a bad entry and refreshes VerifiedAt
// on a good one.
func (c *Cache) Verify(key manifest.ArtifactKey) (*Entry, error) {
	e, err := c.check(key)
	if err != nil {
		log := logging.GetLogger("cache")
		log.Warn().
			Str("artifact", key.String()).
			Msg("Evicting corrupt cache entry")
		_ = c.Evict(key)
		return nil, err
	}

	e.VerifiedAt = c.now().UTC()
	if err := c.writeEntry(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *Cache) check(key manifest.ArtifactKey) (*Entry, error) {
	e, ok := c.Lookup(key)
	if !ok {
		return nil, errors.Newf(errors.ErrIntegrity, "artifact %s is missing from the cache", key).
			WithDetail("artifact", key.String())
	}

	f, err := c.fs.Open(e.Path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrIntegrity, "cannot read cached %s", key).
			WithDetail("artifact", key.String())
	}
	actual, err := DigestReader(f)
	_ = f.Close()
	if err != nil || actual != e.Digest {
		return nil, errors.Newf(errors.ErrIntegrity, "cached %s is corrupt", key).
			WithDetail("artifact", key.String()).
			WithDetail("expected", e.Digest).
			WithDetail("actual", actual)
	}
	return e, nil
}

// Evict removes key from the cache. Missing entries are not an error.
func (c *Cache) Evict(key manifest.ArtifactKey) error {
	for _, p := range []string{c.entryPath(key), c.BlobPath(key)} {
		if err := c.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, errors.ErrFilesystem, "cannot evict cache entry").
				WithDetail("path", p)
		}
	}
	return nil
}

// Entries lists every readable index record
func (c *Cache) Entries() ([]*Entry, error) {
	dir := filepath.Join(c.root, entriesDir)
	infos, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrFilesystem, "cannot list cache").WithDetail("path", dir)
	}
	var out []*Entry
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			continue
		}
		data, err := afero.ReadFile(c.fs, filepath.Join(dir, info.Name()))
		if err != nil {
			continue
		}
		var e Entry
		if json.Unmarshal(data, &e) == nil {
			out = append(out, &e)
		}
	}
	return out, nil
}

// Prune evicts every entry whose key is not in keep and removes staging
// files older than StagingTTL, which belong to interrupted downloads.
// Younger staging files may be admissions in flight and are left alone.
// It returns the number of evicted entries.
func (c *Cache) Prune(keep []manifest.ArtifactKey) (int, error) {
	wanted := make(map[manifest.ArtifactKey]bool, len(keep))
	for _, k := range keep {
		wanted[k] = true
	}
	entries, err := c.Entries()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if wanted[e.Key] {
			continue
		}
		if err := c.Evict(e.Key); err != nil {
			return removed, err
		}
		removed++
	}
	if err := c.sweepStaging(); err != nil {
		return removed, err
	}
	return removed, nil
}

func (c *Cache) sweepStaging() error {
	dir := filepath.Join(c.root, stagingDir)
	infos, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrFilesystem, "cannot list staging").WithDetail("path", dir)
	}
	cutoff := c.now().Add(-StagingTTL)
	for _, info := range infos {
		if info.ModTime().After(cutoff) {
			continue
		}
		p := filepath.Join(dir, info.Name())
		if err := c.fs.RemoveAll(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, errors.ErrFilesystem, "cannot clear staging").WithDetail("path", p)
		}
	}
	return nil
}

func splitDigest(d string) (string, string, bool) {
	if d == "" {
		return "", "", false
	}
	typ, hexPart, ok := strings.Cut(d, ":")
	if !ok {
		return manifest.HashSHA256, strings.ToLower(d), true
	}
	return strings.ToLower(typ), strings.ToLower(hexPart), true
}

func newHash(typ string) hash.Hash {
	switch typ {
	case manifest.HashSHA1:
		return sha1.New()
	case manifest.HashSHA256:
		return sha256.New()
	case manifest.HashSHA512:
		return sha512.New()
	default:
		return nil
	}
}

// DigestReader returns the digest of r in the form stored in entries
func DigestReader(r io.Reader) (string, error) {
	sum := sha256.New()
	if _, err := io.Copy(sum, r); err != nil {
		return "", err
	}
	return manifest.HashSHA256 + ":" + hex.EncodeToString(sum.Sum(nil)), nil
}
